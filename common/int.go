// Copyright (c) 2024 GuardianVault contributors. All rights reserved.
//
//  SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"math/big"
)

var (
	zero = big.NewInt(0)
	one  = big.NewInt(1)
	two  = big.NewInt(2)
)

// modInt is a *big.Int that performs all of its arithmetic with a modulus.
type modInt big.Int

func ModInt(mod *big.Int) *modInt {
	return (*modInt)(mod)
}

func (mi *modInt) Add(x, y *big.Int) *big.Int {
	i := new(big.Int)
	i.Add(x, y)
	return i.Mod(i, mi.i())
}

func (mi *modInt) Sub(x, y *big.Int) *big.Int {
	i := new(big.Int)
	i.Sub(x, y)
	return i.Mod(i, mi.i())
}

func (mi *modInt) Mul(x, y *big.Int) *big.Int {
	i := new(big.Int)
	i.Mul(x, y)
	return i.Mod(i, mi.i())
}

func (mi *modInt) Exp(x, y *big.Int) *big.Int {
	return new(big.Int).Exp(x, y, mi.i())
}

func (mi *modInt) Neg(x *big.Int) *big.Int {
	i := new(big.Int)
	i.Neg(x)
	return i.Mod(i, mi.i())
}

// Inverse computes x^-1 via Fermat's little theorem: x^(m-2) mod m.
// The modulus must be prime; both secp256k1 moduli in use here are.
func (mi *modInt) Inverse(x *big.Int) *big.Int {
	exp := new(big.Int).Sub(mi.i(), two)
	return new(big.Int).Exp(x, exp, mi.i())
}

// Div multiplies x by the modular inverse of y.
func (mi *modInt) Div(x, y *big.Int) *big.Int {
	return mi.Mul(x, mi.Inverse(y))
}

func (mi *modInt) IsCongruent(x, y *big.Int) bool {
	return mi.Sub(x, y).Cmp(zero) == 0
}

func (mi *modInt) i() *big.Int {
	return (*big.Int)(mi)
}

// IsInInterval returns true when v is in [1, bound).
func IsInInterval(v, bound *big.Int) bool {
	return v.Cmp(bound) < 0 && v.Sign() > 0
}
