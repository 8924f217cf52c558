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
	"crypto/rand"
	"math/big"
)

const (
	mustGetRandomIntMaxBits = 5000
)

// MustGetRandomInt panics if it is unable to gather entropy from `rand.Reader`
// or when `bits` is out of range.
func MustGetRandomInt(bits int) *big.Int {
	if bits <= 0 || mustGetRandomIntMaxBits < bits {
		panic("MustGetRandomInt: bits should be positive, non-zero and less than " +
			"or equal to mustGetRandomIntMaxBits")
	}
	// Max random value, e.g. 2^256 - 1
	max := new(big.Int)
	max = max.Exp(two, big.NewInt(int64(bits)), nil).Sub(max, one)

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		panic("rand.Int failure in MustGetRandomInt!")
	}
	return n
}

// GetRandomPositiveInt returns a random int in [1, bound).
func GetRandomPositiveInt(bound *big.Int) *big.Int {
	if bound == nil || zero.Cmp(bound) != -1 {
		return nil
	}
	var try *big.Int
	for {
		try = MustGetRandomInt(bound.BitLen())
		if IsInInterval(try, bound) {
			break
		}
	}
	return try
}

// GetRandomScalar returns a uniformly random nonzero scalar mod q.
// Signing nonces MUST come from here: the sampler rejects 0 and draws from
// crypto/rand only, so the probability of cross-session reuse is negligible.
func GetRandomScalar(q *big.Int) *big.Int {
	return GetRandomPositiveInt(q)
}

// GetRandomBytes returns length cryptographically secure random bytes.
func GetRandomBytes(length int) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
