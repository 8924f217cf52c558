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

package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/pkg/errors"

	"github.com/guardianvault/custody/common"
)

// ErrInvalidPoint is returned when bytes or coordinates do not describe a
// point on the curve.
var ErrInvalidPoint = errors.New("invalid point")

// S256 returns the secp256k1 curve every key and nonce in the engine lives on.
func S256() elliptic.Curve {
	return btcec.S256()
}

// ECPoint represents an affine point on an elliptic curve. The point at
// infinity is represented by the coordinate pair (0, 0), which is also how
// the underlying curve arithmetic denotes it.
type ECPoint struct {
	curve  elliptic.Curve
	coords [2]*big.Int
}

// NewECPoint creates a new ECPoint and validates that it is on the curve.
func NewECPoint(curve elliptic.Curve, X, Y *big.Int) (*ECPoint, error) {
	if !isOnCurve(curve, X, Y) {
		return nil, ErrInvalidPoint
	}
	return &ECPoint{curve, [2]*big.Int{X, Y}}, nil
}

// NewECPointNoCurveCheck creates an ECPoint without validating it. Use only
// for points that are known to be the output of curve arithmetic.
func NewECPointNoCurveCheck(curve elliptic.Curve, X, Y *big.Int) *ECPoint {
	return &ECPoint{curve, [2]*big.Int{X, Y}}
}

// Identity returns the point at infinity on the given curve.
func Identity(curve elliptic.Curve) *ECPoint {
	return &ECPoint{curve, [2]*big.Int{big.NewInt(0), big.NewInt(0)}}
}

func (p *ECPoint) X() *big.Int { return new(big.Int).Set(p.coords[0]) }

func (p *ECPoint) Y() *big.Int { return new(big.Int).Set(p.coords[1]) }

func (p *ECPoint) Curve() elliptic.Curve { return p.curve }

// IsIdentity reports whether p is the point at infinity.
func (p *ECPoint) IsIdentity() bool {
	return p.coords[0].Sign() == 0 && p.coords[1].Sign() == 0
}

// YParity returns 1 when the y coordinate is odd, 0 when even. This is the
// ECDSA recovery bit for a signature whose R has this point's parity.
func (p *ECPoint) YParity() byte {
	return byte(p.coords[1].Bit(0))
}

// Add returns p + p1.
func (p *ECPoint) Add(p1 *ECPoint) (*ECPoint, error) {
	x, y := p.curve.Add(p.coords[0], p.coords[1], p1.coords[0], p1.coords[1])
	return NewECPointNoCurveCheck(p.curve, x, y), nil
}

// ScalarMult returns k*p. It is NOT constant-time and must only be used
// with public scalars; see ScalarMultConstTime for secret material.
func (p *ECPoint) ScalarMult(k *big.Int) *ECPoint {
	kMod := new(big.Int).Mod(k, p.curve.Params().N)
	x, y := p.curve.ScalarMult(p.coords[0], p.coords[1], kMod.Bytes())
	return NewECPointNoCurveCheck(p.curve, x, y)
}

// ScalarMultConstTime returns k*p via a Montgomery ladder: every one of the
// 256 iterations performs exactly one addition and one doubling regardless
// of the key bit. Use this for every multiplication by a private share or
// signing nonce.
func (p *ECPoint) ScalarMultConstTime(k *big.Int) *ECPoint {
	kMod := new(big.Int).Mod(k, p.curve.Params().N)
	r0x, r0y := big.NewInt(0), big.NewInt(0)
	r1x, r1y := p.coords[0], p.coords[1]
	for i := 255; i >= 0; i-- {
		if kMod.Bit(i) == 1 {
			r0x, r0y = p.curve.Add(r0x, r0y, r1x, r1y)
			r1x, r1y = p.curve.Double(r1x, r1y)
		} else {
			r1x, r1y = p.curve.Add(r0x, r0y, r1x, r1y)
			r0x, r0y = p.curve.Double(r0x, r0y)
		}
	}
	return NewECPointNoCurveCheck(p.curve, r0x, r0y)
}

// ScalarBaseMult returns k*G on the given curve.
func ScalarBaseMult(curve elliptic.Curve, k *big.Int) *ECPoint {
	kMod := new(big.Int).Mod(k, curve.Params().N)
	x, y := curve.ScalarBaseMult(kMod.Bytes())
	return NewECPointNoCurveCheck(curve, x, y)
}

// ScalarBaseMultConstTime returns k*G with the constant-time ladder.
func ScalarBaseMultConstTime(curve elliptic.Curve, k *big.Int) *ECPoint {
	g := NewECPointNoCurveCheck(curve, curve.Params().Gx, curve.Params().Gy)
	return g.ScalarMultConstTime(k)
}

func (p *ECPoint) Equals(p2 *ECPoint) bool {
	if p == nil || p2 == nil {
		return false
	}
	return p.coords[0].Cmp(p2.coords[0]) == 0 && p.coords[1].Cmp(p2.coords[1]) == 0
}

func (p *ECPoint) IsOnCurve() bool {
	return isOnCurve(p.curve, p.coords[0], p.coords[1])
}

// SerializeCompressed returns the 33-byte SEC1 compressed encoding. The
// identity encodes as 33 zero bytes.
func (p *ECPoint) SerializeCompressed() []byte {
	if p.IsIdentity() {
		return make([]byte, 33)
	}
	out := make([]byte, 33)
	out[0] = 0x02 | p.YParity()
	p.coords[0].FillBytes(out[1:])
	return out
}

// ParseCompressed decodes a 33-byte SEC1 compressed point. 33 zero bytes
// decode to the identity.
func ParseCompressed(curve elliptic.Curve, bz []byte) (*ECPoint, error) {
	if len(bz) != 33 {
		return nil, errors.Wrapf(ErrInvalidPoint, "compressed point must be 33 bytes, got %d", len(bz))
	}
	allZero := true
	for _, b := range bz {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return Identity(curve), nil
	}
	pk, err := btcec.ParsePubKey(bz)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidPoint, err.Error())
	}
	return NewECPointNoCurveCheck(curve, pk.X(), pk.Y()), nil
}

// LiftX lifts an x coordinate to the curve point with the requested y
// parity (0 = even, 1 = odd). Returns ErrInvalidPoint when no y exists.
func LiftX(curve elliptic.Curve, x *big.Int, parity byte) (*ECPoint, error) {
	params := curve.Params()
	if x.Sign() <= 0 || x.Cmp(params.P) >= 0 {
		return nil, ErrInvalidPoint
	}
	modP := common.ModInt(params.P)
	// y^2 = x^3 + b
	ySq := modP.Add(modP.Exp(x, big.NewInt(3)), params.B)
	// p = 3 mod 4, so y = (y^2)^((p+1)/4)
	exp := new(big.Int).Add(params.P, big.NewInt(1))
	exp.Rsh(exp, 2)
	y := modP.Exp(ySq, exp)
	if modP.Mul(y, y).Cmp(ySq) != 0 {
		return nil, ErrInvalidPoint
	}
	if byte(y.Bit(0)) != parity {
		y = modP.Neg(y)
	}
	return NewECPoint(curve, x, y)
}

// ToECDSAPubKey converts the point to a stdlib public key for verification.
func (p *ECPoint) ToECDSAPubKey() *ecdsa.PublicKey {
	return &ecdsa.PublicKey{Curve: p.curve, X: p.X(), Y: p.Y()}
}

func isOnCurve(c elliptic.Curve, x, y *big.Int) bool {
	if x == nil || y == nil {
		return false
	}
	if x.Sign() == 0 && y.Sign() == 0 {
		// point at infinity
		return true
	}
	return c.IsOnCurve(x, y)
}
