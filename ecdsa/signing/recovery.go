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

package signing

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/guardianvault/custody/common"
	"github.com/guardianvault/custody/crypto"
)

// ErrVNotRecoverable is returned when neither recovery candidate yields
// the expected public key. This indicates an earlier protocol error and is
// not retryable.
var ErrVNotRecoverable = errors.New("v not recoverable")

// RecoverPubKey recovers the candidate public key from (z, v, r, s):
//
//	Q = r^-1 * (s*R - z*G),  R = lift_x(r, parity v)
func RecoverPubKey(z []byte, v byte, r, s *big.Int) (*crypto.ECPoint, error) {
	if v > 1 {
		return nil, errors.Errorf("recovery id must be 0 or 1, got %d", v)
	}
	curve := crypto.S256()
	q := curve.Params().N
	modQ := common.ModInt(q)

	Rcand, err := crypto.LiftX(curve, r, v)
	if err != nil {
		return nil, err
	}
	zInt := new(big.Int).SetBytes(z)

	sR := Rcand.ScalarMult(s)
	zG := crypto.ScalarBaseMult(curve, modQ.Neg(zInt))
	sum, err := sR.Add(zG)
	if err != nil {
		return nil, err
	}
	return sum.ScalarMult(modQ.Inverse(r)), nil
}

// RecoverV determines the recovery id for a finished signature by testing
// both candidates deterministically, 0 then 1. Exactly one should match
// the aggregate public key; neither matching means the ceremony produced
// an inconsistent signature.
func RecoverV(sig *Signature, z []byte, pub *crypto.ECPoint) (byte, error) {
	for v := byte(0); v <= 1; v++ {
		q, err := RecoverPubKey(z, v, sig.R, sig.S)
		if err != nil {
			continue
		}
		if q.Equals(pub) {
			return v, nil
		}
	}
	return 0, ErrVNotRecoverable
}

// LegacyV encodes a recovery id per EIP-155: v = chain_id*2 + 35 + recid.
func LegacyV(chainID *big.Int, recID byte) *big.Int {
	v := new(big.Int).Mul(chainID, big.NewInt(2))
	return v.Add(v, big.NewInt(int64(35+recID)))
}

// RecIDFromLegacyV inverts LegacyV.
func RecIDFromLegacyV(chainID, v *big.Int) (byte, error) {
	base := new(big.Int).Mul(chainID, big.NewInt(2))
	base.Add(base, big.NewInt(35))
	diff := new(big.Int).Sub(v, base)
	if diff.Sign() < 0 || diff.Cmp(big.NewInt(1)) > 0 {
		return 0, errors.Errorf("v %s is not valid for chain id %s", v, chainID)
	}
	return byte(diff.Uint64()), nil
}
