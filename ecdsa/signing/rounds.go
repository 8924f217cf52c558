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

// Package signing implements the four-round n-of-n threshold ECDSA
// protocol over secp256k1. Rounds 1 and 3 run on every guardian in
// parallel; rounds 2 and 4 are coordinator combine steps. The model is
// honest-but-curious: the coordinator learns k = sum(k_i) but never any
// key share.
package signing

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/pkg/errors"

	"github.com/guardianvault/custody/common"
	"github.com/guardianvault/custody/crypto"
	"github.com/guardianvault/custody/crypto/shares"
)

var (
	// ErrIdentityR is returned when the combined nonce point is the
	// identity; the session must restart with fresh nonces.
	ErrIdentityR = errors.New("combined R is the identity")

	// ErrDegenerateR is returned when r = 0 or k = 0 after combining.
	ErrDegenerateR = errors.New("degenerate r or k")

	// ErrSignatureInvalid is returned when the combined signature fails
	// standard ECDSA verification against the aggregate public key.
	ErrSignatureInvalid = errors.New("combined signature failed verification")
)

// Round1Submission is one guardian's nonce contribution: R_i = k_i * G.
// K_i travels to the coordinator because the simplified protocol has the
// coordinator compute k = sum(k_i); see the package comment.
type Round1Submission struct {
	R *crypto.ECPoint
	K *big.Int
}

// Round1Generate samples a fresh nonce k_i in [1, n) and returns the
// submission for the coordinator. A nonce must never be reused across
// sessions; the caller discards it once the submission is sent.
func Round1Generate() (*Round1Submission, error) {
	q := crypto.S256().Params().N
	ki := common.GetRandomScalar(q)
	if ki == nil {
		return nil, errors.New("nonce sampling failed")
	}
	Ri := crypto.ScalarBaseMultConstTime(crypto.S256(), ki)
	return &Round1Submission{R: Ri, K: ki}, nil
}

// Round2Broadcast is the coordinator's combined nonce data, broadcast to
// every guardian before round 3.
type Round2Broadcast struct {
	R *crypto.ECPoint
	// Rx mod n
	SigR *big.Int
	// k = sum(k_i) mod n
	K *big.Int
}

// CombineRound1 folds all round-1 submissions into (R, r, k). The caller
// must have verified that exactly n_parties distinct submissions are
// present.
func CombineRound1(subs []*Round1Submission) (*Round2Broadcast, error) {
	if len(subs) == 0 {
		return nil, errors.New("no round 1 submissions")
	}
	q := crypto.S256().Params().N
	modQ := common.ModInt(q)

	R := crypto.Identity(crypto.S256())
	k := big.NewInt(0)
	var err error
	for _, sub := range subs {
		if sub == nil || sub.R == nil || sub.K == nil {
			return nil, errors.New("incomplete round 1 submission")
		}
		if R, err = R.Add(sub.R); err != nil {
			return nil, err
		}
		k = modQ.Add(k, sub.K)
	}

	if R.IsIdentity() {
		return nil, ErrIdentityR
	}
	r := new(big.Int).Mod(R.X(), q)
	if r.Sign() == 0 || k.Sign() == 0 {
		return nil, ErrDegenerateR
	}
	return &Round2Broadcast{R: R, SigR: r, K: k}, nil
}

// Round3Sign computes a guardian's partial signature
//
//	s_i = k^-1 * (z / n_parties + r * x_i)  (mod n)
//
// z is divided by n_parties so that summing the n partials yields
// k^-1 * (z + r * x) exactly once.
func Round3Sign(share *shares.KeyShare, z []byte, r, k *big.Int, nParties int) (*big.Int, error) {
	if share == nil || share.Value == nil {
		return nil, errors.New("missing key share")
	}
	if len(z) != 32 {
		return nil, errors.Errorf("message hash must be 32 bytes, got %d", len(z))
	}
	if nParties < 2 || share.NParties != nParties {
		return nil, errors.Errorf("party count mismatch: share says %d, ceremony says %d", share.NParties, nParties)
	}
	q := crypto.S256().Params().N
	modQ := common.ModInt(q)
	if r == nil || r.Sign() == 0 || !common.IsInInterval(r, q) {
		return nil, ErrDegenerateR
	}
	if k == nil || k.Sign() == 0 || !common.IsInInterval(k, q) {
		return nil, ErrDegenerateR
	}

	zInt := new(big.Int).SetBytes(z)
	zSlice := modQ.Div(zInt, big.NewInt(int64(nParties)))
	rx := modQ.Mul(r, share.Value)
	si := modQ.Mul(modQ.Inverse(k), modQ.Add(zSlice, rx))
	return si, nil
}

// Signature is a finished ECDSA signature. S is always low-S normalized.
type Signature struct {
	R *big.Int
	S *big.Int
}

// CombineRound3 sums the partial signatures, applies low-S normalization,
// and verifies the result against the aggregate public key. Verification
// failure is terminal for the session: it means a guardian produced an
// inconsistent partial, which the honest-but-curious model does not
// tolerate silently.
func CombineRound3(sis []*big.Int, r *big.Int, z []byte, pub *crypto.ECPoint) (*Signature, error) {
	if len(sis) == 0 {
		return nil, errors.New("no round 3 submissions")
	}
	if len(z) != 32 {
		return nil, errors.Errorf("message hash must be 32 bytes, got %d", len(z))
	}
	q := crypto.S256().Params().N
	modQ := common.ModInt(q)

	s := big.NewInt(0)
	for _, si := range sis {
		if si == nil {
			return nil, errors.New("incomplete round 3 submission")
		}
		s = modQ.Add(s, si)
	}
	if s.Sign() == 0 {
		return nil, ErrSignatureInvalid
	}

	s = NormalizeS(s)

	if !ecdsa.Verify(pub.ToECDSAPubKey(), z, r, s) {
		return nil, ErrSignatureInvalid
	}
	return &Signature{R: r, S: s}, nil
}

// NormalizeS applies the BIP-62 low-S rule: s > n/2 becomes n - s.
func NormalizeS(s *big.Int) *big.Int {
	q := crypto.S256().Params().N
	halfQ := new(big.Int).Rsh(q, 1)
	if s.Cmp(halfQ) > 0 {
		return new(big.Int).Sub(q, s)
	}
	return new(big.Int).Set(s)
}

// IsLowS reports whether s satisfies the low-S rule.
func IsLowS(s *big.Int) bool {
	halfQ := new(big.Int).Rsh(crypto.S256().Params().N, 1)
	return s.Cmp(halfQ) <= 0
}
