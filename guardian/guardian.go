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

// Package guardian holds the guardian-side protocol entry points. Both
// are pure functions of their inputs: all persistent ceremony state lives
// in the coordinator, and the key share never leaves the caller.
package guardian

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/guardianvault/custody/crypto/ckd"
	"github.com/guardianvault/custody/crypto/shares"
	"github.com/guardianvault/custody/ecdsa/signing"
)

// Round1Generate samples a fresh signing nonce and returns the wire forms
// (R_i: 33 bytes, k_i: 32 bytes). Invoked exactly once per session; the
// same output must never be submitted to two sessions.
func Round1Generate() (rBytes, kBytes []byte, err error) {
	sub, err := signing.Round1Generate()
	if err != nil {
		return nil, nil, err
	}
	return sub.R.SerializeCompressed(), signing.SerializeScalar(sub.K), nil
}

// Round3Sign descends the non-hardened path below the account share and
// produces this guardian's partial signature over z. The account xpub
// supplies the public parent data the derivation tweaks are computed from.
func Round3Sign(accountShare *shares.KeyShare, accountXpub *ckd.ExtendedKey, path string, z, r, kTotal []byte, nParties int) ([]byte, error) {
	if accountShare == nil || accountShare.Level != shares.LevelAccount {
		return nil, errors.New("signing requires an account-level share")
	}
	if len(r) != 32 || len(kTotal) != 32 {
		return nil, errors.New("r and k_total must be 32 bytes")
	}

	signingShare := accountShare
	if path != "" {
		indices, err := ckd.ParseDerivationPath(path)
		if err != nil {
			return nil, err
		}
		signingShare, _, err = ckd.DeriveNonHardenedShare(accountShare, accountXpub, indices)
		if err != nil {
			return nil, err
		}
	}

	si, err := signing.Round3Sign(
		signingShare,
		z,
		new(big.Int).SetBytes(r),
		new(big.Int).SetBytes(kTotal),
		nParties,
	)
	if err != nil {
		return nil, err
	}
	return signing.SerializeScalar(si), nil
}
