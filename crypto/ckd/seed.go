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

package ckd

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"

	"github.com/guardianvault/custody/common"
)

// SeedBytes is the master seed length used by the setup ceremony.
const SeedBytes = 32

// seedModulus is 2^256; seed shares combine additively inside it.
var seedModulus = new(big.Int).Lsh(big.NewInt(1), 256)

// NewMasterSeed generates a fresh 256-bit master seed together with its
// BIP-39 mnemonic backup phrase. The mnemonic exists so a vault operator
// can escrow the ceremony input offline; it must be destroyed once the
// seed shares are distributed.
func NewMasterSeed() ([]byte, string, error) {
	entropy, err := bip39.NewEntropy(SeedBytes * 8)
	if err != nil {
		return nil, "", errors.Wrap(err, "entropy generation failed")
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", errors.Wrap(err, "mnemonic generation failed")
	}
	return entropy, mnemonic, nil
}

// SeedFromMnemonic recovers the ceremony seed from its mnemonic phrase.
func SeedFromMnemonic(mnemonic string) ([]byte, error) {
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, errors.Wrap(err, "invalid mnemonic")
	}
	if len(entropy) != SeedBytes {
		return nil, errors.Errorf("mnemonic encodes %d bytes of entropy, want %d", len(entropy), SeedBytes)
	}
	return entropy, nil
}

// SplitSeed additively splits a 256-bit master seed into nParties shares
// modulo 2^256. The seed is recoverable only from all shares together.
func SplitSeed(seed []byte, nParties int) ([][]byte, error) {
	if len(seed) != SeedBytes {
		return nil, errors.Errorf("seed must be %d bytes, got %d", SeedBytes, len(seed))
	}
	if nParties < 2 {
		return nil, errors.Errorf("need at least 2 parties, got %d", nParties)
	}

	seedInt := new(big.Int).SetBytes(seed)
	acc := big.NewInt(0)
	out := make([][]byte, nParties)
	for i := 0; i < nParties-1; i++ {
		share, err := common.GetRandomBytes(SeedBytes)
		if err != nil {
			return nil, err
		}
		out[i] = share
		acc.Add(acc, new(big.Int).SetBytes(share))
	}
	last := new(big.Int).Sub(seedInt, acc)
	last.Mod(last, seedModulus)

	lastBytes := make([]byte, SeedBytes)
	last.FillBytes(lastBytes)
	out[nParties-1] = lastBytes
	return out, nil
}

// CombineSeedShares reassembles the seed from all shares. Only the setup
// ceremony may call this, and only to verify a fresh split before the
// plaintext seed is destroyed.
func CombineSeedShares(sharesBytes [][]byte) ([]byte, error) {
	if len(sharesBytes) < 2 {
		return nil, errors.New("need all seed shares")
	}
	acc := big.NewInt(0)
	for i, s := range sharesBytes {
		if len(s) != SeedBytes {
			return nil, errors.Errorf("seed share %d has %d bytes, want %d", i, len(s), SeedBytes)
		}
		acc.Add(acc, new(big.Int).SetBytes(s))
	}
	acc.Mod(acc, seedModulus)
	out := make([]byte, SeedBytes)
	acc.FillBytes(out)
	return out, nil
}
