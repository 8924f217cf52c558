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

package ckd_test

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardianvault/custody/crypto"
	"github.com/guardianvault/custody/crypto/ckd"
)

func TestParseDerivationPath(t *testing.T) {
	indices, err := ckd.ParseDerivationPath("m/44'/60'/0'/0/5")
	require.NoError(t, err)
	assert.Equal(t, []uint32{
		ckd.HardenedKeyStart + 44,
		ckd.HardenedKeyStart + 60,
		ckd.HardenedKeyStart,
		0,
		5,
	}, indices)

	indices, err = ckd.ParseDerivationPath("0/1")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1}, indices)

	for _, variant := range []string{"m/44h/0H/1'", "44'/0'/1'"} {
		indices, err = ckd.ParseDerivationPath(variant)
		require.NoError(t, err, variant)
		assert.Len(t, indices, 3)
	}

	_, err = ckd.ParseDerivationPath("m/abc")
	assert.Error(t, err)
}

func TestFormatPathRoundTrip(t *testing.T) {
	path := "m/44'/0'/0'/1/7"
	indices, err := ckd.ParseDerivationPath(path)
	require.NoError(t, err)
	assert.Equal(t, path, ckd.FormatPath(indices))
}

// BIP-32 test vector 1: the master xpub of seed 000102...0e0f.
func TestExtendedKeySerializationVector(t *testing.T) {
	seed, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f")

	mac := hmac.New(sha512.New, []byte("Bitcoin seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)

	master := new(big.Int).SetBytes(sum[:32])
	pub := crypto.ScalarBaseMult(crypto.S256(), master)

	xpub, err := ckd.NewMasterExtendedKey(pub, sum[32:], &chaincfg.MainNetParams)
	require.NoError(t, err)

	const want = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"
	assert.Equal(t, want, xpub.String())

	parsed, err := ckd.ParseExtendedKey(xpub.String())
	require.NoError(t, err)
	assert.True(t, parsed.PublicKey.Equals(pub))
	assert.Equal(t, xpub.ChainCode, parsed.ChainCode)
	assert.Equal(t, xpub.Depth, parsed.Depth)
}

func TestParseExtendedKeyRejectsCorruption(t *testing.T) {
	_, err := ckd.ParseExtendedKey("xpub-definitely-not-valid")
	assert.Error(t, err)
}

// DeriveChildKey must agree with btcd's hdkeychain for public derivation.
func TestDeriveChildKeyMatchesHdkeychain(t *testing.T) {
	seed, _ := hex.DecodeString("fffcf9f6f3f0edeae7e4e1dedbd8d5d2cfccc9c6c3c0bdbab7b4b1aeaba8a5a2")

	mac := hmac.New(sha512.New, []byte("Bitcoin seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)

	master := new(big.Int).SetBytes(sum[:32])
	pub := crypto.ScalarBaseMult(crypto.S256(), master)

	ours, err := ckd.NewMasterExtendedKey(pub, sum[32:], &chaincfg.MainNetParams)
	require.NoError(t, err)

	theirs := hdkeychain.NewExtendedKey(
		chaincfg.MainNetParams.HDPublicKeyID[:],
		pub.SerializeCompressed(),
		sum[32:],
		[]byte{0x00, 0x00, 0x00, 0x00},
		0, 0, false,
	)

	for _, index := range []uint32{0, 1, 44, 1000} {
		_, ourChild, err := ckd.DeriveChildKey(index, ours)
		require.NoError(t, err)

		theirChild, err := theirs.Derive(index)
		require.NoError(t, err)
		theirPub, err := theirChild.ECPubKey()
		require.NoError(t, err)

		assert.Equal(t, theirPub.SerializeCompressed(), ourChild.PublicKey.SerializeCompressed(),
			"child %d diverged from hdkeychain", index)
	}
}

func TestDeriveChildKeyRejectsHardened(t *testing.T) {
	seed, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	mac := hmac.New(sha512.New, []byte("Bitcoin seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	pub := crypto.ScalarBaseMult(crypto.S256(), new(big.Int).SetBytes(sum[:32]))
	xpub, err := ckd.NewMasterExtendedKey(pub, sum[32:], &chaincfg.MainNetParams)
	require.NoError(t, err)

	_, _, err = ckd.DeriveChildKey(ckd.HardenedKeyStart, xpub)
	assert.Error(t, err)
}

func TestChainCodeAgreement(t *testing.T) {
	chainCode := make([]byte, 32)
	chainCode[0] = 0xaa

	good := ckd.ChainCodeCommitment(chainCode)
	bad := ckd.ChainCodeCommitment(append([]byte{0xbb}, chainCode[1:]...))

	assert.NoError(t, ckd.VerifyChainCodeAgreement(chainCode, map[int][]byte{1: good, 2: good, 3: good}))

	err := ckd.VerifyChainCodeAgreement(chainCode, map[int][]byte{1: good, 2: bad, 3: good})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "party 2")
}
