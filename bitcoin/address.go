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

// Package bitcoin issues receive addresses from vault public keys and
// builds the bit-exact transaction digests the signing ceremony consumes.
package bitcoin

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ripemd160"

	"github.com/guardianvault/custody/crypto"
)

// Hash160 is RIPEMD160(SHA256(b)), the pubkey hash both legacy and segwit
// v0 addresses commit to.
func Hash160(b []byte) []byte {
	sha := sha256.Sum256(b)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	return ripe.Sum(nil)
}

// P2PKHAddress returns the Base58Check legacy address for a public key.
func P2PKHAddress(pub *crypto.ECPoint, net *chaincfg.Params) (string, error) {
	if pub == nil || pub.IsIdentity() {
		return "", errors.New("cannot issue an address for the identity")
	}
	h160 := Hash160(pub.SerializeCompressed())
	return base58.CheckEncode(h160, net.PubKeyHashAddrID), nil
}

// P2WPKHAddress returns the bech32 native segwit v0 address.
func P2WPKHAddress(pub *crypto.ECPoint, net *chaincfg.Params) (string, error) {
	if pub == nil || pub.IsIdentity() {
		return "", errors.New("cannot issue an address for the identity")
	}
	h160 := Hash160(pub.SerializeCompressed())
	converted, err := bech32.ConvertBits(h160, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(net.Bech32HRPSegwit, append([]byte{0x00}, converted...))
}

// P2TRAddress returns the bech32m segwit v1 address for the x-only form
// of the public key. Receive-only: the engine cannot produce the Schnorr
// signatures P2TR spending requires.
func P2TRAddress(pub *crypto.ECPoint, net *chaincfg.Params) (string, error) {
	if pub == nil || pub.IsIdentity() {
		return "", errors.New("cannot issue an address for the identity")
	}
	xOnly := pub.SerializeCompressed()[1:]
	converted, err := bech32.ConvertBits(xOnly, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.EncodeM(net.Bech32HRPSegwit, append([]byte{0x01}, converted...))
}

// DecodeAddress parses any of the three supported address forms back into
// btcutil's representation, primarily for tests and script construction.
func DecodeAddress(addr string, net *chaincfg.Params) (btcutil.Address, error) {
	decoded, err := btcutil.DecodeAddress(addr, net)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid address %q", addr)
	}
	return decoded, nil
}

// P2PKHScript builds the scriptPubKey OP_DUP OP_HASH160 <h160>
// OP_EQUALVERIFY OP_CHECKSIG. It doubles as the scriptCode for both the
// legacy and the BIP-143 digests.
func P2PKHScript(pubKeyHash []byte) ([]byte, error) {
	if len(pubKeyHash) != 20 {
		return nil, errors.Errorf("pubkey hash must be 20 bytes, got %d", len(pubKeyHash))
	}
	script := make([]byte, 0, 25)
	script = append(script, 0x76, 0xa9, 0x14) // OP_DUP OP_HASH160 PUSH20
	script = append(script, pubKeyHash...)
	script = append(script, 0x88, 0xac) // OP_EQUALVERIFY OP_CHECKSIG
	return script, nil
}

// P2WPKHScript builds the scriptPubKey OP_0 <20-byte hash>.
func P2WPKHScript(pubKeyHash []byte) ([]byte, error) {
	if len(pubKeyHash) != 20 {
		return nil, errors.Errorf("pubkey hash must be 20 bytes, got %d", len(pubKeyHash))
	}
	script := make([]byte, 0, 22)
	script = append(script, 0x00, 0x14)
	return append(script, pubKeyHash...), nil
}
