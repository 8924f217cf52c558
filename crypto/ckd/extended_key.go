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

// Package ckd implements BIP-32 child key derivation for the custody
// engine: plain public (xpub) derivation, and the threshold variant that
// applies derivation tweaks to additive key shares.
package ckd

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"math/big"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ripemd160"

	"github.com/guardianvault/custody/common"
	"github.com/guardianvault/custody/crypto"
)

const (
	// serializedKeyLen is version(4) || depth(1) || parentFP(4) ||
	// childnum(4) || chaincode(32) || key(33), per BIP-32.
	serializedKeyLen = 78

	maxDepth = 1<<8 - 1
)

// ExtendedKey is a BIP-32 extended public key. It is immutable after
// creation and freely shareable.
type ExtendedKey struct {
	PublicKey  *crypto.ECPoint
	Depth      uint8
	ChildIndex uint32
	ChainCode  []byte // 32 bytes
	ParentFP   []byte // 4 bytes
	Version    []byte // 4 bytes, selects mainnet/testnet
}

// NewMasterExtendedKey builds the depth-0 xpub for a master public key.
func NewMasterExtendedKey(pub *crypto.ECPoint, chainCode []byte, net *chaincfg.Params) (*ExtendedKey, error) {
	if len(chainCode) != 32 {
		return nil, errors.New("chain code must be 32 bytes")
	}
	return &ExtendedKey{
		PublicKey:  pub,
		Depth:      0,
		ChildIndex: 0,
		ChainCode:  append([]byte(nil), chainCode...),
		ParentFP:   []byte{0x00, 0x00, 0x00, 0x00},
		Version:    net.HDPublicKeyID[:],
	}, nil
}

// String serializes the extended key per BIP-32, Base58Check-encoded over
// 78 bytes.
func (k *ExtendedKey) String() string {
	var childNumBytes [4]byte
	binary.BigEndian.PutUint32(childNumBytes[:], k.ChildIndex)

	serialized := make([]byte, 0, serializedKeyLen+4)
	serialized = append(serialized, k.Version...)
	serialized = append(serialized, k.Depth)
	serialized = append(serialized, k.ParentFP...)
	serialized = append(serialized, childNumBytes[:]...)
	serialized = append(serialized, k.ChainCode...)
	serialized = append(serialized, k.PublicKey.SerializeCompressed()...)

	checkSum := doubleHashB(serialized)[:4]
	serialized = append(serialized, checkSum...)
	return base58.Encode(serialized)
}

// ParseExtendedKey decodes a Base58Check xpub string.
func ParseExtendedKey(key string) (*ExtendedKey, error) {
	decoded := base58.Decode(key)
	if len(decoded) != serializedKeyLen+4 {
		return nil, errors.New("invalid extended key length")
	}

	payload := decoded[:len(decoded)-4]
	checkSum := decoded[len(decoded)-4:]
	expected := doubleHashB(payload)[:4]
	if !bytes.Equal(checkSum, expected) {
		return nil, errors.New("invalid extended key checksum")
	}

	version := payload[:4]
	depth := payload[4]
	parentFP := payload[5:9]
	childNum := binary.BigEndian.Uint32(payload[9:13])
	chainCode := payload[13:45]
	keyData := payload[45:78]

	pub, err := crypto.ParseCompressed(crypto.S256(), keyData)
	if err != nil {
		return nil, errors.Wrap(err, "invalid extended key public point")
	}

	return &ExtendedKey{
		PublicKey:  pub,
		Depth:      depth,
		ChildIndex: childNum,
		ChainCode:  append([]byte(nil), chainCode...),
		ParentFP:   append([]byte(nil), parentFP...),
		Version:    append([]byte(nil), version...),
	}, nil
}

// Fingerprint returns the first 4 bytes of hash160 of the compressed key.
func (k *ExtendedKey) Fingerprint() []byte {
	return hash160(k.PublicKey.SerializeCompressed())[:4]
}

// DeriveChildKey derives the non-hardened child xpub at index and returns
// the BIP-32 tweak I_L alongside it. Per BIP-32 the tweak depends only on
// the parent public key and chain code, so no share material is needed.
func DeriveChildKey(index uint32, pk *ExtendedKey) (*big.Int, *ExtendedKey, error) {
	if IsHardened(index) {
		return nil, nil, errors.New("the index must be non-hardened")
	}
	if pk.Depth == maxDepth {
		return nil, nil, errors.New("cannot derive key beyond max depth")
	}

	ilNum, childChainCode, err := NonHardenedTweak(pk.PublicKey, pk.ChainCode, index)
	if err != nil {
		return nil, nil, err
	}

	deltaG := crypto.ScalarBaseMult(crypto.S256(), ilNum)
	childPub, err := pk.PublicKey.Add(deltaG)
	if err != nil {
		return nil, nil, err
	}
	if childPub.IsIdentity() {
		return nil, nil, errors.New("invalid child: derived the identity")
	}

	childPk := &ExtendedKey{
		PublicKey:  childPub,
		Depth:      pk.Depth + 1,
		ChildIndex: index,
		ChainCode:  childChainCode,
		ParentFP:   pk.Fingerprint(),
		Version:    pk.Version,
	}
	return ilNum, childPk, nil
}

// DeriveChildKeyFromHierarchy walks a run of non-hardened indices and
// returns the accumulated tweak with the final xpub.
func DeriveChildKeyFromHierarchy(indices []uint32, pk *ExtendedKey) (*big.Int, *ExtendedKey, error) {
	q := crypto.S256().Params().N
	modQ := common.ModInt(q)
	k := pk
	ilSum := big.NewInt(0)
	for _, index := range indices {
		il, childKey, err := DeriveChildKey(index, k)
		if err != nil {
			return nil, nil, err
		}
		k = childKey
		ilSum = modQ.Add(ilSum, il)
	}
	return ilSum, k, nil
}

// NonHardenedTweak computes I_L and the child chain code for a
// non-hardened index from the parent public key and chain code.
func NonHardenedTweak(parentPub *crypto.ECPoint, chainCode []byte, index uint32) (*big.Int, []byte, error) {
	if IsHardened(index) {
		return nil, nil, errors.New("hardened index passed to non-hardened tweak")
	}
	if len(chainCode) != 32 {
		return nil, nil, errors.New("chain code must be 32 bytes")
	}

	data := make([]byte, 37)
	copy(data, parentPub.SerializeCompressed())
	binary.BigEndian.PutUint32(data[33:], index)

	return tweakFromHMAC(chainCode, data)
}

// hardenedTweakFromParentKey computes I_L and the child chain code for a
// hardened index. ser256 of the parent private scalar goes into the HMAC,
// which is why hardened descent is a collaborative ceremony.
func hardenedTweakFromParentKey(parentKey *big.Int, chainCode []byte, index uint32) (*big.Int, []byte, error) {
	if !IsHardened(index) {
		return nil, nil, errors.New("non-hardened index passed to hardened tweak")
	}
	if len(chainCode) != 32 {
		return nil, nil, errors.New("chain code must be 32 bytes")
	}

	data := make([]byte, 37)
	// data[0] = 0x00 pad byte per BIP-32
	parentKey.FillBytes(data[1:33])
	binary.BigEndian.PutUint32(data[33:], index)

	return tweakFromHMAC(chainCode, data)
}

func tweakFromHMAC(chainCode, data []byte) (*big.Int, []byte, error) {
	hmac512 := hmac.New(sha512.New, chainCode)
	hmac512.Write(data)
	ilr := hmac512.Sum(nil)
	il := ilr[:32]
	childChainCode := append([]byte(nil), ilr[32:]...)

	ilNum := new(big.Int).SetBytes(il)
	if ilNum.Cmp(crypto.S256().Params().N) >= 0 || ilNum.Sign() == 0 {
		// falling outside of the valid range for curve private keys
		common.Logger.Error("error deriving child key")
		return nil, nil, errors.New("invalid derived key")
	}
	return ilNum, childChainCode, nil
}

func doubleHashB(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}

func hash160(buf []byte) []byte {
	sha := sha256.Sum256(buf)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	return ripe.Sum(nil)
}
