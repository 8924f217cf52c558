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

package ethereum

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"

	"github.com/guardianvault/custody/crypto"
)

// Keccak256 hashes data with the legacy (pre-NIST) Keccak used across
// Ethereum.
func Keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// AddressFromPubKey derives the 20-byte account address: the last 20
// bytes of Keccak-256 over the uncompressed public key without its 0x04
// prefix.
func AddressFromPubKey(pub *crypto.ECPoint) ([]byte, error) {
	if pub == nil || pub.IsIdentity() {
		return nil, errors.New("cannot derive an address for the identity")
	}
	uncompressed := make([]byte, 64)
	pub.X().FillBytes(uncompressed[:32])
	pub.Y().FillBytes(uncompressed[32:])
	hash := Keccak256(uncompressed)
	return hash[12:], nil
}

// ChecksumAddress renders a 20-byte address with the EIP-55 mixed-case
// checksum.
func ChecksumAddress(addr []byte) (string, error) {
	if len(addr) != 20 {
		return "", errors.Errorf("address must be 20 bytes, got %d", len(addr))
	}
	lower := hex.EncodeToString(addr)
	hash := Keccak256([]byte(lower))

	var b strings.Builder
	b.WriteString("0x")
	for i, c := range lower {
		if c >= 'a' && c <= 'f' {
			// uppercase when the corresponding checksum nibble is >= 8
			nibble := hash[i/2]
			if i%2 == 0 {
				nibble >>= 4
			}
			if nibble&0x08 != 0 {
				b.WriteByte(byte(c) - 'a' + 'A')
				continue
			}
		}
		b.WriteByte(byte(c))
	}
	return b.String(), nil
}

// ParseAddress decodes a 0x-prefixed hex address, accepting either case.
func ParseAddress(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 40 {
		return nil, errors.Errorf("address must be 40 hex chars, got %d", len(s))
	}
	return hex.DecodeString(strings.ToLower(s))
}
