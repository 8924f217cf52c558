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

// Package ethereum builds the EIP-1559 and legacy EIP-155 signing
// payloads, serializes signed transactions, and derives checksummed
// addresses. The RLP encoder is canonical: the signing hash must be
// bit-exact, so nothing here tolerates alternative encodings.
package ethereum

import (
	"math/big"

	"github.com/pkg/errors"
)

// Item is one RLP value: either a string (byte slice) or a list.
type Item struct {
	str    []byte
	list   []*Item
	isList bool
}

// Bytes wraps a byte string as an RLP item.
func Bytes(b []byte) *Item {
	return &Item{str: b}
}

// BigInt encodes a nonnegative integer as its minimal big-endian bytes;
// zero encodes as the empty string.
func BigInt(v *big.Int) *Item {
	if v == nil || v.Sign() == 0 {
		return &Item{str: []byte{}}
	}
	return &Item{str: v.Bytes()}
}

// Uint64 is BigInt over a machine word.
func Uint64(v uint64) *Item {
	return BigInt(new(big.Int).SetUint64(v))
}

// List wraps items as an RLP list.
func List(items ...*Item) *Item {
	if items == nil {
		items = []*Item{}
	}
	return &Item{list: items, isList: true}
}

// IsList reports whether the item is a list.
func (it *Item) IsList() bool { return it.isList }

// Str returns the byte string of a string item.
func (it *Item) Str() []byte { return it.str }

// Elems returns the elements of a list item.
func (it *Item) Elems() []*Item { return it.list }

// Encode renders the item in canonical RLP.
func Encode(it *Item) []byte {
	if !it.isList {
		if len(it.str) == 1 && it.str[0] < 0x80 {
			return []byte{it.str[0]}
		}
		return append(encodeLength(len(it.str), 0x80), it.str...)
	}
	var payload []byte
	for _, elem := range it.list {
		payload = append(payload, Encode(elem)...)
	}
	return append(encodeLength(len(payload), 0xc0), payload...)
}

func encodeLength(length int, base byte) []byte {
	if length <= 55 {
		return []byte{base + byte(length)}
	}
	lenBytes := new(big.Int).SetInt64(int64(length)).Bytes()
	out := []byte{base + 55 + byte(len(lenBytes))}
	return append(out, lenBytes...)
}

// Decode parses canonical RLP, rejecting trailing bytes and any
// non-minimal form: long-form lengths for short payloads, length bytes
// with leading zeros, and single bytes below 0x80 wrapped in a string
// header.
func Decode(bz []byte) (*Item, error) {
	item, rest, err := decodeItem(bz)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errors.Errorf("rlp: %d trailing bytes", len(rest))
	}
	return item, nil
}

func decodeItem(bz []byte) (*Item, []byte, error) {
	if len(bz) == 0 {
		return nil, nil, errors.New("rlp: empty input")
	}
	prefix := bz[0]
	switch {
	case prefix < 0x80:
		return &Item{str: []byte{prefix}}, bz[1:], nil

	case prefix <= 0xb7:
		length := int(prefix - 0x80)
		if len(bz) < 1+length {
			return nil, nil, errors.New("rlp: short string payload")
		}
		payload := bz[1 : 1+length]
		if length == 1 && payload[0] < 0x80 {
			return nil, nil, errors.New("rlp: single byte should be encoded as itself")
		}
		return &Item{str: append([]byte(nil), payload...)}, bz[1+length:], nil

	case prefix <= 0xbf:
		length, rest, err := decodeLongLength(bz, 0xb7)
		if err != nil {
			return nil, nil, err
		}
		if len(rest) < length {
			return nil, nil, errors.New("rlp: short string payload")
		}
		return &Item{str: append([]byte(nil), rest[:length]...)}, rest[length:], nil

	case prefix <= 0xf7:
		length := int(prefix - 0xc0)
		if len(bz) < 1+length {
			return nil, nil, errors.New("rlp: short list payload")
		}
		return decodeListPayload(bz[1:1+length], bz[1+length:])

	default:
		length, rest, err := decodeLongLength(bz, 0xf7)
		if err != nil {
			return nil, nil, err
		}
		if len(rest) < length {
			return nil, nil, errors.New("rlp: short list payload")
		}
		return decodeListPayload(rest[:length], rest[length:])
	}
}

func decodeLongLength(bz []byte, base byte) (int, []byte, error) {
	lenOfLen := int(bz[0] - base)
	if len(bz) < 1+lenOfLen {
		return 0, nil, errors.New("rlp: truncated length")
	}
	lenBytes := bz[1 : 1+lenOfLen]
	if lenBytes[0] == 0 {
		return 0, nil, errors.New("rlp: length has leading zero")
	}
	length := new(big.Int).SetBytes(lenBytes)
	if !length.IsInt64() || length.Int64() > int64(len(bz)) {
		return 0, nil, errors.New("rlp: length out of range")
	}
	if length.Int64() <= 55 {
		return 0, nil, errors.New("rlp: long form used for short payload")
	}
	return int(length.Int64()), bz[1+lenOfLen:], nil
}

func decodeListPayload(payload, rest []byte) (*Item, []byte, error) {
	items := []*Item{}
	for len(payload) > 0 {
		item, remaining, err := decodeItem(payload)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, item)
		payload = remaining
	}
	return &Item{list: items, isList: true}, rest, nil
}
