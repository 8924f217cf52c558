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
)

// SigHashAll is the Bitcoin SIGHASH_ALL type byte appended to DER
// signatures in scriptSigs and witness items.
const SigHashAll byte = 0x01

// Compact returns the 64-byte r || s encoding.
func (sig *Signature) Compact() []byte {
	out := make([]byte, 64)
	sig.R.FillBytes(out[:32])
	sig.S.FillBytes(out[32:])
	return out
}

// CompactWithV returns the 65-byte Ethereum encoding r || s || v.
func (sig *Signature) CompactWithV(v byte) []byte {
	return append(sig.Compact(), v)
}

// ParseCompact decodes a 64-byte compact signature.
func ParseCompact(bz []byte) (*Signature, error) {
	if len(bz) != 64 {
		return nil, errors.Errorf("compact signature must be 64 bytes, got %d", len(bz))
	}
	return &Signature{
		R: new(big.Int).SetBytes(bz[:32]),
		S: new(big.Int).SetBytes(bz[32:]),
	}, nil
}

// DER returns the ASN.1 DER encoding: SEQUENCE of two minimally-encoded
// INTEGERs.
func (sig *Signature) DER() []byte {
	rb := derInt(sig.R)
	sb := derInt(sig.S)
	body := make([]byte, 0, len(rb)+len(sb)+4)
	body = append(body, 0x02, byte(len(rb)))
	body = append(body, rb...)
	body = append(body, 0x02, byte(len(sb)))
	body = append(body, sb...)

	out := make([]byte, 0, len(body)+2)
	out = append(out, 0x30, byte(len(body)))
	return append(out, body...)
}

// DERWithSigHash returns the DER encoding with the trailing SIGHASH byte,
// as it appears in Bitcoin scriptSigs and witnesses.
func (sig *Signature) DERWithSigHash(hashType byte) []byte {
	return append(sig.DER(), hashType)
}

// derInt encodes a positive integer with a leading 0x00 only when the high
// bit of the first byte is set.
func derInt(v *big.Int) []byte {
	b := v.Bytes()
	if len(b) == 0 {
		b = []byte{0x00}
	}
	if b[0]&0x80 != 0 {
		b = append([]byte{0x00}, b...)
	}
	return b
}

// ParseDER decodes a DER signature (without a sighash byte) and rejects
// non-minimal integer encodings.
func ParseDER(bz []byte) (*Signature, error) {
	if len(bz) < 8 || bz[0] != 0x30 {
		return nil, errors.New("malformed DER signature")
	}
	if int(bz[1]) != len(bz)-2 {
		return nil, errors.New("DER length mismatch")
	}
	r, rest, err := parseDERInt(bz[2:])
	if err != nil {
		return nil, err
	}
	s, rest, err := parseDERInt(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errors.New("trailing bytes after DER signature")
	}
	return &Signature{R: r, S: s}, nil
}

func parseDERInt(bz []byte) (*big.Int, []byte, error) {
	if len(bz) < 2 || bz[0] != 0x02 {
		return nil, nil, errors.New("malformed DER integer")
	}
	l := int(bz[1])
	if l == 0 || len(bz) < 2+l {
		return nil, nil, errors.New("DER integer length out of range")
	}
	body := bz[2 : 2+l]
	if body[0]&0x80 != 0 {
		return nil, nil, errors.New("negative DER integer")
	}
	if l > 1 && body[0] == 0x00 && body[1]&0x80 == 0 {
		return nil, nil, errors.New("non-minimal DER integer")
	}
	return new(big.Int).SetBytes(body), bz[2+l:], nil
}

// SerializeScalar renders a scalar as exactly 32 big-endian bytes, the
// wire form used for k_i and s_i submissions.
func SerializeScalar(v *big.Int) []byte {
	return common.BigIntToBytes32(v)
}
