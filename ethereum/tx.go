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
	"math/big"

	"github.com/pkg/errors"

	"github.com/guardianvault/custody/ecdsa/signing"
)

// DynamicFeeTxType is the EIP-2718 type byte of an EIP-1559 transaction.
const DynamicFeeTxType byte = 0x02

// DynamicFeeTx is an EIP-1559 transfer. The engine issues only empty
// access lists; the field exists in the payload as the mandatory empty
// RLP list.
type DynamicFeeTx struct {
	ChainID   *big.Int
	Nonce     uint64
	GasTipCap *big.Int // max_priority_fee_per_gas
	GasFeeCap *big.Int // max_fee_per_gas
	Gas       uint64
	To        []byte // 20 bytes; nil for contract creation
	Value     *big.Int
	Data      []byte
}

func (tx *DynamicFeeTx) validate() error {
	if tx.ChainID == nil || tx.ChainID.Sign() <= 0 {
		return errors.New("chain id must be positive")
	}
	if tx.To != nil && len(tx.To) != 20 {
		return errors.Errorf("to must be 20 bytes, got %d", len(tx.To))
	}
	return nil
}

func (tx *DynamicFeeTx) fields() []*Item {
	return []*Item{
		BigInt(tx.ChainID),
		Uint64(tx.Nonce),
		BigInt(tx.GasTipCap),
		BigInt(tx.GasFeeCap),
		Uint64(tx.Gas),
		Bytes(tx.To),
		BigInt(tx.Value),
		Bytes(tx.Data),
		List(), // access list
	}
}

// SigningHash returns Keccak-256(0x02 || rlp(payload)), the 32-byte z fed
// to the signing ceremony.
func (tx *DynamicFeeTx) SigningHash() ([]byte, error) {
	if err := tx.validate(); err != nil {
		return nil, err
	}
	payload := append([]byte{DynamicFeeTxType}, Encode(List(tx.fields()...))...)
	return Keccak256(payload), nil
}

// Serialize renders the broadcastable signed transaction with the
// signature's y-parity, r and s appended inside the list.
func (tx *DynamicFeeTx) Serialize(sig *signing.Signature, yParity byte) ([]byte, error) {
	if err := tx.validate(); err != nil {
		return nil, err
	}
	if yParity > 1 {
		return nil, errors.Errorf("y parity must be 0 or 1, got %d", yParity)
	}
	fields := append(tx.fields(),
		Uint64(uint64(yParity)),
		BigInt(sig.R),
		BigInt(sig.S),
	)
	return append([]byte{DynamicFeeTxType}, Encode(List(fields...))...), nil
}

// LegacyTx is a pre-1559 transfer with EIP-155 replay protection.
type LegacyTx struct {
	ChainID  *big.Int
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	To       []byte
	Value    *big.Int
	Data     []byte
}

func (tx *LegacyTx) validate() error {
	if tx.ChainID == nil || tx.ChainID.Sign() <= 0 {
		return errors.New("chain id must be positive")
	}
	if tx.To != nil && len(tx.To) != 20 {
		return errors.Errorf("to must be 20 bytes, got %d", len(tx.To))
	}
	return nil
}

// SigningHash returns Keccak-256(rlp([nonce, gas_price, gas, to, value,
// data, chain_id, 0, 0])) per EIP-155.
func (tx *LegacyTx) SigningHash() ([]byte, error) {
	if err := tx.validate(); err != nil {
		return nil, err
	}
	payload := Encode(List(
		Uint64(tx.Nonce),
		BigInt(tx.GasPrice),
		Uint64(tx.Gas),
		Bytes(tx.To),
		BigInt(tx.Value),
		Bytes(tx.Data),
		BigInt(tx.ChainID),
		BigInt(nil),
		BigInt(nil),
	))
	return Keccak256(payload), nil
}

// Serialize renders the signed transaction; v carries the EIP-155
// encoding chain_id*2 + 35 + recovery_id.
func (tx *LegacyTx) Serialize(sig *signing.Signature, recID byte) ([]byte, error) {
	if err := tx.validate(); err != nil {
		return nil, err
	}
	if recID > 1 {
		return nil, errors.Errorf("recovery id must be 0 or 1, got %d", recID)
	}
	v := signing.LegacyV(tx.ChainID, recID)
	return Encode(List(
		Uint64(tx.Nonce),
		BigInt(tx.GasPrice),
		Uint64(tx.Gas),
		Bytes(tx.To),
		BigInt(tx.Value),
		Bytes(tx.Data),
		BigInt(v),
		BigInt(sig.R),
		BigInt(sig.S),
	)), nil
}
