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

package bitcoin

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// SigHashAll is the only sighash type the engine produces.
const SigHashAll uint32 = 0x01

// LegacySigHash computes the pre-segwit digest for the input at idx: the
// transaction is serialized with every scriptSig emptied except the signed
// input, which carries scriptCode; the 4-byte hash type is appended and
// the whole double-SHA256'd. The result is the 32-byte z fed to the MPC.
func LegacySigHash(tx *wire.MsgTx, idx int, scriptCode []byte, hashType uint32) ([]byte, error) {
	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, errors.Errorf("input index %d out of range", idx)
	}

	txCopy := tx.Copy()
	for i, txIn := range txCopy.TxIn {
		if i == idx {
			txIn.SignatureScript = scriptCode
		} else {
			txIn.SignatureScript = nil
		}
	}

	var buf bytes.Buffer
	if err := txCopy.SerializeNoWitness(&buf); err != nil {
		return nil, err
	}
	var ht [4]byte
	binary.LittleEndian.PutUint32(ht[:], hashType)
	buf.Write(ht[:])

	return chainhash.DoubleHashB(buf.Bytes()), nil
}

// WitnessV0SigHash computes the BIP-143 digest for the P2WPKH input at
// idx. amount is the value of the output being spent; scriptCode is the
// canonical P2PKH script over the witness program's pubkey hash.
func WitnessV0SigHash(tx *wire.MsgTx, idx int, scriptCode []byte, amount int64, hashType uint32) ([]byte, error) {
	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, errors.Errorf("input index %d out of range", idx)
	}

	var buf bytes.Buffer

	var v4 [4]byte
	binary.LittleEndian.PutUint32(v4[:], uint32(tx.Version))
	buf.Write(v4[:])

	buf.Write(calcHashPrevouts(tx))
	buf.Write(calcHashSequence(tx))

	// outpoint of the input being signed
	txIn := tx.TxIn[idx]
	buf.Write(txIn.PreviousOutPoint.Hash[:])
	binary.LittleEndian.PutUint32(v4[:], txIn.PreviousOutPoint.Index)
	buf.Write(v4[:])

	if err := wire.WriteVarBytes(&buf, 0, scriptCode); err != nil {
		return nil, err
	}

	var v8 [8]byte
	binary.LittleEndian.PutUint64(v8[:], uint64(amount))
	buf.Write(v8[:])

	binary.LittleEndian.PutUint32(v4[:], txIn.Sequence)
	buf.Write(v4[:])

	buf.Write(calcHashOutputs(tx))

	binary.LittleEndian.PutUint32(v4[:], tx.LockTime)
	buf.Write(v4[:])

	binary.LittleEndian.PutUint32(v4[:], hashType)
	buf.Write(v4[:])

	return chainhash.DoubleHashB(buf.Bytes()), nil
}

func calcHashPrevouts(tx *wire.MsgTx) []byte {
	var buf bytes.Buffer
	var v4 [4]byte
	for _, txIn := range tx.TxIn {
		buf.Write(txIn.PreviousOutPoint.Hash[:])
		binary.LittleEndian.PutUint32(v4[:], txIn.PreviousOutPoint.Index)
		buf.Write(v4[:])
	}
	return chainhash.DoubleHashB(buf.Bytes())
}

func calcHashSequence(tx *wire.MsgTx) []byte {
	var buf bytes.Buffer
	var v4 [4]byte
	for _, txIn := range tx.TxIn {
		binary.LittleEndian.PutUint32(v4[:], txIn.Sequence)
		buf.Write(v4[:])
	}
	return chainhash.DoubleHashB(buf.Bytes())
}

func calcHashOutputs(tx *wire.MsgTx) []byte {
	var buf bytes.Buffer
	var v8 [8]byte
	for _, txOut := range tx.TxOut {
		binary.LittleEndian.PutUint64(v8[:], uint64(txOut.Value))
		buf.Write(v8[:])
		_ = wire.WriteVarBytes(&buf, 0, txOut.PkScript)
	}
	return chainhash.DoubleHashB(buf.Bytes())
}
