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

// Package keystore defines the versioned JSON share file, the
// compatibility surface between the engine and any guardian UI.
package keystore

import (
	"encoding/hex"
	"encoding/json"
	"math/big"

	"github.com/pkg/errors"

	"github.com/guardianvault/custody/crypto/ckd"
	"github.com/guardianvault/custody/crypto/shares"
)

// CurrentVersion is the only share file layout the engine accepts.
const CurrentVersion = 1

// CoinShare is one coin's account-level share entry.
type CoinShare struct {
	Value string `json:"value"` // 32-byte hex scalar
	Path  string `json:"path"`  // e.g. "m/44'/0'/0'"
	Xpub  string `json:"xpub"`  // the matching account xpub
}

// ShareFile is a guardian's persisted key material. Marshal refuses
// master-level files outside the setup ceremony; other levels are written.
type ShareFile struct {
	Version  int                  `json:"version"`
	PartyID  int                  `json:"party_id"`
	NParties int                  `json:"n_parties"`
	Level    shares.Level         `json:"level"`
	Value    string               `json:"value,omitempty"` // setup-only master material
	Coins    map[string]CoinShare `json:"coins"`
}

// NewAccountShareFile assembles the persistent share file for one
// guardian from per-coin account derivations.
func NewAccountShareFile(partyID, nParties int, coins map[string]CoinShare) *ShareFile {
	return &ShareFile{
		Version:  CurrentVersion,
		PartyID:  partyID,
		NParties: nParties,
		Level:    shares.LevelAccount,
		Coins:    coins,
	}
}

// Marshal serializes the share file. Master-level material is refused
// unless setupCeremony is set; master shares exist on disk only for the
// duration of the setup ceremony.
func (f *ShareFile) Marshal(setupCeremony bool) ([]byte, error) {
	if f.Level == shares.LevelMaster && !setupCeremony {
		return nil, errors.New("refusing to persist master-level shares outside the setup ceremony")
	}
	if f.Version != CurrentVersion {
		return nil, errors.Errorf("unsupported share file version %d", f.Version)
	}
	return json.MarshalIndent(f, "", "  ")
}

// Unmarshal parses and validates a share file. Legacy layouts carrying the
// old single-`share` field are rejected outright.
func Unmarshal(bz []byte) (*ShareFile, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(bz, &raw); err != nil {
		return nil, errors.Wrap(err, "malformed share file")
	}
	if _, legacy := raw["share"]; legacy {
		return nil, errors.New("legacy share file layout detected: re-run the setup export to produce a version 1 file")
	}
	if _, ok := raw["version"]; !ok {
		return nil, errors.New("share file is missing the version field")
	}

	var f ShareFile
	if err := json.Unmarshal(bz, &f); err != nil {
		return nil, errors.Wrap(err, "malformed share file")
	}
	if f.Version != CurrentVersion {
		return nil, errors.Errorf("unsupported share file version %d, want %d", f.Version, CurrentVersion)
	}
	if f.PartyID < 1 || f.NParties < 2 || f.PartyID > f.NParties {
		return nil, errors.Errorf("invalid party %d of %d", f.PartyID, f.NParties)
	}
	if !f.Level.Valid() {
		return nil, errors.Errorf("unknown share level %q", f.Level)
	}
	for coin, cs := range f.Coins {
		if _, err := parseScalarHex(cs.Value); err != nil {
			return nil, errors.Wrapf(err, "coin %s", coin)
		}
	}
	return &f, nil
}

// AccountShare reconstructs the in-memory key share and account xpub for
// one coin.
func (f *ShareFile) AccountShare(coin string) (*shares.KeyShare, *ckd.ExtendedKey, error) {
	cs, ok := f.Coins[coin]
	if !ok {
		return nil, nil, errors.Errorf("share file has no entry for coin %q", coin)
	}
	value, err := parseScalarHex(cs.Value)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "coin %s", coin)
	}
	xpub, err := ckd.ParseExtendedKey(cs.Xpub)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "coin %s account xpub", coin)
	}
	share := &shares.KeyShare{
		PartyID:  f.PartyID,
		NParties: f.NParties,
		Level:    shares.LevelAccount,
		Value:    value,
		Path:     cs.Path,
	}
	return share, xpub, nil
}

// EncodeShareValue renders a share scalar as the 32-byte hex the file
// format requires.
func EncodeShareValue(v *big.Int) string {
	out := make([]byte, 32)
	v.FillBytes(out)
	return hex.EncodeToString(out)
}

func parseScalarHex(s string) (*big.Int, error) {
	if len(s) != 64 {
		return nil, errors.Errorf("share value must be 32-byte hex, got %d chars", len(s))
	}
	bz, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "share value is not hex")
	}
	v := new(big.Int).SetBytes(bz)
	if v.Sign() == 0 {
		return nil, errors.New("share value must be nonzero")
	}
	return v, nil
}
