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

// Package shares implements the n-of-n additive secret sharing that backs
// the custody engine. A master scalar x is split so that sum(x_i) = x mod N;
// the master scalar itself only ever exists transiently, inside Generate and,
// during the setup ceremony, inside ckd.HardenedChildTweak.
package shares

import (
	"math/big"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/guardianvault/custody/common"
	"github.com/guardianvault/custody/crypto"
)

// Level tags the derivation depth a share belongs to. Shares at different
// levels must never be combined in one ceremony.
type Level string

const (
	LevelMaster  Level = "master"
	LevelAccount Level = "account"
	LevelChange  Level = "change"
	LevelAddress Level = "address"
)

var validLevels = map[Level]bool{
	LevelMaster: true, LevelAccount: true, LevelChange: true, LevelAddress: true,
}

func (l Level) Valid() bool { return validLevels[l] }

// KeyShare is one party's additive share of a private scalar. The Value
// never leaves the owning guardian process; the engine only ever receives
// it as a function argument.
type KeyShare struct {
	PartyID  int
	NParties int
	Level    Level
	Value    *big.Int
	// Path records the derivation path the share sits at, e.g. "m/44'/0'/0'".
	// Empty for shares produced by Split and Generate.
	Path string
}

// Validate checks the structural invariants of a single share.
func (s *KeyShare) Validate(q *big.Int) error {
	var result *multierror.Error
	if s.PartyID < 1 || s.PartyID > s.NParties {
		result = multierror.Append(result, errors.Errorf("party id %d out of range [1, %d]", s.PartyID, s.NParties))
	}
	if !s.Level.Valid() {
		result = multierror.Append(result, errors.Errorf("unknown share level %q", s.Level))
	}
	if s.Value == nil || s.Value.Sign() == 0 {
		result = multierror.Append(result, errors.New("share value must be a nonzero scalar"))
	} else if s.Value.Cmp(q) >= 0 || s.Value.Sign() < 0 {
		result = multierror.Append(result, errors.New("share value out of scalar range"))
	}
	return result.ErrorOrNil()
}

// Generate splits a fresh random master scalar into nParties additive
// shares and returns them with the master public key P = x*G. Zero shares
// and a zero master are resampled so that no private scalar is ever zero.
func Generate(nParties int) ([]*KeyShare, *crypto.ECPoint, error) {
	if nParties < 2 {
		return nil, nil, errors.Errorf("need at least 2 parties, got %d", nParties)
	}
	q := crypto.S256().Params().N
	master := common.GetRandomScalar(q)

	shares, err := Split(master, nParties, LevelMaster)
	if err != nil {
		return nil, nil, err
	}
	pub := crypto.ScalarBaseMultConstTime(crypto.S256(), master)
	master.SetInt64(0)
	return shares, pub, nil
}

// Split splits an existing secret scalar into nParties additive shares at
// the given level. Used by Generate; the seed split of the setup ceremony
// is ckd.SplitSeed.
func Split(secret *big.Int, nParties int, level Level) ([]*KeyShare, error) {
	if nParties < 2 {
		return nil, errors.Errorf("need at least 2 parties, got %d", nParties)
	}
	q := crypto.S256().Params().N
	modQ := common.ModInt(q)

	for {
		shares := make([]*KeyShare, nParties)
		acc := big.NewInt(0)
		for i := 0; i < nParties-1; i++ {
			v := common.GetRandomScalar(q)
			shares[i] = &KeyShare{PartyID: i + 1, NParties: nParties, Level: level, Value: v}
			acc = modQ.Add(acc, v)
		}
		last := modQ.Sub(secret, acc)
		if last.Sign() == 0 {
			// the final share landed on zero; resample the whole set
			continue
		}
		shares[nParties-1] = &KeyShare{PartyID: nParties, NParties: nParties, Level: level, Value: last}
		return shares, nil
	}
}

// PartialPublicKey returns share.Value * G, computed constant-time because
// the input is private.
func PartialPublicKey(share *KeyShare) *crypto.ECPoint {
	return crypto.ScalarBaseMultConstTime(crypto.S256(), share.Value)
}

// AggregatePublicKey sums the partial public points of a full share set.
// This is the verification path: it never reconstructs the secret scalar.
func AggregatePublicKey(partials []*crypto.ECPoint) (*crypto.ECPoint, error) {
	if len(partials) == 0 {
		return nil, errors.New("no partial public keys to aggregate")
	}
	sum := crypto.Identity(crypto.S256())
	var err error
	for _, p := range partials {
		if p == nil {
			return nil, errors.New("nil partial public key")
		}
		if sum, err = sum.Add(p); err != nil {
			return nil, err
		}
	}
	return sum, nil
}

// VerifyShareSet checks that a full share set reconstructs the expected
// public key: sum(share_i * G) == pub. Structural errors across parties are
// aggregated so a broken ceremony reports every offender at once.
func VerifyShareSet(set []*KeyShare, pub *crypto.ECPoint) error {
	q := crypto.S256().Params().N
	var result *multierror.Error

	seen := make(map[int]bool, len(set))
	level := Level("")
	for _, s := range set {
		if err := s.Validate(q); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "party %d", s.PartyID))
			continue
		}
		if seen[s.PartyID] {
			result = multierror.Append(result, errors.Errorf("duplicate party id %d", s.PartyID))
		}
		seen[s.PartyID] = true
		if level == "" {
			level = s.Level
		} else if level != s.Level {
			result = multierror.Append(result, errors.Errorf("mixed share levels %q and %q", level, s.Level))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	if len(set) == 0 || len(seen) != set[0].NParties {
		return errors.New("incomplete share set")
	}

	partials := make([]*crypto.ECPoint, len(set))
	for i, s := range set {
		partials[i] = PartialPublicKey(s)
	}
	sum, err := AggregatePublicKey(partials)
	if err != nil {
		return err
	}
	if !sum.Equals(pub) {
		return errors.New("share set does not reconstruct the expected public key")
	}
	return nil
}
