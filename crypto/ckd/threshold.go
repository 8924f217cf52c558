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

package ckd

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/guardianvault/custody/common"
	"github.com/guardianvault/custody/crypto"
	"github.com/guardianvault/custody/crypto/shares"
)

// masterHMACKey is the BIP-32 master key generation constant.
var masterHMACKey = []byte("Bitcoin seed")

// MasterShareFromSeedShare derives a guardian's master-level key share and
// chain code from its additive seed share: (k_i, c_i) = HMAC-SHA512
// ("Bitcoin seed", seed_share). Every guardian runs this independently.
func MasterShareFromSeedShare(seedShare []byte, partyID, nParties int) (*shares.KeyShare, []byte, error) {
	if len(seedShare) != 32 {
		return nil, nil, errors.Errorf("seed share must be 32 bytes, got %d", len(seedShare))
	}
	mac := hmac.New(sha512.New, masterHMACKey)
	mac.Write(seedShare)
	sum := mac.Sum(nil)

	ki := new(big.Int).SetBytes(sum[:32])
	ki.Mod(ki, crypto.S256().Params().N)
	if ki.Sign() == 0 {
		return nil, nil, errors.New("degenerate master share, regenerate the seed split")
	}
	chainCode := append([]byte(nil), sum[32:]...)

	share := &shares.KeyShare{
		PartyID:  partyID,
		NParties: nParties,
		Level:    shares.LevelMaster,
		Value:    ki,
		Path:     "m",
	}
	return share, chainCode, nil
}

// ChainCodeCommitment is what each guardian broadcasts instead of raw chain
// material during the master ceremony.
func ChainCodeCommitment(chainCode []byte) []byte {
	sum := sha256.Sum256(chainCode)
	return sum[:]
}

// VerifyChainCodeAgreement checks every guardian's commitment against the
// chain code the coordinator selected for the vault. Disagreement from any
// guardian aborts the ceremony; all offenders are reported together.
func VerifyChainCodeAgreement(chainCode []byte, commitments map[int][]byte) error {
	expected := ChainCodeCommitment(chainCode)
	var result *multierror.Error
	for partyID, c := range commitments {
		if !bytes.Equal(c, expected) {
			result = multierror.Append(result, errors.Errorf("party %d disagrees on the vault chain code", partyID))
		}
	}
	return result.ErrorOrNil()
}

// ApplyTweak returns the child share after one derivation step:
//
//	k_i' = k_i + I_L / n_parties  (mod n)
//
// The division by n_parties is what makes the sum of the child shares land
// on parent + I_L: each of the n guardians absorbs an equal slice of the
// tweak. Applying the whole I_L per guardian would add it n times.
func ApplyTweak(share *shares.KeyShare, il *big.Int, childLevel shares.Level, childPath string) *shares.KeyShare {
	q := crypto.S256().Params().N
	modQ := common.ModInt(q)
	slice := modQ.Div(il, big.NewInt(int64(share.NParties)))
	return &shares.KeyShare{
		PartyID:  share.PartyID,
		NParties: share.NParties,
		Level:    childLevel,
		Value:    modQ.Add(share.Value, slice),
		Path:     childPath,
	}
}

// HardenedChildTweak computes the tweak for one hardened step from the
// guardians' broadcast share contributions. The parent scalar exists only
// inside this function and is zeroed before returning; this is the single
// point of the engine where share material is combined, and it runs only
// during the one-time setup ceremony under the honest-but-curious model.
func HardenedChildTweak(parentShares []*shares.KeyShare, chainCode []byte, index uint32) (*big.Int, []byte, error) {
	if len(parentShares) == 0 {
		return nil, nil, errors.New("no parent shares")
	}
	q := crypto.S256().Params().N
	modQ := common.ModInt(q)

	parentKey := big.NewInt(0)
	for _, s := range parentShares {
		parentKey = modQ.Add(parentKey, s.Value)
	}
	il, childChainCode, err := hardenedTweakFromParentKey(parentKey, chainCode, index)
	parentKey.SetInt64(0)
	if err != nil {
		return nil, nil, err
	}
	return il, childChainCode, nil
}

// AccountDerivation is the output of the one-time account setup ceremony.
type AccountDerivation struct {
	Shares []*shares.KeyShare
	Xpub   *ExtendedKey
}

// DeriveAccountShares runs the collaborative hardened descent from the
// master share set down to m/44'/{coin}'/0' and returns the account-level
// shares with the account xpub. After every step the share sum is checked
// against parent_P + I_L*G; a divergence means a guardian applied a
// different tweak and the ceremony must not proceed.
func DeriveAccountShares(masterShares []*shares.KeyShare, chainCode []byte, coinType uint32, net *chaincfg.Params) (*AccountDerivation, error) {
	if err := validateCeremonyInput(masterShares, shares.LevelMaster); err != nil {
		return nil, err
	}

	masterPub, err := sumPartials(masterShares)
	if err != nil {
		return nil, err
	}
	parentXpub, err := NewMasterExtendedKey(masterPub, chainCode, net)
	if err != nil {
		return nil, err
	}

	path := []uint32{HardenedKeyStart + 44, HardenedKeyStart + coinType, HardenedKeyStart}
	current := masterShares
	for depth, index := range path {
		il, childChainCode, err := HardenedChildTweak(current, parentXpub.ChainCode, index)
		if err != nil {
			return nil, errors.Wrapf(err, "hardened step %d", depth)
		}

		childPath := FormatPath(path[:depth+1])
		next := make([]*shares.KeyShare, len(current))
		for i, s := range current {
			next[i] = ApplyTweak(s, il, levelForSetupDepth(depth+1), childPath)
		}

		childPub, err := parentXpub.PublicKey.Add(crypto.ScalarBaseMult(crypto.S256(), il))
		if err != nil {
			return nil, err
		}
		sum, err := sumPartials(next)
		if err != nil {
			return nil, err
		}
		if !sum.Equals(childPub) {
			return nil, errors.Errorf("share sum diverged from parent_P + I_L*G at %s", childPath)
		}

		parentXpub = &ExtendedKey{
			PublicKey:  childPub,
			Depth:      parentXpub.Depth + 1,
			ChildIndex: index,
			ChainCode:  childChainCode,
			ParentFP:   parentXpub.Fingerprint(),
			Version:    parentXpub.Version,
		}
		current = next
	}

	return &AccountDerivation{Shares: current, Xpub: parentXpub}, nil
}

// DeriveNonHardenedShare descends a run of non-hardened indices from a
// share and its matching parent xpub. The tweak at every step depends only
// on public data, so each guardian runs this locally with no coordination.
func DeriveNonHardenedShare(share *shares.KeyShare, parent *ExtendedKey, indices []uint32) (*shares.KeyShare, *ExtendedKey, error) {
	current := share
	xpub := parent
	for _, index := range indices {
		if IsHardened(index) {
			return nil, nil, errors.Errorf("index %d is hardened; hardened descent requires the setup ceremony", index)
		}
		il, childXpub, err := DeriveChildKey(index, xpub)
		if err != nil {
			return nil, nil, err
		}
		childPath := fmt.Sprintf("%s/%d", current.Path, index)
		current = ApplyTweak(current, il, childLevel(current.Level), childPath)
		xpub = childXpub
	}
	return current, xpub, nil
}

func childLevel(parent shares.Level) shares.Level {
	switch parent {
	case shares.LevelAccount:
		return shares.LevelChange
	default:
		return shares.LevelAddress
	}
}

func levelForSetupDepth(depth int) shares.Level {
	if depth < 3 {
		// purpose and coin levels are transient; tag them as master-path
		// material so they are never persisted as spendable shares
		return shares.LevelMaster
	}
	return shares.LevelAccount
}

func validateCeremonyInput(set []*shares.KeyShare, level shares.Level) error {
	if len(set) == 0 {
		return errors.New("empty share set")
	}
	n := set[0].NParties
	if len(set) != n {
		return errors.Errorf("ceremony requires all %d shares, got %d", n, len(set))
	}
	for _, s := range set {
		if s.Level != level {
			return errors.Errorf("party %d share is %q, want %q", s.PartyID, s.Level, level)
		}
	}
	return nil
}

func sumPartials(set []*shares.KeyShare) (*crypto.ECPoint, error) {
	partials := make([]*crypto.ECPoint, len(set))
	for i, s := range set {
		partials[i] = shares.PartialPublicKey(s)
	}
	return shares.AggregatePublicKey(partials)
}
