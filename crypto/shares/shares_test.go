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

package shares_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardianvault/custody/common"
	"github.com/guardianvault/custody/crypto"
	"github.com/guardianvault/custody/crypto/shares"
)

func TestGenerateReconstructsPublicKey(t *testing.T) {
	for _, n := range []int{2, 3, 5} {
		set, pub, err := shares.Generate(n)
		require.NoError(t, err)
		require.Len(t, set, n)

		assert.NoError(t, shares.VerifyShareSet(set, pub))
		for i, s := range set {
			assert.Equal(t, i+1, s.PartyID)
			assert.Equal(t, n, s.NParties)
			assert.Equal(t, shares.LevelMaster, s.Level)
			assert.NotZero(t, s.Value.Sign())
		}
	}
}

func TestGenerateRejectsTooFewParties(t *testing.T) {
	_, _, err := shares.Generate(1)
	assert.Error(t, err)
}

func TestSplitSumsToSecret(t *testing.T) {
	q := crypto.S256().Params().N
	modQ := common.ModInt(q)
	secret := common.GetRandomPositiveInt(q)

	set, err := shares.Split(secret, 3, shares.LevelAccount)
	require.NoError(t, err)

	sum := big.NewInt(0)
	for _, s := range set {
		sum = modQ.Add(sum, s.Value)
	}
	assert.Equal(t, 0, sum.Cmp(secret))
}

func TestVerifyShareSetDetectsTampering(t *testing.T) {
	set, pub, err := shares.Generate(3)
	require.NoError(t, err)

	tampered := *set[1]
	tampered.Value = common.ModInt(crypto.S256().Params().N).Add(set[1].Value, big.NewInt(1))
	badSet := []*shares.KeyShare{set[0], &tampered, set[2]}
	assert.Error(t, shares.VerifyShareSet(badSet, pub))
}

func TestVerifyShareSetDetectsDuplicateParty(t *testing.T) {
	set, pub, err := shares.Generate(3)
	require.NoError(t, err)

	dup := *set[0]
	badSet := []*shares.KeyShare{set[0], &dup, set[2]}
	assert.Error(t, shares.VerifyShareSet(badSet, pub))
}

func TestVerifyShareSetDetectsMixedLevels(t *testing.T) {
	set, pub, err := shares.Generate(3)
	require.NoError(t, err)

	mixed := *set[2]
	mixed.Level = shares.LevelAccount
	badSet := []*shares.KeyShare{set[0], set[1], &mixed}
	assert.Error(t, shares.VerifyShareSet(badSet, pub))
}

func TestValidateRejectsZeroShare(t *testing.T) {
	q := crypto.S256().Params().N
	s := &shares.KeyShare{PartyID: 1, NParties: 3, Level: shares.LevelMaster, Value: big.NewInt(0)}
	assert.Error(t, s.Validate(q))
}
