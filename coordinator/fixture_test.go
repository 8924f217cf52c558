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

package coordinator_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/guardianvault/custody/coordinator"
	"github.com/guardianvault/custody/crypto/ckd"
	"github.com/guardianvault/custody/crypto/shares"
	"github.com/guardianvault/custody/guardian"
)

func testLogger(t *testing.T) coordinator.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logger, _ := logConfig.Build()
	return logger.With(zap.String("t", t.Name())).Sugar()
}

// vaultFixture is a fully provisioned 3-guardian vault with a live
// coordinator over the in-memory repository.
type vaultFixture struct {
	repo     *coordinator.MemoryRepository
	coord    *coordinator.Coordinator
	acct     *ckd.AccountDerivation
	vaultID  string
	nParties int
}

func newVaultFixture(t *testing.T, coinType uint32, cfg coordinator.Config) *vaultFixture {
	t.Helper()
	const nParties = 3

	seed, _, err := ckd.NewMasterSeed()
	require.NoError(t, err)
	seedShares, err := ckd.SplitSeed(seed, nParties)
	require.NoError(t, err)

	masterSet := make([]*shares.KeyShare, nParties)
	commitments := make(map[int][]byte, nParties)
	var chainCode []byte
	for i, ss := range seedShares {
		share, cc, err := ckd.MasterShareFromSeedShare(ss, i+1, nParties)
		require.NoError(t, err)
		masterSet[i] = share
		if i == 0 {
			chainCode = cc
		}
	}
	for i := range masterSet {
		commitments[i+1] = ckd.ChainCodeCommitment(chainCode)
	}
	require.NoError(t, ckd.VerifyChainCodeAgreement(chainCode, commitments))

	acct, err := ckd.DeriveAccountShares(masterSet, chainCode, coinType, &chaincfg.MainNetParams)
	require.NoError(t, err)

	repo := coordinator.NewMemoryRepository()
	repo.PutVault(&coordinator.Vault{
		VaultID:     "vault-1",
		Guardians:   []int{1, 2, 3},
		NParties:    nParties,
		AccountXpub: acct.Xpub.String(),
	})

	return &vaultFixture{
		repo:     repo,
		coord:    coordinator.New(repo, cfg, testLogger(t)),
		acct:     acct,
		vaultID:  "vault-1",
		nParties: nParties,
	}
}

func (f *vaultFixture) createSession(t *testing.T, z []byte, path string, ttl time.Duration) string {
	t.Helper()
	sessionID, err := f.coord.CreateSigningSession(coordinator.CreateSessionRequest{
		VaultID:         f.vaultID,
		RequiredParties: []int{1, 2, 3},
		MessageHash:     z,
		DerivationPath:  path,
		TTL:             ttl,
	})
	require.NoError(t, err)
	return sessionID
}

// runSigning drives all guardians through both submission rounds in
// parallel and returns the final signature.
func (f *vaultFixture) runSigning(t *testing.T, z []byte, path string) (*coordinator.FinalSignature, string) {
	t.Helper()
	sessionID := f.createSession(t, z, path, 0)

	// round 1: all guardians submit concurrently
	var wg sync.WaitGroup
	var firstErr atomic.Value
	for party := 1; party <= f.nParties; party++ {
		wg.Add(1)
		go func(party int) {
			defer wg.Done()
			rBytes, kBytes, err := guardian.Round1Generate()
			if err == nil {
				_, err = f.coord.SubmitRound1(sessionID, party, rBytes, kBytes)
			}
			if err != nil {
				firstErr.Store(err)
			}
		}(party)
	}
	wg.Wait()
	require.Nil(t, firstErr.Load())

	r2, err := f.coord.PollRound2(sessionID)
	require.NoError(t, err)

	// round 3: all guardians sign concurrently
	for party := 1; party <= f.nParties; party++ {
		wg.Add(1)
		go func(party int) {
			defer wg.Done()
			share := f.acct.Shares[party-1]
			siBytes, err := guardian.Round3Sign(share, f.acct.Xpub, path, z, r2.SigR, r2.KTotal, f.nParties)
			if err == nil {
				_, err = f.coord.SubmitRound3(sessionID, party, siBytes)
			}
			if err != nil {
				firstErr.Store(err)
			}
		}(party)
	}
	wg.Wait()
	require.Nil(t, firstErr.Load())

	final, err := f.coord.FinalSignature(sessionID)
	require.NoError(t, err)
	return final, sessionID
}
