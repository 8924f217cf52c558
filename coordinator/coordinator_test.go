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
	"context"
	"crypto/sha256"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardianvault/custody/common"
	"github.com/guardianvault/custody/coordinator"
	"github.com/guardianvault/custody/crypto"
	"github.com/guardianvault/custody/guardian"
)

func TestFullCeremonyCompletes(t *testing.T) {
	f := newVaultFixture(t, 0, coordinator.DefaultConfig())
	z := sha256.Sum256([]byte("full ceremony"))

	final, sessionID := f.runSigning(t, z[:], "0/0")
	require.NotNil(t, final.V)
	assert.Len(t, final.R, 32)
	assert.Len(t, final.S, 32)

	sess, err := f.coord.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, coordinator.RoundCompleted, sess.Round)
	assert.Empty(t, sess.FailureReason)

	// a completed session still serves its broadcast and signature
	_, err = f.coord.PollRound2(sessionID)
	assert.NoError(t, err)
	again, err := f.coord.FinalSignature(sessionID)
	require.NoError(t, err)
	assert.Equal(t, final.R, again.R)
}

func TestIdempotentRetransmit(t *testing.T) {
	f := newVaultFixture(t, 0, coordinator.DefaultConfig())
	z := sha256.Sum256([]byte("idempotent"))
	sessionID := f.createSession(t, z[:], "", 0)

	rBytes, kBytes, err := guardian.Round1Generate()
	require.NoError(t, err)

	res1, err := f.coord.SubmitRound1(sessionID, 1, rBytes, kBytes)
	require.NoError(t, err)
	assert.Equal(t, "accepted", res1.Status)

	res2, err := f.coord.SubmitRound1(sessionID, 1, rBytes, kBytes)
	require.NoError(t, err)
	assert.Equal(t, "duplicate", res2.Status)
	assert.Equal(t, res1.Round, res2.Round)

	sess, err := f.coord.GetSession(sessionID)
	require.NoError(t, err)
	assert.Len(t, sess.R1Submissions, 1, "state must be unchanged by a retransmit")
}

func TestReplayConflict(t *testing.T) {
	f := newVaultFixture(t, 0, coordinator.DefaultConfig())
	z := sha256.Sum256([]byte("replay"))
	sessionID := f.createSession(t, z[:], "", 0)

	rBytes, kBytes, err := guardian.Round1Generate()
	require.NoError(t, err)
	_, err = f.coord.SubmitRound1(sessionID, 1, rBytes, kBytes)
	require.NoError(t, err)

	otherR, otherK, err := guardian.Round1Generate()
	require.NoError(t, err)
	_, err = f.coord.SubmitRound1(sessionID, 1, otherR, otherK)
	assert.ErrorIs(t, err, coordinator.ErrReplayConflict)

	sess, err := f.coord.GetSession(sessionID)
	require.NoError(t, err)
	assert.Len(t, sess.R1Submissions, 1)
	assert.Equal(t, coordinator.RoundR1Collecting, sess.Round)
}

// Injected R1 submissions summing to the identity must fail the session
// with degenerate_r before any s_i is broadcast.
func TestDegenerateR(t *testing.T) {
	f := newVaultFixture(t, 0, coordinator.DefaultConfig())
	z := sha256.Sum256([]byte("degenerate"))
	sessionID := f.createSession(t, z[:], "", 0)

	q := crypto.S256().Params().N
	modQ := common.ModInt(q)
	a := common.GetRandomPositiveInt(q)
	b := common.GetRandomPositiveInt(q)
	c := modQ.Sub(big.NewInt(0), modQ.Add(a, b)) // a + b + c = 0 mod q

	for party, k := range map[int]*big.Int{1: a, 2: b} {
		point := crypto.ScalarBaseMult(crypto.S256(), k)
		_, err := f.coord.SubmitRound1(sessionID, party, point.SerializeCompressed(), common.BigIntToBytes32(k))
		require.NoError(t, err)
	}
	point := crypto.ScalarBaseMult(crypto.S256(), c)
	_, err := f.coord.SubmitRound1(sessionID, 3, point.SerializeCompressed(), common.BigIntToBytes32(c))
	assert.ErrorIs(t, err, coordinator.ErrDegenerateR)

	sess, err := f.coord.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, coordinator.RoundFailed, sess.Round)
	assert.Equal(t, coordinator.ReasonDegenerateR, sess.FailureReason)

	// no broadcast may ever be served
	_, err = f.coord.PollRound2(sessionID)
	assert.ErrorIs(t, err, coordinator.ErrDegenerateR)
}

func TestTimeout(t *testing.T) {
	f := newVaultFixture(t, 0, coordinator.DefaultConfig())
	z := sha256.Sum256([]byte("timeout"))
	sessionID := f.createSession(t, z[:], "", 200*time.Millisecond)

	// only n_parties - 1 submissions arrive
	for party := 1; party <= 2; party++ {
		rBytes, kBytes, err := guardian.Round1Generate()
		require.NoError(t, err)
		_, err = f.coord.SubmitRound1(sessionID, party, rBytes, kBytes)
		require.NoError(t, err)
	}

	time.Sleep(400 * time.Millisecond)

	rBytes, kBytes, err := guardian.Round1Generate()
	require.NoError(t, err)
	_, err = f.coord.SubmitRound1(sessionID, 3, rBytes, kBytes)
	assert.ErrorIs(t, err, coordinator.ErrExpired)

	sess, err := f.coord.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, coordinator.RoundExpired, sess.Round)
	assert.Equal(t, coordinator.ReasonExpired, sess.FailureReason)

	// an expired session cannot be revived by any further submission
	_, err = f.coord.SubmitRound3(sessionID, 1, make([]byte, 32))
	assert.ErrorIs(t, err, coordinator.ErrExpired)
}

func TestCancel(t *testing.T) {
	f := newVaultFixture(t, 0, coordinator.DefaultConfig())
	z := sha256.Sum256([]byte("cancel"))
	sessionID := f.createSession(t, z[:], "", 0)

	require.NoError(t, f.coord.Cancel(sessionID))

	sess, err := f.coord.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, coordinator.RoundExpired, sess.Round)
	assert.Equal(t, coordinator.ReasonCancelled, sess.FailureReason)

	// terminal: cancelling again is rejected
	assert.ErrorIs(t, f.coord.Cancel(sessionID), coordinator.ErrWrongRound)
}

func TestUnauthorizedSubmissions(t *testing.T) {
	f := newVaultFixture(t, 0, coordinator.DefaultConfig())
	z := sha256.Sum256([]byte("unauthorized"))
	sessionID := f.createSession(t, z[:], "", 0)

	rBytes, kBytes, err := guardian.Round1Generate()
	require.NoError(t, err)
	_, err = f.coord.SubmitRound1(sessionID, 9, rBytes, kBytes)
	assert.ErrorIs(t, err, coordinator.ErrUnauthorizedParty)

	sess, err := f.coord.GetSession(sessionID)
	require.NoError(t, err)
	assert.Empty(t, sess.R1Submissions, "rejected submissions must not alter state")
}

func TestUnknownSession(t *testing.T) {
	f := newVaultFixture(t, 0, coordinator.DefaultConfig())
	_, err := f.coord.PollRound2("no-such-session")
	assert.ErrorIs(t, err, coordinator.ErrUnknownSession)
	_, err = f.coord.SubmitRound3("no-such-session", 1, make([]byte, 32))
	assert.ErrorIs(t, err, coordinator.ErrUnknownSession)
}

func TestWrongRound(t *testing.T) {
	f := newVaultFixture(t, 0, coordinator.DefaultConfig())
	z := sha256.Sum256([]byte("wrong round"))
	sessionID := f.createSession(t, z[:], "", 0)

	// round 3 material before round 1 completed
	si := common.BigIntToBytes32(big.NewInt(7))
	_, err := f.coord.SubmitRound3(sessionID, 1, si)
	assert.ErrorIs(t, err, coordinator.ErrWrongRound)

	// round 2 poll before the broadcast exists
	_, err = f.coord.PollRound2(sessionID)
	assert.ErrorIs(t, err, coordinator.ErrWrongRound)

	_, err = f.coord.FinalSignature(sessionID)
	assert.ErrorIs(t, err, coordinator.ErrWrongRound)
}

// A nonce point accepted by one session must be rejected when replayed
// into another session of the same vault.
func TestNonceReplayAcrossSessions(t *testing.T) {
	f := newVaultFixture(t, 0, coordinator.DefaultConfig())
	z1 := sha256.Sum256([]byte("first"))
	z2 := sha256.Sum256([]byte("second"))
	first := f.createSession(t, z1[:], "", 0)
	second := f.createSession(t, z2[:], "", 0)

	rBytes, kBytes, err := guardian.Round1Generate()
	require.NoError(t, err)
	_, err = f.coord.SubmitRound1(first, 1, rBytes, kBytes)
	require.NoError(t, err)

	_, err = f.coord.SubmitRound1(second, 1, rBytes, kBytes)
	assert.ErrorIs(t, err, coordinator.ErrReplayConflict)
}

func TestCreateSessionValidation(t *testing.T) {
	f := newVaultFixture(t, 0, coordinator.DefaultConfig())

	_, err := f.coord.CreateSigningSession(coordinator.CreateSessionRequest{
		VaultID:         f.vaultID,
		RequiredParties: []int{1, 2, 3},
		MessageHash:     []byte("short"),
	})
	assert.ErrorIs(t, err, coordinator.ErrInvalidInput)

	z := sha256.Sum256([]byte("x"))
	_, err = f.coord.CreateSigningSession(coordinator.CreateSessionRequest{
		VaultID:         f.vaultID,
		RequiredParties: []int{1, 1, 2},
		MessageHash:     z[:],
	})
	assert.ErrorIs(t, err, coordinator.ErrInvalidInput)

	_, err = f.coord.CreateSigningSession(coordinator.CreateSessionRequest{
		VaultID:         f.vaultID,
		RequiredParties: []int{1, 2, 4},
		MessageHash:     z[:],
	})
	assert.ErrorIs(t, err, coordinator.ErrUnauthorizedParty)

	_, err = f.coord.CreateSigningSession(coordinator.CreateSessionRequest{
		VaultID:         f.vaultID,
		RequiredParties: []int{1, 2, 3},
		MessageHash:     z[:],
		DerivationPath:  "0'/0",
	})
	assert.ErrorIs(t, err, coordinator.ErrInvalidInput)

	_, err = f.coord.CreateSigningSession(coordinator.CreateSessionRequest{
		VaultID:         "ghost",
		RequiredParties: []int{1, 2, 3},
		MessageHash:     z[:],
	})
	assert.Error(t, err)
}

func TestExpirySweeper(t *testing.T) {
	cfg := coordinator.DefaultConfig()
	cfg.SweepInterval = 50 * time.Millisecond
	f := newVaultFixture(t, 0, cfg)

	z := sha256.Sum256([]byte("sweep"))
	sessionID := f.createSession(t, z[:], "", 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.coord.RunSweeper(ctx)

	require.Eventually(t, func() bool {
		sess, err := f.coord.GetSession(sessionID)
		return err == nil && sess.Round == coordinator.RoundExpired
	}, 2*time.Second, 25*time.Millisecond)
}
