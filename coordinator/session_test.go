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

package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoundTransitionTable(t *testing.T) {
	legal := []struct{ from, to Round }{
		{RoundCreated, RoundR1Collecting},
		{RoundR1Collecting, RoundR2Ready},
		{RoundR1Collecting, RoundFailed},
		{RoundR1Collecting, RoundExpired},
		{RoundR2Ready, RoundR3Collecting},
		{RoundR3Collecting, RoundR4Ready},
		{RoundR3Collecting, RoundExpired},
		{RoundR4Ready, RoundCompleted},
		{RoundR4Ready, RoundFailed},
	}
	for _, tc := range legal {
		assert.True(t, tc.from.CanTransitionTo(tc.to), "%s -> %s must be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to Round }{
		{RoundCreated, RoundR2Ready},
		{RoundR1Collecting, RoundR3Collecting},
		{RoundR2Ready, RoundCompleted},
		{RoundR3Collecting, RoundCompleted},
		{RoundCompleted, RoundR1Collecting},
		{RoundFailed, RoundR1Collecting},
		{RoundExpired, RoundR1Collecting},
		{RoundCompleted, RoundExpired},
	}
	for _, tc := range illegal {
		assert.False(t, tc.from.CanTransitionTo(tc.to), "%s -> %s must be illegal", tc.from, tc.to)
	}
}

func TestTerminalRounds(t *testing.T) {
	for _, r := range []Round{RoundCompleted, RoundFailed, RoundExpired} {
		assert.True(t, r.Terminal())
		assert.Empty(t, legalTransitions[r], "terminal round %s must have no successors", r)
	}
	for _, r := range []Round{RoundCreated, RoundR1Collecting, RoundR2Ready, RoundR3Collecting, RoundR4Ready} {
		assert.False(t, r.Terminal())
	}
}

func TestTransitionEnforcement(t *testing.T) {
	s := &SigningSession{Round: RoundR1Collecting}
	assert.Error(t, s.transition(RoundCompleted))
	assert.Equal(t, RoundR1Collecting, s.Round, "failed transition must not move the round")

	assert.NoError(t, s.transition(RoundR2Ready))
	assert.Equal(t, RoundR2Ready, s.Round)
}

func TestSessionCloneIsDeep(t *testing.T) {
	v := byte(1)
	s := &SigningSession{
		SessionID:       "s",
		MessageHash:     []byte{1, 2, 3},
		RequiredParties: []int{1, 2},
		Round:           RoundR1Collecting,
		R1Submissions:   map[int]*R1Entry{1: {R: []byte{9}, K: []byte{8}}},
		R3Submissions:   map[int][]byte{1: {7}},
		FinalV:          &v,
		ExpiresAt:       time.Now(),
	}
	c := s.Clone()
	c.MessageHash[0] = 0xff
	c.R1Submissions[1].R[0] = 0xff
	c.R3Submissions[1][0] = 0xff
	*c.FinalV = 0

	assert.Equal(t, byte(1), s.MessageHash[0])
	assert.Equal(t, byte(9), s.R1Submissions[1].R[0])
	assert.Equal(t, byte(7), s.R3Submissions[1][0])
	assert.Equal(t, byte(1), *s.FinalV)
}

func TestMemoryRepositoryCAS(t *testing.T) {
	repo := NewMemoryRepository()
	s := &SigningSession{
		SessionID:     "cas-test",
		Round:         RoundR1Collecting,
		R1Submissions: map[int]*R1Entry{},
		R3Submissions: map[int][]byte{},
	}
	assert.NoError(t, repo.StoreSessionCAS(s, ""))
	assert.ErrorIs(t, repo.StoreSessionCAS(s, ""), ErrStorageConflict)

	// two loads of the same snapshot: the second writer must lose
	a, err := repo.LoadSession("cas-test")
	assert.NoError(t, err)
	b, err := repo.LoadSession("cas-test")
	assert.NoError(t, err)

	a.R1Submissions[1] = &R1Entry{R: []byte{1}, K: []byte{2}}
	assert.NoError(t, repo.StoreSessionCAS(a, RoundR1Collecting))

	b.R1Submissions[2] = &R1Entry{R: []byte{3}, K: []byte{4}}
	assert.ErrorIs(t, repo.StoreSessionCAS(b, RoundR1Collecting), ErrStorageConflict)

	// wrong expected round
	a2, err := repo.LoadSession("cas-test")
	assert.NoError(t, err)
	assert.ErrorIs(t, repo.StoreSessionCAS(a2, RoundR3Collecting), ErrStorageConflict)
}
