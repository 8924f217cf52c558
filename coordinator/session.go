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
	"bytes"
	"time"

	"github.com/pkg/errors"
)

// Round is a signing session's position in the four-round protocol.
type Round string

const (
	RoundCreated      Round = "created"
	RoundR1Collecting Round = "r1_collecting"
	RoundR2Ready      Round = "r2_ready"
	RoundR3Collecting Round = "r3_collecting"
	RoundR4Ready      Round = "r4_ready"
	RoundCompleted    Round = "completed"
	RoundFailed       Round = "failed"
	RoundExpired      Round = "expired"
)

// legalTransitions is the complete transition relation; anything absent
// here is illegal. Terminal rounds have no successors.
var legalTransitions = map[Round][]Round{
	RoundCreated:      {RoundR1Collecting},
	RoundR1Collecting: {RoundR2Ready, RoundFailed, RoundExpired},
	RoundR2Ready:      {RoundR3Collecting},
	RoundR3Collecting: {RoundR4Ready, RoundExpired},
	RoundR4Ready:      {RoundCompleted, RoundFailed},
}

// Terminal reports whether the round is final; terminal sessions are
// immutable.
func (r Round) Terminal() bool {
	return r == RoundCompleted || r == RoundFailed || r == RoundExpired
}

// CanTransitionTo reports whether r -> next is a legal transition.
func (r Round) CanTransitionTo(next Round) bool {
	for _, t := range legalTransitions[r] {
		if t == next {
			return true
		}
	}
	return false
}

// R1Entry is one party's stored round-1 submission. Byte forms are kept
// verbatim so idempotent retransmits can be compared bitwise.
type R1Entry struct {
	R []byte // 33-byte compressed point
	K []byte // 32-byte scalar
}

func (e *R1Entry) equal(o *R1Entry) bool {
	return e != nil && o != nil && bytes.Equal(e.R, o.R) && bytes.Equal(e.K, o.K)
}

// SigningSession is the coordinator's ledger entry for one ceremony.
type SigningSession struct {
	SessionID       string
	VaultID         string
	MessageHash     []byte // 32 bytes
	DerivationPath  string // non-hardened suffix below the account xpub
	RequiredParties []int  // fixed at creation, never mutated

	Round Round

	R1Submissions map[int]*R1Entry

	// combined after R2
	BigR   []byte // 33-byte compressed combined nonce point
	SigR   []byte // 32-byte r
	KTotal []byte // 32-byte k = sum(k_i)

	R3Submissions map[int][]byte // party -> 32-byte s_i

	// final signature
	FinalR []byte
	FinalS []byte
	FinalV *byte

	CreatedAt     time.Time
	ExpiresAt     time.Time
	FailureReason Reason

	// Revision is the repository's write fence: it increments on every
	// store, so two submissions racing within the same round cannot
	// silently overwrite each other.
	Revision uint64
}

// transition moves the session to next, enforcing the legal relation.
func (s *SigningSession) transition(next Round) error {
	if !s.Round.CanTransitionTo(next) {
		return errors.Wrapf(ErrWrongRound, "illegal transition %s -> %s", s.Round, next)
	}
	s.Round = next
	return nil
}

// Expired reports whether the wall clock has passed the session deadline.
func (s *SigningSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// authorized reports whether partyID participates in this session.
func (s *SigningSession) authorized(partyID int) bool {
	for _, p := range s.RequiredParties {
		if p == partyID {
			return true
		}
	}
	return false
}

// quorum reports whether every required party appears in the given
// submission key set.
func (s *SigningSession) quorum(have func(partyID int) bool) bool {
	for _, p := range s.RequiredParties {
		if !have(p) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy. Repositories hand out clones so callers can
// never mutate stored state in place.
func (s *SigningSession) Clone() *SigningSession {
	out := *s
	out.MessageHash = append([]byte(nil), s.MessageHash...)
	out.RequiredParties = append([]int(nil), s.RequiredParties...)
	out.BigR = append([]byte(nil), s.BigR...)
	out.SigR = append([]byte(nil), s.SigR...)
	out.KTotal = append([]byte(nil), s.KTotal...)
	out.FinalR = append([]byte(nil), s.FinalR...)
	out.FinalS = append([]byte(nil), s.FinalS...)
	if s.FinalV != nil {
		v := *s.FinalV
		out.FinalV = &v
	}
	out.R1Submissions = make(map[int]*R1Entry, len(s.R1Submissions))
	for k, v := range s.R1Submissions {
		out.R1Submissions[k] = &R1Entry{
			R: append([]byte(nil), v.R...),
			K: append([]byte(nil), v.K...),
		}
	}
	out.R3Submissions = make(map[int][]byte, len(s.R3Submissions))
	for k, v := range s.R3Submissions {
		out.R3Submissions[k] = append([]byte(nil), v...)
	}
	return &out
}
