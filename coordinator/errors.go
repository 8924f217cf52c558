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
	"github.com/pkg/errors"
)

// Reason records why a session reached a terminal state. Reasons surface
// to callers alongside the session id; they never carry scalar values,
// shares, or nonces.
type Reason string

const (
	ReasonExpired          Reason = "expired"
	ReasonCancelled        Reason = "cancelled"
	ReasonDegenerateR      Reason = "degenerate_r"
	ReasonSignatureInvalid Reason = "signature_invalid"
	ReasonVNotRecoverable  Reason = "v_not_recoverable"
)

// Error kinds of the coordinator API, matched by callers with errors.Is.
var (
	ErrUnknownSession      = errors.New("unknown_session")
	ErrWrongRound          = errors.New("wrong_round")
	ErrUnauthorizedParty   = errors.New("unauthorized_party")
	ErrDuplicateSubmission = errors.New("duplicate_submission")
	ErrReplayConflict      = errors.New("replay_conflict")
	ErrDegenerateR         = errors.New("degenerate_r")
	ErrSignatureInvalid    = errors.New("signature_invalid")
	ErrExpired             = errors.New("expired")
	ErrVNotRecoverable     = errors.New("v_not_recoverable")
	ErrInvalidInput        = errors.New("invalid_input")

	// ErrStorageConflict is returned by a Repository when a CAS store
	// observes a different round than expected. The coordinator retries
	// the single operation a bounded number of times.
	ErrStorageConflict = errors.New("storage_conflict")
)
