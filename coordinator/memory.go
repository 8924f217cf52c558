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
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryRepository is the embedded Repository used by tests and
// single-process deployments. Production backends implement Repository
// over their own store.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*SigningSession
	vaults   map[string]*Vault
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*SigningSession),
		vaults:   make(map[string]*Vault),
	}
}

// PutVault registers a vault record. Not part of the Repository interface;
// vault provisioning is the setup ceremony's job.
func (r *MemoryRepository) PutVault(v *Vault) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vaults[v.VaultID] = v
}

func (r *MemoryRepository) LoadSession(sessionID string) (*SigningSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSession, "session %s", sessionID)
	}
	return sess.Clone(), nil
}

func (r *MemoryRepository) StoreSessionCAS(sess *SigningSession, expectedRound Round) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.sessions[sess.SessionID]
	if expectedRound == "" {
		if exists {
			return errors.Wrapf(ErrStorageConflict, "session %s already exists", sess.SessionID)
		}
		cp := sess.Clone()
		cp.Revision = 1
		r.sessions[sess.SessionID] = cp
		sess.Revision = cp.Revision
		return nil
	}
	if !exists {
		return errors.Wrapf(ErrUnknownSession, "session %s", sess.SessionID)
	}
	if stored.Round != expectedRound {
		return errors.Wrapf(ErrStorageConflict, "session %s is at %s, expected %s",
			sess.SessionID, stored.Round, expectedRound)
	}
	if stored.Revision != sess.Revision {
		return errors.Wrapf(ErrStorageConflict, "session %s was updated concurrently", sess.SessionID)
	}
	cp := sess.Clone()
	cp.Revision = stored.Revision + 1
	r.sessions[sess.SessionID] = cp
	sess.Revision = cp.Revision
	return nil
}

func (r *MemoryRepository) ListExpired(now time.Time) ([]*SigningSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*SigningSession
	for _, sess := range r.sessions {
		if !sess.Round.Terminal() && sess.Expired(now) {
			out = append(out, sess.Clone())
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetVault(vaultID string) (*Vault, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vaults[vaultID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSession, "vault %s", vaultID)
	}
	cp := *v
	cp.Guardians = append([]int(nil), v.Guardians...)
	return &cp, nil
}

func (r *MemoryRepository) ListGuardians(vaultID string) ([]int, error) {
	v, err := r.GetVault(vaultID)
	if err != nil {
		return nil, err
	}
	return v.Guardians, nil
}
