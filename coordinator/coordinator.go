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

// Package coordinator drives signing sessions through the four-round
// threshold ECDSA protocol. Many sessions progress concurrently; within a
// session every mutation goes through a compare-and-update on
// (session_id, expected_round), so submissions arriving in parallel are
// serialized by the repository.
package coordinator

import (
	"bytes"
	"context"
	"encoding/hex"
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/guardianvault/custody/common"
	"github.com/guardianvault/custody/crypto"
	"github.com/guardianvault/custody/crypto/ckd"
	"github.com/guardianvault/custody/ecdsa/signing"
)

// Logger is the logging surface the coordinator needs. A
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Config holds coordinator tunables. Zero values fall back to defaults.
type Config struct {
	// SessionTTL bounds every session's lifetime. Default 10 minutes.
	SessionTTL time.Duration
	// SweepInterval is the expiry sweeper cadence. Default 30 seconds.
	SweepInterval time.Duration
	// CASRetries bounds retries of a single storage operation after a
	// storage_conflict. Default 5.
	CASRetries int
}

func DefaultConfig() Config {
	return Config{
		SessionTTL:    10 * time.Minute,
		SweepInterval: 30 * time.Second,
		CASRetries:    5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SessionTTL <= 0 {
		c.SessionTTL = d.SessionTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.CASRetries <= 0 {
		c.CASRetries = d.CASRetries
	}
	return c
}

// Coordinator orchestrates signing sessions. It holds no share material:
// only nonce points, nonce sums, and partial signatures pass through it.
type Coordinator struct {
	repo Repository
	cfg  Config
	log  Logger
	now  func() time.Time

	// seenNonces maps vault id -> hex(R_i) -> session id, rejecting a
	// nonce point replayed into a different session of the same vault.
	noncesMu   sync.Mutex
	seenNonces map[string]map[string]string
}

func New(repo Repository, cfg Config, log Logger) *Coordinator {
	return &Coordinator{
		repo:       repo,
		cfg:        cfg.withDefaults(),
		log:        log,
		now:        time.Now,
		seenNonces: make(map[string]map[string]string),
	}
}

// CreateSessionRequest describes one signing ceremony.
type CreateSessionRequest struct {
	VaultID         string
	RequiredParties []int
	MessageHash     []byte // 32 bytes, the z fed to the MPC
	// DerivationPath is the non-hardened path below the vault's account
	// xpub the signature must verify under, e.g. "0/0". Empty signs with
	// the account key itself.
	DerivationPath string
	// TTL overrides Config.SessionTTL when positive.
	TTL time.Duration
}

// SubmitResult is returned by both submission operations.
type SubmitResult struct {
	Status string // "accepted" or "duplicate"
	Round  Round
}

// Round2Info is the coordinator broadcast consumed by guardians before
// round 3.
type Round2Info struct {
	R      []byte // 33-byte compressed combined nonce point
	SigR   []byte // 32 bytes
	KTotal []byte // 32 bytes
}

// FinalSignature is the completed ceremony output.
type FinalSignature struct {
	R []byte // 32 bytes
	S []byte // 32 bytes, low-S
	V *byte  // recovery id, 0 or 1
}

// CreateSigningSession validates the request, persists a fresh session in
// r1_collecting, and returns its id.
func (c *Coordinator) CreateSigningSession(req CreateSessionRequest) (string, error) {
	if len(req.MessageHash) != 32 {
		return "", errors.Wrapf(ErrInvalidInput, "message hash must be 32 bytes, got %d", len(req.MessageHash))
	}
	vault, err := c.repo.GetVault(req.VaultID)
	if err != nil {
		return "", err
	}
	if len(req.RequiredParties) != vault.NParties {
		return "", errors.Wrapf(ErrInvalidInput, "vault %s requires all %d parties", req.VaultID, vault.NParties)
	}
	seen := make(map[int]bool, len(req.RequiredParties))
	for _, p := range req.RequiredParties {
		if seen[p] {
			return "", errors.Wrapf(ErrInvalidInput, "duplicate party %d", p)
		}
		seen[p] = true
		if !containsParty(vault.Guardians, p) {
			return "", errors.Wrapf(ErrUnauthorizedParty, "party %d is not a guardian of vault %s", p, req.VaultID)
		}
	}
	if req.DerivationPath != "" {
		indices, err := ckd.ParseDerivationPath(req.DerivationPath)
		if err != nil {
			return "", errors.Wrap(ErrInvalidInput, err.Error())
		}
		for _, idx := range indices {
			if ckd.IsHardened(idx) {
				return "", errors.Wrap(ErrInvalidInput, "session derivation path must be non-hardened")
			}
		}
	}

	idBytes, err := common.GetRandomBytes(16)
	if err != nil {
		return "", err
	}
	sessionID := hex.EncodeToString(idBytes)

	ttl := req.TTL
	if ttl <= 0 {
		ttl = c.cfg.SessionTTL
	}
	now := c.now()
	sess := &SigningSession{
		SessionID:       sessionID,
		VaultID:         req.VaultID,
		MessageHash:     append([]byte(nil), req.MessageHash...),
		DerivationPath:  req.DerivationPath,
		RequiredParties: append([]int(nil), req.RequiredParties...),
		Round:           RoundCreated,
		R1Submissions:   make(map[int]*R1Entry),
		R3Submissions:   make(map[int][]byte),
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}
	if err := sess.transition(RoundR1Collecting); err != nil {
		return "", err
	}
	if err := c.repo.StoreSessionCAS(sess, ""); err != nil {
		return "", err
	}
	c.log.Infof("session %s created for vault %s, %d parties, expires %s",
		sessionID, req.VaultID, len(req.RequiredParties), sess.ExpiresAt.Format(time.RFC3339))
	return sessionID, nil
}

// SubmitRound1 records a guardian's (R_i, k_i) nonce submission. When the
// last required party arrives the coordinator combines, checks for a
// degenerate nonce, and broadcasts by advancing to r3_collecting.
func (c *Coordinator) SubmitRound1(sessionID string, partyID int, rBytes, kBytes []byte) (*SubmitResult, error) {
	if len(rBytes) != 33 {
		return nil, errors.Wrapf(ErrInvalidInput, "R_i must be 33 bytes, got %d", len(rBytes))
	}
	if len(kBytes) != 32 {
		return nil, errors.Wrapf(ErrInvalidInput, "k_i must be 32 bytes, got %d", len(kBytes))
	}

	var result *SubmitResult
	err := c.withCASRetry(func() error {
		sess, err := c.loadLive(sessionID)
		if err != nil {
			return err
		}

		if entry, ok := sess.R1Submissions[partyID]; ok {
			if entry.equal(&R1Entry{R: rBytes, K: kBytes}) {
				result = &SubmitResult{Status: "duplicate", Round: sess.Round}
				return nil
			}
			return errors.Wrapf(ErrReplayConflict, "party %d resubmitted a different R1 payload", partyID)
		}
		if sess.Round != RoundR1Collecting {
			return errors.Wrapf(ErrWrongRound, "session %s is at %s", sessionID, sess.Round)
		}
		if err := c.authorize(sess, partyID); err != nil {
			return err
		}

		point, err := crypto.ParseCompressed(crypto.S256(), rBytes)
		if err != nil || point.IsIdentity() {
			return errors.Wrapf(ErrInvalidInput, "party %d sent an invalid nonce point", partyID)
		}
		ki := new(big.Int).SetBytes(kBytes)
		if !common.IsInInterval(ki, crypto.S256().Params().N) {
			return errors.Wrapf(ErrInvalidInput, "party %d sent an out-of-range nonce scalar", partyID)
		}
		if err := c.markNonce(sess.VaultID, sessionID, rBytes); err != nil {
			return err
		}

		sess.R1Submissions[partyID] = &R1Entry{
			R: append([]byte(nil), rBytes...),
			K: append([]byte(nil), kBytes...),
		}

		if !sess.quorum(func(p int) bool { _, ok := sess.R1Submissions[p]; return ok }) {
			if err := c.repo.StoreSessionCAS(sess, RoundR1Collecting); err != nil {
				return err
			}
			result = &SubmitResult{Status: "accepted", Round: sess.Round}
			return nil
		}

		// quorum: combine and either fail the session or broadcast
		if err := c.combineRound1(sess); err != nil {
			return err
		}
		result = &SubmitResult{Status: "accepted", Round: sess.Round}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// combineRound1 advances r1_collecting -> r2_ready -> r3_collecting, or to
// failed:degenerate_r when the combined nonce is unusable.
func (c *Coordinator) combineRound1(sess *SigningSession) error {
	subs := make([]*signing.Round1Submission, 0, len(sess.RequiredParties))
	for _, p := range sess.RequiredParties {
		entry := sess.R1Submissions[p]
		point, err := crypto.ParseCompressed(crypto.S256(), entry.R)
		if err != nil {
			return errors.Wrapf(ErrInvalidInput, "stored R1 point of party %d is corrupt", p)
		}
		subs = append(subs, &signing.Round1Submission{
			R: point,
			K: new(big.Int).SetBytes(entry.K),
		})
	}

	bcast, err := signing.CombineRound1(subs)
	if err != nil {
		if errors.Is(err, signing.ErrIdentityR) || errors.Is(err, signing.ErrDegenerateR) {
			c.log.Warnf("session %s: degenerate combined nonce, failing", sess.SessionID)
			if terr := sess.transition(RoundFailed); terr != nil {
				return terr
			}
			sess.FailureReason = ReasonDegenerateR
			if serr := c.repo.StoreSessionCAS(sess, RoundR1Collecting); serr != nil {
				return serr
			}
			return errors.Wrapf(ErrDegenerateR, "session %s", sess.SessionID)
		}
		return err
	}

	sess.BigR = bcast.R.SerializeCompressed()
	sess.SigR = common.BigIntToBytes32(bcast.SigR)
	sess.KTotal = common.BigIntToBytes32(bcast.K)
	if err := sess.transition(RoundR2Ready); err != nil {
		return err
	}
	if err := c.repo.StoreSessionCAS(sess, RoundR1Collecting); err != nil {
		return err
	}
	// the broadcast is the act of making (r, k) pollable
	if err := sess.transition(RoundR3Collecting); err != nil {
		return err
	}
	if err := c.repo.StoreSessionCAS(sess, RoundR2Ready); err != nil {
		return err
	}
	c.log.Infof("session %s: all R1 collected, broadcast ready", sess.SessionID)
	return nil
}

// PollRound2 returns the combined (R, r, k) once the session has passed
// round 2.
func (c *Coordinator) PollRound2(sessionID string) (*Round2Info, error) {
	sess, err := c.loadLive(sessionID)
	if err != nil {
		return nil, err
	}
	switch sess.Round {
	case RoundR3Collecting, RoundR4Ready, RoundCompleted:
		return &Round2Info{
			R:      append([]byte(nil), sess.BigR...),
			SigR:   append([]byte(nil), sess.SigR...),
			KTotal: append([]byte(nil), sess.KTotal...),
		}, nil
	case RoundFailed:
		return nil, c.terminalError(sess)
	default:
		return nil, errors.Wrapf(ErrWrongRound, "session %s is at %s", sessionID, sess.Round)
	}
}

// SubmitRound3 records a guardian's partial signature. When the last one
// arrives the coordinator combines, verifies, recovers v, and completes
// the session.
func (c *Coordinator) SubmitRound3(sessionID string, partyID int, siBytes []byte) (*SubmitResult, error) {
	if len(siBytes) != 32 {
		return nil, errors.Wrapf(ErrInvalidInput, "s_i must be 32 bytes, got %d", len(siBytes))
	}

	var result *SubmitResult
	err := c.withCASRetry(func() error {
		sess, err := c.loadLive(sessionID)
		if err != nil {
			return err
		}

		if stored, ok := sess.R3Submissions[partyID]; ok {
			if bytes.Equal(stored, siBytes) {
				result = &SubmitResult{Status: "duplicate", Round: sess.Round}
				return nil
			}
			return errors.Wrapf(ErrReplayConflict, "party %d resubmitted a different R3 payload", partyID)
		}
		if sess.Round != RoundR3Collecting {
			return errors.Wrapf(ErrWrongRound, "session %s is at %s", sessionID, sess.Round)
		}
		if err := c.authorize(sess, partyID); err != nil {
			return err
		}
		si := new(big.Int).SetBytes(siBytes)
		if !common.IsInInterval(si, crypto.S256().Params().N) {
			return errors.Wrapf(ErrInvalidInput, "party %d sent an out-of-range partial signature", partyID)
		}

		sess.R3Submissions[partyID] = append([]byte(nil), siBytes...)

		if !sess.quorum(func(p int) bool { _, ok := sess.R3Submissions[p]; return ok }) {
			if err := c.repo.StoreSessionCAS(sess, RoundR3Collecting); err != nil {
				return err
			}
			result = &SubmitResult{Status: "accepted", Round: sess.Round}
			return nil
		}

		if err := c.finalize(sess); err != nil {
			return err
		}
		result = &SubmitResult{Status: "accepted", Round: sess.Round}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// finalize advances r3_collecting -> r4_ready -> completed|failed.
func (c *Coordinator) finalize(sess *SigningSession) error {
	if err := sess.transition(RoundR4Ready); err != nil {
		return err
	}
	if err := c.repo.StoreSessionCAS(sess, RoundR3Collecting); err != nil {
		return err
	}

	pub, err := c.sessionPublicKey(sess)
	if err != nil {
		return err
	}

	sis := make([]*big.Int, 0, len(sess.RequiredParties))
	for _, p := range sess.RequiredParties {
		sis = append(sis, new(big.Int).SetBytes(sess.R3Submissions[p]))
	}
	r := new(big.Int).SetBytes(sess.SigR)

	sig, err := signing.CombineRound3(sis, r, sess.MessageHash, pub)
	if err != nil {
		if errors.Is(err, signing.ErrSignatureInvalid) {
			return c.failFromR4(sess, ReasonSignatureInvalid, ErrSignatureInvalid)
		}
		return err
	}

	v, err := signing.RecoverV(sig, sess.MessageHash, pub)
	if err != nil {
		return c.failFromR4(sess, ReasonVNotRecoverable, ErrVNotRecoverable)
	}

	sess.FinalR = common.BigIntToBytes32(sig.R)
	sess.FinalS = common.BigIntToBytes32(sig.S)
	sess.FinalV = &v
	if err := sess.transition(RoundCompleted); err != nil {
		return err
	}
	if err := c.repo.StoreSessionCAS(sess, RoundR4Ready); err != nil {
		return err
	}
	c.log.Infof("session %s completed", sess.SessionID)
	return nil
}

func (c *Coordinator) failFromR4(sess *SigningSession, reason Reason, kind error) error {
	c.log.Errorf("session %s failed: %s", sess.SessionID, reason)
	if err := sess.transition(RoundFailed); err != nil {
		return err
	}
	sess.FailureReason = reason
	if err := c.repo.StoreSessionCAS(sess, RoundR4Ready); err != nil {
		return err
	}
	return errors.Wrapf(kind, "session %s", sess.SessionID)
}

// FinalSignature returns (r, s, v) for a completed session.
func (c *Coordinator) FinalSignature(sessionID string) (*FinalSignature, error) {
	sess, err := c.loadLive(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Round != RoundCompleted {
		if sess.Round.Terminal() {
			return nil, c.terminalError(sess)
		}
		return nil, errors.Wrapf(ErrWrongRound, "session %s is at %s", sessionID, sess.Round)
	}
	out := &FinalSignature{
		R: append([]byte(nil), sess.FinalR...),
		S: append([]byte(nil), sess.FinalS...),
	}
	if sess.FinalV != nil {
		v := *sess.FinalV
		out.V = &v
	}
	return out, nil
}

// GetSession returns a snapshot of the session ledger entry.
func (c *Coordinator) GetSession(sessionID string) (*SigningSession, error) {
	sess, err := c.repo.LoadSession(sessionID)
	if err != nil {
		return nil, err
	}
	c.expireInPlace(sess)
	return sess, nil
}

// Cancel aborts a session. Cancellation is effective only while the
// session is collecting submissions.
func (c *Coordinator) Cancel(sessionID string) error {
	return c.withCASRetry(func() error {
		sess, err := c.repo.LoadSession(sessionID)
		if err != nil {
			return err
		}
		if sess.Round.Terminal() {
			return errors.Wrapf(ErrWrongRound, "session %s is already %s", sessionID, sess.Round)
		}
		if sess.Round != RoundR1Collecting && sess.Round != RoundR3Collecting {
			return errors.Wrapf(ErrWrongRound, "session %s is at %s and cannot be cancelled", sessionID, sess.Round)
		}
		prev := sess.Round
		if err := sess.transition(RoundExpired); err != nil {
			return err
		}
		sess.FailureReason = ReasonCancelled
		if err := c.repo.StoreSessionCAS(sess, prev); err != nil {
			return err
		}
		c.log.Infof("session %s cancelled", sessionID)
		return nil
	})
}

// ExpireSessions transitions every deadline-passed session to expired and
// returns the count.
func (c *Coordinator) ExpireSessions(now time.Time) (int, error) {
	expired, err := c.repo.ListExpired(now)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, sess := range expired {
		err := c.withCASRetry(func() error {
			fresh, err := c.repo.LoadSession(sess.SessionID)
			if err != nil {
				return err
			}
			if fresh.Round.Terminal() || !fresh.Expired(now) {
				return nil
			}
			return c.storeExpired(fresh)
		})
		if err != nil {
			c.log.Warnf("failed to expire session %s: %v", sess.SessionID, err)
			continue
		}
		count++
	}
	return count, nil
}

// RunSweeper expires sessions on a fixed cadence until the context ends.
func (c *Coordinator) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := c.ExpireSessions(c.now()); err != nil {
				c.log.Errorf("expiry sweep failed: %v", err)
			} else if n > 0 {
				c.log.Infof("expired %d sessions", n)
			}
		}
	}
}

// --- internal helpers ---

// loadLive loads a session, lazily expiring it when the deadline passed.
// Terminal sessions other than completed surface their reason as an error
// only from operations that need a live session; loadLive itself returns
// expired sessions as ErrExpired.
func (c *Coordinator) loadLive(sessionID string) (*SigningSession, error) {
	sess, err := c.repo.LoadSession(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Round.Terminal() && sess.Expired(c.now()) {
		if err := c.storeExpired(sess); err != nil && !errors.Is(err, ErrStorageConflict) {
			return nil, err
		}
		return nil, errors.Wrapf(ErrExpired, "session %s", sessionID)
	}
	if sess.Round == RoundExpired {
		return nil, errors.Wrapf(ErrExpired, "session %s", sessionID)
	}
	return sess, nil
}

// storeExpired drives a non-terminal session to expired, stepping through
// the internal broadcast transition when the session sits in a ready state.
func (c *Coordinator) storeExpired(sess *SigningSession) error {
	prev := sess.Round
	if sess.Round == RoundR2Ready {
		if err := sess.transition(RoundR3Collecting); err != nil {
			return err
		}
		if err := c.repo.StoreSessionCAS(sess, prev); err != nil {
			return err
		}
		prev = sess.Round
	}
	if err := sess.transition(RoundExpired); err != nil {
		return err
	}
	if sess.FailureReason == "" {
		sess.FailureReason = ReasonExpired
	}
	return c.repo.StoreSessionCAS(sess, prev)
}

func (c *Coordinator) expireInPlace(sess *SigningSession) {
	if !sess.Round.Terminal() && sess.Expired(c.now()) {
		if err := c.storeExpired(sess); err != nil {
			c.log.Debugf("lazy expiry of %s lost a race: %v", sess.SessionID, err)
		}
	}
}

func (c *Coordinator) authorize(sess *SigningSession, partyID int) error {
	if !sess.authorized(partyID) {
		return errors.Wrapf(ErrUnauthorizedParty, "party %d is not required by session %s", partyID, sess.SessionID)
	}
	guardians, err := c.repo.ListGuardians(sess.VaultID)
	if err != nil {
		return err
	}
	if !containsParty(guardians, partyID) {
		return errors.Wrapf(ErrUnauthorizedParty, "party %d is not a guardian of vault %s", partyID, sess.VaultID)
	}
	return nil
}

// sessionPublicKey derives the public key the final signature must verify
// under: the vault's account xpub descended along the session path.
func (c *Coordinator) sessionPublicKey(sess *SigningSession) (*crypto.ECPoint, error) {
	vault, err := c.repo.GetVault(sess.VaultID)
	if err != nil {
		return nil, err
	}
	xpub, err := ckd.ParseExtendedKey(vault.AccountXpub)
	if err != nil {
		return nil, errors.Wrapf(err, "vault %s has a corrupt account xpub", sess.VaultID)
	}
	if sess.DerivationPath == "" {
		return xpub.PublicKey, nil
	}
	indices, err := ckd.ParseDerivationPath(sess.DerivationPath)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidInput, err.Error())
	}
	_, child, err := ckd.DeriveChildKeyFromHierarchy(indices, xpub)
	if err != nil {
		return nil, err
	}
	return child.PublicKey, nil
}

func (c *Coordinator) terminalError(sess *SigningSession) error {
	switch sess.FailureReason {
	case ReasonDegenerateR:
		return errors.Wrapf(ErrDegenerateR, "session %s", sess.SessionID)
	case ReasonSignatureInvalid:
		return errors.Wrapf(ErrSignatureInvalid, "session %s", sess.SessionID)
	case ReasonVNotRecoverable:
		return errors.Wrapf(ErrVNotRecoverable, "session %s", sess.SessionID)
	case ReasonExpired, ReasonCancelled:
		return errors.Wrapf(ErrExpired, "session %s", sess.SessionID)
	default:
		return errors.Wrapf(ErrWrongRound, "session %s is %s", sess.SessionID, sess.Round)
	}
}

// markNonce enforces the cross-session nonce-uniqueness marker.
func (c *Coordinator) markNonce(vaultID, sessionID string, rBytes []byte) error {
	c.noncesMu.Lock()
	defer c.noncesMu.Unlock()
	key := hex.EncodeToString(rBytes)
	vaultNonces, ok := c.seenNonces[vaultID]
	if !ok {
		vaultNonces = make(map[string]string)
		c.seenNonces[vaultID] = vaultNonces
	}
	if owner, seen := vaultNonces[key]; seen && owner != sessionID {
		return errors.Wrapf(ErrReplayConflict, "nonce point replayed from session %s", owner)
	}
	vaultNonces[key] = sessionID
	return nil
}

func (c *Coordinator) withCASRetry(op func() error) error {
	var err error
	for attempt := 0; attempt < c.cfg.CASRetries; attempt++ {
		if err = op(); !errors.Is(err, ErrStorageConflict) {
			return err
		}
	}
	return errors.Wrap(ErrStorageConflict, "transient: retries exhausted")
}

func containsParty(list []int, p int) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}
