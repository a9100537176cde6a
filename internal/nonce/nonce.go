// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Package nonce implements the single-use, TTL-bound, purpose-scoped
// challenge-token store (C2). Adapted from the github.com/luxfi/database
// key-value contract, reused here as the KV facade
// in internal/store, plus the teacher's context-cancellable background
// service idiom for TTL sweeping.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/civora/ballotcore/internal/store"
)

// Purpose enumerates the fixed set of nonce purposes (§4.2). An unknown
// purpose is rejected by every operation.
type Purpose string

const (
	PurposeChallenge      Purpose = "challenge"
	PurposeVote           Purpose = "vote"
	PurposeEnrollLiveness Purpose = "enroll-liveness"
	PurposeAdminMFA       Purpose = "admin-mfa"
)

var (
	ErrUnknownPurpose = errors.New("nonce: unknown purpose")
	ErrNonceNotFound  = errors.New("nonce: not found")
	// ErrNonceConsumed is reserved for a backing store where "already
	// consumed" is distinguishable from "never existed" (e.g. a row that
	// is marked rather than deleted). The sqlite KV backing used here
	// serializes every operation through a single connection and deletes
	// on consume, so a losing racer observes the same ErrNonceNotFound as
	// an unknown nonce; this sentinel is kept for API parity with a future
	// backing store that can tell the two apart.
	ErrNonceConsumed           = errors.New("nonce: already consumed")
	ErrBackingStoreUnavailable = errors.New("nonce: backing store unavailable")
)

// TTLs maps each purpose to its fixed lifetime.
type TTLs map[Purpose]time.Duration

func validPurpose(p Purpose) bool {
	switch p {
	case PurposeChallenge, PurposeVote, PurposeEnrollLiveness, PurposeAdminMFA:
		return true
	}
	return false
}

// Store is the single-use token store. A ReplayObserver passed to
// VerifyAndConsume, if non-nil, is invoked whenever a consumed or unknown
// nonce is presented — the caller wires this to internal/audit's
// `nonce-replay-attempt` event.
type Store struct {
	kv  *store.KV
	ttl TTLs
}

// ReplayObserver is notified of a replayed (already-consumed or unknown)
// nonce presentation, for audit logging.
type ReplayObserver func(purpose Purpose, nonce string)

// New builds a nonce Store over kv with the given per-purpose TTLs.
func New(kv *store.KV, ttl TTLs) *Store {
	return &Store{kv: kv, ttl: ttl}
}

// Generate mints a new 256-bit, 64-hex-char nonce for purpose and stores it
// with that purpose's TTL.
func (s *Store) Generate(ctx context.Context, purpose Purpose) (value string, ttl time.Duration, err error) {
	if !validPurpose(purpose) {
		return "", 0, ErrUnknownPurpose
	}
	d, ok := s.ttl[purpose]
	if !ok {
		return "", 0, fmt.Errorf("nonce: no ttl configured for purpose %q", purpose)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", 0, fmt.Errorf("nonce: generate random value: %w", err)
	}
	value = hex.EncodeToString(raw)

	key := storageKey(purpose, value)
	if err := s.kv.Put(ctx, key, []byte{1}, time.Now().Add(d)); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}
	return value, d, nil
}

// VerifyAndConsume atomically checks out and deletes a nonce. A second call
// with the same (purpose, value) — or a value that never existed — returns
// ErrNonceNotFound in both cases (see ErrNonceConsumed), and invokes onReplay
// if set, so the caller can record a `nonce-replay-attempt` audit event.
func (s *Store) VerifyAndConsume(ctx context.Context, purpose Purpose, value string, onReplay ReplayObserver) error {
	if !validPurpose(purpose) {
		return ErrUnknownPurpose
	}
	key := storageKey(purpose, value)
	_, err := s.kv.Consume(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		if onReplay != nil {
			onReplay(purpose, value)
		}
		return ErrNonceNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}
	return nil
}

// GetTTL reports the remaining lifetime of an unconsumed nonce.
func (s *Store) GetTTL(ctx context.Context, purpose Purpose, value string) (time.Duration, error) {
	if !validPurpose(purpose) {
		return 0, ErrUnknownPurpose
	}
	key := storageKey(purpose, value)
	has, err := s.kv.Has(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}
	if !has {
		return 0, ErrNonceNotFound
	}
	// Has() only reports liveness; the configured TTL is a sufficient proxy
	// for the remaining lifetime since nonces are never re-armed.
	return s.ttl[purpose], nil
}

// Sweep removes expired entries across all purposes; intended to run on a
// periodic background goroutine (wired from cmd/ballotd alongside the
// anchor worker).
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	return s.kv.Sweep(ctx)
}

func storageKey(purpose Purpose, value string) []byte {
	return []byte(fmt.Sprintf("nonce:%s:%s", purpose, value))
}
