// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Package anchor implements the periodic per-poll root-anchoring worker
// (C7): on a fixed cadence it submits each active poll's current Merkle
// root to an external ledger, retrying transient failures with backoff
// before giving up and auditing the failure. Its cadence loop follows the
// teacher's roundClockLoop/ctx-or-shutdownCh select idiom
// (engine/fastdag/engine.go), generalized from round-advance ticks to
// anchor-submission ticks; the commit envelope is a trimmed-down
// ProofBundle in the shape of certenIO-certen-validator's pkg/anchor
// (pollId, root, timestamp — no multi-validator BLS/governance proof since
// this core has no validator set to aggregate over).
package anchor

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/luxfi/ids"
	"go.uber.org/zap"

	"github.com/civora/ballotcore/internal/audit"
	"github.com/civora/ballotcore/internal/log"
	"github.com/civora/ballotcore/internal/store"
)

// Envelope is the CBOR-encoded payload submitted to the external ledger
// for one poll's root commit (§4.7, §6.3).
type Envelope struct {
	PollID string `cbor:"pollId"`
	Root   string `cbor:"root"`
	TS     string `cbor:"ts"`
}

// Ledger is the external anchoring collaborator (out of scope per spec.md
// §1; modeled only as this narrow interface). A real deployment backs this
// with a chain client, a notarization service, or similar.
type Ledger interface {
	// Submit commits envelope to the ledger and returns its external
	// transaction reference. Any error is retried with backoff up to the
	// worker's retry budget before the commit is treated as failed.
	Submit(ctx context.Context, envelope []byte) (externalTxRef string, err error)
}

// Metrics counts commit/failure outcomes. Left nil, the worker simply
// doesn't count — local to this package so it has no hard dependency on
// internal/metrics, the same narrow-interface shape as Ledger above.
type Metrics interface {
	AnchorCommitted()
	AnchorFailed()
}

// Worker runs the anchor cadence loop.
type Worker struct {
	store    *store.Store
	ledger   Ledger
	chain    *audit.Chain
	log      log.Logger
	interval time.Duration

	// Metrics is optional; set after New if the caller wants commit/failure
	// counts exported.
	Metrics Metrics

	// Retry tuning for submitWithBackoff (§4.7: base 30s, cap 30min, capped
	// attempts). Exposed as fields, not constants, so tests can shrink them
	// instead of waiting out real-world backoff timings.
	backoffInitial time.Duration
	backoffMax     time.Duration
	backoffElapsed time.Duration
	backoffRetries uint64

	shutdownCh chan struct{}
}

// New builds an anchor Worker. interval is the poll-sweep cadence
// (spec.md default: 10 minutes).
func New(s *store.Store, ledger Ledger, chain *audit.Chain, logger log.Logger, interval time.Duration) *Worker {
	return &Worker{
		store:          s,
		ledger:         ledger,
		chain:          chain,
		log:            logger,
		interval:       interval,
		backoffInitial: 30 * time.Second,
		backoffMax:     30 * time.Minute,
		backoffElapsed: 2 * time.Hour,
		backoffRetries: 6,
		shutdownCh:     make(chan struct{}),
	}
}

// Run blocks, sweeping on the configured cadence until ctx is cancelled or
// Stop is called. It never shares a lock with the vote-submission path
// (spec.md §5: "the anchor worker blocks on the external ledger; it MUST
// NOT hold any lock shared with the vote path").
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdownCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop signals Run to return. Safe to call once.
func (w *Worker) Stop() {
	close(w.shutdownCh)
}

func (w *Worker) sweep(ctx context.Context) {
	pollIDs, err := w.store.ListActivePollIDs(ctx)
	if err != nil {
		w.log.Error("anchor: list active polls failed", zap.Error(err))
		return
	}
	for _, pollID := range pollIDs {
		if err := w.anchorOne(ctx, pollID); err != nil {
			w.log.Warn("anchor: poll anchoring did not complete", zap.String("pollId", pollID), zap.Error(err))
		}
	}
}

// anchorOne anchors a single poll's current root if it differs from the
// last anchored one (§4.7: idempotent — only submits when the root moved).
func (w *Worker) anchorOne(ctx context.Context, pollID string) error {
	root, err := w.store.GetPollRoot(ctx, pollID)
	if err != nil {
		return fmt.Errorf("anchor: read poll root: %w", err)
	}
	if root.CurrentRoot == "" {
		return nil // no votes yet, nothing to anchor
	}

	last, err := w.store.LatestAnchor(ctx, pollID)
	if err == nil && last.Root == root.CurrentRoot {
		return nil // already anchored, idempotent no-op
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("anchor: read latest anchor: %w", err)
	}

	envelope, err := cbor.Marshal(Envelope{
		PollID: pollID,
		Root:   root.CurrentRoot,
		TS:     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("anchor: encode envelope: %w", err)
	}

	txRef, err := w.submitWithBackoff(ctx, envelope)
	if err != nil {
		w.auditBestEffort(ctx, audit.KindAnchorFailed, map[string]interface{}{
			"pollId": pollID, "root": root.CurrentRoot, "error": err.Error(),
		})
		if w.Metrics != nil {
			w.Metrics.AnchorFailed()
		}
		return fmt.Errorf("anchor: submit: %w", err)
	}

	anchorID, err := newAnchorID()
	if err != nil {
		return fmt.Errorf("anchor: generate anchor id: %w", err)
	}
	if err := w.store.InsertAnchor(ctx, store.Anchor{
		ID:            anchorID,
		PollID:        pollID,
		Root:          root.CurrentRoot,
		ExternalTxRef: txRef,
		SubmittedAt:   time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("anchor: persist anchor row: %w", err)
	}
	w.auditBestEffort(ctx, audit.KindAnchorCommitted, map[string]interface{}{
		"pollId": pollID, "root": root.CurrentRoot, "externalTxRef": txRef,
	})
	if w.Metrics != nil {
		w.Metrics.AnchorCommitted()
	}
	w.log.Info("anchor: committed", zap.String("pollId", pollID), zap.String("root", root.CurrentRoot))
	return nil
}

// submitWithBackoff retries a transient ledger failure with exponential
// backoff: base 30s, cap 30min, capped attempts (§4.7).
func (w *Worker) submitWithBackoff(ctx context.Context, envelope []byte) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.backoffInitial
	bo.MaxInterval = w.backoffMax
	bo.MaxElapsedTime = w.backoffElapsed
	bounded := backoff.WithMaxRetries(bo, w.backoffRetries)

	var txRef string
	operation := func() error {
		ref, err := w.ledger.Submit(ctx, envelope)
		if err != nil {
			return err
		}
		txRef = ref
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(bounded, ctx)); err != nil {
		return "", err
	}
	return txRef, nil
}

func (w *Worker) auditBestEffort(ctx context.Context, kind audit.Kind, payload map[string]interface{}) {
	if err := w.chain.Append(ctx, kind, payload); err != nil {
		w.log.Error("anchor: audit append failed", zap.Error(err))
	}
}

// newAnchorID mints the anchor row's primary key via the teacher's ids.ID
// idiom (see vote.newVoteID), rather than a bare UUID.
func newAnchorID() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return ids.ID(raw).String(), nil
}
