// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vote implements the vote-submission transaction engine (C6) —
// the hard part: take a vote request, decide atomically whether to accept
// it, and leave the system in a consistent state. Its per-poll-mutex
// serialization of the Merkle-root update generalizes the choices-project
// PollManager's repo-backed poll/vote managers
// (other_examples/6e0604d5_choices-project-choices__server-po-internal-poll-poll.go)
// to the full eligibility/nullifier/transaction pipeline spec.md §4.6
// requires.
package vote

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/ids"

	"github.com/civora/ballotcore/internal/audit"
	"github.com/civora/ballotcore/internal/credential"
	"github.com/civora/ballotcore/internal/merkle"
	"github.com/civora/ballotcore/internal/nonce"
	"github.com/civora/ballotcore/internal/nullifier"
	"github.com/civora/ballotcore/internal/receipt"
	"github.com/civora/ballotcore/internal/store"
	"github.com/civora/ballotcore/internal/xcrypto"
)

// Code is the typed operational error taxonomy returned to callers (§7).
type Code string

const (
	CodeNonceInvalid        Code = "NonceInvalid"
	CodePollInactive        Code = "PollInactive"
	CodeOptionInvalid       Code = "OptionInvalid"
	CodeIneligible          Code = "Ineligible"
	CodeNullifierMismatch   Code = "NullifierMismatch"
	CodeAlreadyVoted        Code = "AlreadyVoted"
	CodeNotFound            Code = "NotFound"
	CodeBackingStoreUnavail Code = "BackingStoreUnavailable"
)

// Error wraps an operational Code with a human-readable message. It never
// carries credential or demographic data.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func opErr(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// AsCode extracts the Code from err, if it is (or wraps) an *Error.
func AsCode(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// Request is a vote submission (§4.6).
type Request struct {
	PollID           string
	OptionID         string
	ClaimedNullifier string // optional, client-supplied, for self-verification
	Nonce            string
	Signature        string // client-side binding, forwarded to audit only
	Attestation      string // opaque device attestation; neither checked nor recorded
	Credential       credential.Credential
}

// Result is returned on acceptance.
type Result struct {
	Receipt receipt.Signed
	TxRef   string
}

// Engine is the vote-submission transaction engine.
type Engine struct {
	store      *store.Store
	nonces     *nonce.Store
	nullifiers *nullifier.Service
	leafHasher xcrypto.LeafHasher
	signer     *receipt.Signer
	audit      *audit.Chain
	bucketWin  time.Duration

	mu        sync.Mutex
	pollLocks map[string]*sync.Mutex
}

// New builds a vote Engine.
func New(s *store.Store, nonces *nonce.Store, nullifiers *nullifier.Service, leafHasher xcrypto.LeafHasher, signer *receipt.Signer, chain *audit.Chain, bucketWindow time.Duration) *Engine {
	return &Engine{
		store:      s,
		nonces:     nonces,
		nullifiers: nullifiers,
		leafHasher: leafHasher,
		signer:     signer,
		audit:      chain,
		bucketWin:  bucketWindow,
		pollLocks:  make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(pollID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.pollLocks[pollID]
	if !ok {
		l = &sync.Mutex{}
		e.pollLocks[pollID] = l
	}
	return l
}

// Submit runs the full vote-submission pipeline (§4.6 steps 1-7).
func (e *Engine) Submit(ctx context.Context, req Request) (Result, error) {
	// Step 1: nonce redemption. No writes yet.
	if err := e.nonces.VerifyAndConsume(ctx, nonce.PurposeVote, req.Nonce, e.onNonceReplay(ctx, req.PollID)); err != nil {
		if errors.Is(err, nonce.ErrBackingStoreUnavailable) {
			return Result{}, opErr(CodeBackingStoreUnavail, "nonce store unavailable")
		}
		return Result{}, opErr(CodeNonceInvalid, "nonce missing, expired, or already consumed")
	}

	// Step 2: poll lookup.
	poll, err := e.store.GetPoll(ctx, req.PollID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, opErr(CodeNotFound, "poll not found")
		}
		return Result{}, opErr(CodeBackingStoreUnavail, "poll lookup failed")
	}
	now := time.Now().UTC()
	if poll.Status != store.PollActive {
		return Result{}, opErr(CodePollInactive, "poll is not active")
	}
	if poll.StartAt != nil && now.Before(*poll.StartAt) {
		return Result{}, opErr(CodePollInactive, "poll has not started")
	}
	if poll.EndAt != nil && now.After(*poll.EndAt) {
		return Result{}, opErr(CodePollInactive, "poll has ended")
	}

	// Step 3: option validation.
	option, err := e.store.GetPollOption(ctx, req.PollID, req.OptionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, opErr(CodeOptionInvalid, "option does not belong to this poll")
		}
		return Result{}, opErr(CodeBackingStoreUnavail, "option lookup failed")
	}

	// Step 4: eligibility.
	if !eligible(poll, req.Credential.Demographics) {
		e.auditBestEffort(ctx, audit.KindVoteRejectedIneligible, map[string]interface{}{"pollId": poll.ID})
		return Result{}, opErr(CodeIneligible, "voter does not match poll audience rules")
	}

	// Step 5: server-side nullifier derivation.
	derived := e.nullifiers.Compute(req.Credential.Subject, poll.ID)
	if req.ClaimedNullifier != "" {
		if subtle.ConstantTimeCompare([]byte(derived), []byte(req.ClaimedNullifier)) != 1 {
			e.auditBestEffort(ctx, audit.KindVoteRejectedIneligible, map[string]interface{}{
				"pollId": poll.ID, "reason": "nullifier-mismatch",
			})
			return Result{}, opErr(CodeNullifierMismatch, "claimed nullifier does not match server derivation")
		}
	}

	// Step 6: transaction.
	lock := e.lockFor(poll.ID)
	lock.Lock()
	defer lock.Unlock()

	demographicsJSON, err := json.Marshal(req.Credential.Demographics)
	if err != nil {
		return Result{}, opErr(CodeBackingStoreUnavail, "failed to encode demographics snapshot")
	}
	bucketTS := now.Truncate(e.bucketWin)

	var result Result
	txErr := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.InsertNullifierTx(ctx, tx, poll.ID, derived, now); err != nil {
			if errors.Is(err, store.ErrNullifierExists) {
				return opErr(CodeAlreadyVoted, "voter has already cast a ballot in this poll")
			}
			return err
		}

		leaf := merkle.ComputeLeaf(e.leafHasher, poll.ID, option.ID, derived, bucketTS)
		voteID, err := newVoteID()
		if err != nil {
			return fmt.Errorf("vote: generate vote id: %w", err)
		}
		v := store.Vote{
			ID:               voteID,
			PollID:           poll.ID,
			OptionID:         option.ID,
			DemographicsJSON: string(demographicsJSON),
			BucketTS:         bucketTS,
			LeafHash:         hexLeaf(leaf),
		}
		if err := store.InsertVoteTx(ctx, tx, v); err != nil {
			return err
		}

		existing, err := store.ListVotesTx(ctx, tx, poll.ID)
		if err != nil {
			return err
		}
		leaves := make([]merkle.Leaf, 0, len(existing))
		for _, ev := range existing {
			l, err := leafFromHex(ev.LeafHash)
			if err != nil {
				return fmt.Errorf("vote: decode stored leaf: %w", err)
			}
			leaves = append(leaves, l)
		}
		newRoot := merkle.Build(leaves)
		if err := store.AdvanceRootTx(ctx, tx, poll.ID, hexLeaf(newRoot), int64(len(leaves))); err != nil {
			return err
		}

		signed, err := e.signer.Sign(receipt.Payload{
			VoteID:     v.ID,
			PollID:     poll.ID,
			LeafHash:   v.LeafHash,
			MerkleRoot: hexLeaf(newRoot),
			TS:         now.Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("vote: sign receipt: %w", err)
		}

		if err := e.audit.AppendTx(ctx, tx, audit.KindVoteAccepted, map[string]interface{}{
			"pollId": poll.ID, "optionId": option.ID, "signature": req.Signature,
		}); err != nil {
			return fmt.Errorf("vote: append audit: %w", err)
		}

		result = Result{Receipt: signed, TxRef: v.ID}
		return nil
	})
	if txErr != nil {
		var opE *Error
		if errors.As(txErr, &opE) {
			if opE.Code == CodeAlreadyVoted {
				e.auditBestEffort(ctx, audit.KindVoteRejectedDuplicate, map[string]interface{}{"pollId": poll.ID})
			}
			return Result{}, txErr
		}
		return Result{}, opErr(CodeBackingStoreUnavail, "vote transaction failed")
	}

	return result, nil
}

func (e *Engine) onNonceReplay(ctx context.Context, pollID string) nonce.ReplayObserver {
	return func(purpose nonce.Purpose, value string) {
		e.auditBestEffort(ctx, audit.KindNonceReplayAttempt, map[string]interface{}{
			"pollId": pollID, "purpose": string(purpose),
		})
	}
}

func (e *Engine) auditBestEffort(ctx context.Context, kind audit.Kind, payload map[string]interface{}) {
	_ = e.audit.Append(ctx, kind, payload)
}

// newVoteID mints a fresh vote identifier using the teacher's content-
// addressed ids.ID idiom (types/tx.go's Tx.ID(), types/block.go's
// Block.Parent()) in place of a bare UUID: 32 random bytes rendered through
// ids.ID's own checksummed String(), which doubles as the voter-facing
// opaque transaction reference without a second encoding step.
func newVoteID() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return ids.ID(raw).String(), nil
}

func hexLeaf(l [32]byte) string {
	return hex.EncodeToString(l[:])
}

func leafFromHex(s string) (merkle.Leaf, error) {
	var l merkle.Leaf
	b, err := hex.DecodeString(s)
	if err != nil {
		return l, fmt.Errorf("vote: decode leaf hex: %w", err)
	}
	if len(b) != 32 {
		return l, fmt.Errorf("vote: leaf must be 32 bytes, got %d", len(b))
	}
	copy(l[:], b)
	return l, nil
}
