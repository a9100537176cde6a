// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Package audit implements the append-only, hash-chained security event log
// (C9). The canonical-JSON content-hash pre-image and chain-walk verify
// follow the certen-validator commitment package's CanonicalizeJSON/HashHex
// pattern, adapted from an arbitrary-proof commitment chain to a fixed
// {kind, payload, ts} event envelope.
package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/civora/ballotcore/internal/store"
)

// GenesisHash is the fixed prev_hash of the chain's first entry.
const GenesisHash = "civora-audit-genesis"

// Kind enumerates the security-relevant events the chain records (§3/§4.9).
type Kind string

const (
	KindVoteAccepted           Kind = "vote-accepted"
	KindVoteRejectedDuplicate  Kind = "vote-rejected-duplicate"
	KindVoteRejectedIneligible Kind = "vote-rejected-ineligible"
	KindPollPublished          Kind = "poll-published"
	KindAnchorCommitted        Kind = "anchor-committed"
	KindAnchorFailed           Kind = "anchor-failed"
	KindSuppressionTriggered   Kind = "suppression-triggered"
	KindNonceReplayAttempt     Kind = "nonce-replay-attempt"
)

// ErrChainBroken is returned by Verify when a content_hash fails to
// recompute, identifying the earliest tampered row.
var ErrChainBroken = errors.New("audit: hash chain broken")

// Entry is a fully verified, decoded audit row.
type Entry struct {
	Seq         int64
	Kind        Kind
	Payload     map[string]interface{}
	TS          time.Time
	PrevHash    string
	ContentHash string
}

// Chain appends to and verifies the audit log backed by internal/store.
type Chain struct {
	store *store.Store
}

// New builds a Chain over s.
func New(s *store.Store) *Chain {
	return &Chain{store: s}
}

// Append computes content_hash from the current chain tip and payload, then
// persists the row. payload MUST NOT contain voter subject, device key, IP,
// or phone number — callers pass only pollId-scoped data (§4.9).
func (c *Chain) Append(ctx context.Context, kind Kind, payload map[string]interface{}) error {
	prev, err := c.tipHash(ctx)
	if err != nil {
		return err
	}
	ts := time.Now().UTC()
	contentHash, err := contentHash(prev, kind, payload, ts)
	if err != nil {
		return fmt.Errorf("audit: compute content hash: %w", err)
	}
	payloadJSON, err := canonicalEventJSON(kind, payload, ts)
	if err != nil {
		return fmt.Errorf("audit: marshal payload: %w", err)
	}
	_, err = c.store.AppendAuditEntry(ctx, store.AuditEntry{
		PrevHash:    prev,
		ContentHash: contentHash,
		Kind:        string(kind),
		PayloadJSON: payloadJSON,
		TS:          ts,
	})
	return err
}

// AppendTx is Append's transactional counterpart, used when the audit row
// must commit atomically with the vote-submission transaction (§4.9 step 3):
// an aborted transaction must never leave a phantom audit entry.
func (c *Chain) AppendTx(ctx context.Context, tx *sql.Tx, kind Kind, payload map[string]interface{}) error {
	prev, err := c.tipHashTx(ctx, tx)
	if err != nil {
		return err
	}
	ts := time.Now().UTC()
	contentHash, err := contentHash(prev, kind, payload, ts)
	if err != nil {
		return fmt.Errorf("audit: compute content hash: %w", err)
	}
	payloadJSON, err := canonicalEventJSON(kind, payload, ts)
	if err != nil {
		return fmt.Errorf("audit: marshal payload: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_entries (prev_hash, content_hash, kind, payload_json, ts) VALUES (?, ?, ?, ?, ?)`,
		prev, contentHash, string(kind), payloadJSON, ts.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("audit: append tx: %w", err)
	}
	return nil
}

func (c *Chain) tipHash(ctx context.Context) (string, error) {
	last, err := c.store.LastAuditEntry(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("audit: read chain tip: %w", err)
	}
	return last.ContentHash, nil
}

func (c *Chain) tipHashTx(ctx context.Context, tx *sql.Tx) (string, error) {
	var hash string
	err := tx.QueryRowContext(ctx, `SELECT content_hash FROM audit_entries ORDER BY seq DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("audit: read chain tip tx: %w", err)
	}
	return hash, nil
}

// Verify walks the chain from genesis, recomputing each content_hash. It
// returns ErrChainBroken wrapping the first mismatching sequence number.
func (c *Chain) Verify(ctx context.Context) error {
	rows, err := c.store.ListAuditEntries(ctx)
	if err != nil {
		return fmt.Errorf("audit: list entries: %w", err)
	}
	prev := GenesisHash
	for _, row := range rows {
		if row.PrevHash != prev {
			return fmt.Errorf("%w: entry %d: prev_hash mismatch", ErrChainBroken, row.Seq)
		}
		// payload_json holds the whole canonical {kind, payload, ts} event.
		var event struct {
			Payload map[string]interface{} `json:"payload"`
		}
		if err := json.Unmarshal([]byte(row.PayloadJSON), &event); err != nil {
			return fmt.Errorf("audit: unmarshal stored payload at entry %d: %w", row.Seq, err)
		}
		want, err := contentHash(row.PrevHash, Kind(row.Kind), event.Payload, row.TS)
		if err != nil {
			return fmt.Errorf("audit: recompute entry %d: %w", row.Seq, err)
		}
		if want != row.ContentHash {
			return fmt.Errorf("%w: entry %d: content_hash mismatch", ErrChainBroken, row.Seq)
		}
		prev = row.ContentHash
	}
	return nil
}

// contentHash computes SHA-256(prev_hash || canonical_json({kind, payload,
// ts})) per §6.3. ts is re-derived from the already-persisted row's
// timestamp at verification time, not recomputed from time.Now, so Verify is
// deterministic.
func contentHash(prevHash string, kind Kind, payload map[string]interface{}, ts time.Time) (string, error) {
	canon, err := canonicalEventJSON(kind, payload, ts)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte(canon))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func canonicalEventJSON(kind Kind, payload map[string]interface{}, ts time.Time) (string, error) {
	event := map[string]interface{}{
		"kind":    string(kind),
		"payload": payload,
		"ts":      ts.UTC().Format(time.RFC3339Nano),
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	canon, err := canonicalizeJSON(raw)
	if err != nil {
		return "", err
	}
	return string(canon), nil
}

// canonicalizeJSON re-encodes raw with lexicographically sorted object keys
// and no insignificant whitespace (§6.3).
func canonicalizeJSON(raw []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := writeCanonical(buf, vv[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range vv {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(vv)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}
