// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Anchor mirrors an Anchor row (§3): append-only, one row per external
// ledger commit.
type Anchor struct {
	ID            string
	PollID        string
	Root          string
	ExternalTxRef string
	SubmittedAt   time.Time
}

// InsertAnchor appends an anchor commit record.
func (s *Store) InsertAnchor(ctx context.Context, a Anchor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO anchors (id, poll_id, root, external_tx_ref, submitted_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.PollID, a.Root, a.ExternalTxRef, a.SubmittedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: insert anchor: %w", err)
	}
	return nil
}

// LatestAnchor returns the most recently submitted anchor for a poll, or
// ErrNotFound if none exists yet.
func (s *Store) LatestAnchor(ctx context.Context, pollID string) (Anchor, error) {
	var a Anchor
	var submitted string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, poll_id, root, external_tx_ref, submitted_at FROM anchors
		 WHERE poll_id = ? ORDER BY submitted_at DESC LIMIT 1`, pollID,
	).Scan(&a.ID, &a.PollID, &a.Root, &a.ExternalTxRef, &submitted)
	if errors.Is(err, sql.ErrNoRows) {
		return Anchor{}, ErrNotFound
	}
	if err != nil {
		return Anchor{}, fmt.Errorf("store: latest anchor: %w", err)
	}
	a.SubmittedAt, err = time.Parse(time.RFC3339Nano, submitted)
	if err != nil {
		return Anchor{}, fmt.Errorf("store: latest anchor: parse submitted_at: %w", err)
	}
	return a, nil
}
