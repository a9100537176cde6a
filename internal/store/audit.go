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

// AuditEntry mirrors an append-only, hash-chained AuditEntry row (§3).
type AuditEntry struct {
	Seq         int64
	PrevHash    string
	ContentHash string
	Kind        string
	PayloadJSON string
	TS          time.Time
}

// AppendAuditEntry appends a row. The caller (internal/audit) computes
// ContentHash from PrevHash and the canonical payload before calling this;
// the store does not compute hashes, it only persists them in order.
func (s *Store) AppendAuditEntry(ctx context.Context, e AuditEntry) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (prev_hash, content_hash, kind, payload_json, ts) VALUES (?, ?, ?, ?, ?)`,
		e.PrevHash, e.ContentHash, e.Kind, e.PayloadJSON, e.TS.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("store: append audit entry: %w", err)
	}
	return res.LastInsertId()
}

// LastAuditEntry returns the most recently appended row, or ErrNotFound if
// the chain is empty (the caller then starts from the genesis constant).
func (s *Store) LastAuditEntry(ctx context.Context) (AuditEntry, error) {
	var e AuditEntry
	var ts string
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, prev_hash, content_hash, kind, payload_json, ts FROM audit_entries ORDER BY seq DESC LIMIT 1`,
	).Scan(&e.Seq, &e.PrevHash, &e.ContentHash, &e.Kind, &e.PayloadJSON, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return AuditEntry{}, ErrNotFound
	}
	if err != nil {
		return AuditEntry{}, fmt.Errorf("store: last audit entry: %w", err)
	}
	e.TS, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("store: last audit entry: parse ts: %w", err)
	}
	return e, nil
}

// ListAuditEntries returns the full chain in append order, for external
// verification (cmd/ballotctl verify-audit).
func (s *Store) ListAuditEntries(ctx context.Context) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, prev_hash, content_hash, kind, payload_json, ts FROM audit_entries ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts string
		if err := rows.Scan(&e.Seq, &e.PrevHash, &e.ContentHash, &e.Kind, &e.PayloadJSON, &ts); err != nil {
			return nil, fmt.Errorf("store: list audit entries: scan: %w", err)
		}
		e.TS, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("store: list audit entries: parse ts: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
