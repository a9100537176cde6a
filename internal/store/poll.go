// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PollStatus enumerates a poll's lifecycle (§3): draft→scheduled→active→
// ended→archived, linear.
type PollStatus string

const (
	PollDraft     PollStatus = "draft"
	PollScheduled PollStatus = "scheduled"
	PollActive    PollStatus = "active"
	PollEnded     PollStatus = "ended"
	PollArchived  PollStatus = "archived"
)

// Poll mirrors the admin-owned Poll row (§3). The core reads it but never
// mutates it.
type Poll struct {
	ID         string
	Title      string
	Status     PollStatus
	Kind       string
	MinAge     int
	MaxAge     int
	Gender     string // "M", "F", or "all"
	Regions    []string
	KAnonymity int
	StartAt    *time.Time
	EndAt      *time.Time
	CreatedAt  time.Time
}

// PollOption mirrors an admin-owned PollOption row.
type PollOption struct {
	ID           string
	PollID       string
	Text         string
	DisplayOrder int
}

// GetPoll loads a poll by id.
func (s *Store) GetPoll(ctx context.Context, id string) (Poll, error) {
	var p Poll
	var status, regionsJSON, created string
	var startAt, endAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, status, kind, min_age, max_age, gender, regions_json,
		        k_anonymity, start_at, end_at, created_at
		 FROM polls WHERE id = ?`, id,
	).Scan(&p.ID, &p.Title, &status, &p.Kind, &p.MinAge, &p.MaxAge, &p.Gender,
		&regionsJSON, &p.KAnonymity, &startAt, &endAt, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Poll{}, ErrNotFound
	}
	if err != nil {
		return Poll{}, fmt.Errorf("store: get poll: %w", err)
	}
	p.Status = PollStatus(status)
	if err := json.Unmarshal([]byte(regionsJSON), &p.Regions); err != nil {
		return Poll{}, fmt.Errorf("store: get poll: parse regions: %w", err)
	}
	p.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Poll{}, fmt.Errorf("store: get poll: parse created_at: %w", err)
	}
	if startAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, startAt.String)
		if err != nil {
			return Poll{}, fmt.Errorf("store: get poll: parse start_at: %w", err)
		}
		p.StartAt = &t
	}
	if endAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endAt.String)
		if err != nil {
			return Poll{}, fmt.Errorf("store: get poll: parse end_at: %w", err)
		}
		p.EndAt = &t
	}
	return p, nil
}

// GetPollOption loads a single option, verifying it belongs to pollID.
func (s *Store) GetPollOption(ctx context.Context, pollID, optionID string) (PollOption, error) {
	var o PollOption
	err := s.db.QueryRowContext(ctx,
		`SELECT id, poll_id, text, display_order FROM poll_options WHERE id = ? AND poll_id = ?`,
		optionID, pollID,
	).Scan(&o.ID, &o.PollID, &o.Text, &o.DisplayOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return PollOption{}, ErrNotFound
	}
	if err != nil {
		return PollOption{}, fmt.Errorf("store: get poll option: %w", err)
	}
	return o, nil
}

// ListPollOptions returns every option of a poll, ordered for display.
func (s *Store) ListPollOptions(ctx context.Context, pollID string) ([]PollOption, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, poll_id, text, display_order FROM poll_options WHERE poll_id = ? ORDER BY display_order`,
		pollID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list poll options: %w", err)
	}
	defer rows.Close()

	var out []PollOption
	for rows.Next() {
		var o PollOption
		if err := rows.Scan(&o.ID, &o.PollID, &o.Text, &o.DisplayOrder); err != nil {
			return nil, fmt.Errorf("store: list poll options: scan: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreatePoll inserts an admin-authored poll and its options. Only test
// fixtures call it; the core never calls this at vote time.
func (s *Store) CreatePoll(ctx context.Context, p Poll, options []PollOption) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: create poll begin: %w", err)
	}
	defer tx.Rollback()

	if p.Status == "" {
		p.Status = PollDraft
	}
	if p.Gender == "" {
		p.Gender = "all"
	}
	if p.KAnonymity == 0 {
		p.KAnonymity = 30
	}
	regionsJSON, err := json.Marshal(p.Regions)
	if err != nil {
		return fmt.Errorf("store: create poll: marshal regions: %w", err)
	}
	var startAt, endAt interface{}
	if p.StartAt != nil {
		startAt = p.StartAt.UTC().Format(time.RFC3339Nano)
	}
	if p.EndAt != nil {
		endAt = p.EndAt.UTC().Format(time.RFC3339Nano)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO polls (id, title, status, kind, min_age, max_age, gender, regions_json,
		                     k_anonymity, start_at, end_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, string(p.Status), p.Kind, p.MinAge, p.MaxAge, p.Gender, string(regionsJSON),
		p.KAnonymity, startAt, endAt, p.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("store: create poll insert: %w", err)
	}
	for _, o := range options {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO poll_options (id, poll_id, text, display_order) VALUES (?, ?, ?, ?)`,
			o.ID, p.ID, o.Text, o.DisplayOrder,
		); err != nil {
			return fmt.Errorf("store: create poll option insert: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO poll_roots (poll_id, current_root, leaf_count) VALUES (?, ?, 0)`,
		p.ID, ""); err != nil {
		return fmt.Errorf("store: create poll root row: %w", err)
	}
	return tx.Commit()
}
