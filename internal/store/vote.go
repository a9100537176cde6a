// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNullifierExists signals that a nullifier already has a row for its
// poll — the double-vote defense (§4.6 step 6.a). The unique primary key on
// (poll_id, nullifier) is what makes this check atomic under concurrent
// transactions; the engine only needs to catch the constraint violation.
var ErrNullifierExists = errors.New("store: nullifier already recorded")

// Vote mirrors a Vote row (§3): no column here, directly or transitively,
// can be joined back to a voter's identity.
type Vote struct {
	ID               string
	PollID           string
	OptionID         string
	DemographicsJSON string
	BucketTS         time.Time
	LeafHash         string
	Seq              int64
}

// PollRoot mirrors a PollRoot row: the current Merkle root and leaf count,
// advanced only inside the same transaction as a vote insert.
type PollRoot struct {
	PollID      string
	CurrentRoot string
	LeafCount   int64
}

// WithTx runs fn inside a new transaction, committing on success and rolling
// back on any error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

// InsertNullifierTx inserts the nullifier row for (pollID, nullifierHex)
// inside tx, returning ErrNullifierExists if one is already present.
func InsertNullifierTx(ctx context.Context, tx *sql.Tx, pollID, nullifierHex string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO nullifiers (poll_id, nullifier, created_at) VALUES (?, ?, ?)`,
		pollID, nullifierHex, at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return ErrNullifierExists
		}
		return fmt.Errorf("store: insert nullifier: %w", err)
	}
	return nil
}

// GetPollRootTx loads the poll's current root/leaf-count row for update
// within tx.
func GetPollRootTx(ctx context.Context, tx *sql.Tx, pollID string) (PollRoot, error) {
	var r PollRoot
	r.PollID = pollID
	err := tx.QueryRowContext(ctx,
		`SELECT current_root, leaf_count FROM poll_roots WHERE poll_id = ?`, pollID,
	).Scan(&r.CurrentRoot, &r.LeafCount)
	if errors.Is(err, sql.ErrNoRows) {
		return PollRoot{}, ErrNotFound
	}
	if err != nil {
		return PollRoot{}, fmt.Errorf("store: get poll root: %w", err)
	}
	return r, nil
}

// AdvanceRootTx monotonically advances a poll's root/leaf-count within tx.
// The caller (the vote engine) is responsible for having recomputed
// newRoot/newLeafCount deterministically from the full leaf sequence.
func AdvanceRootTx(ctx context.Context, tx *sql.Tx, pollID, newRoot string, newLeafCount int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE poll_roots SET current_root = ?, leaf_count = ? WHERE poll_id = ?`,
		newRoot, newLeafCount, pollID,
	)
	if err != nil {
		return fmt.Errorf("store: advance poll root: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: advance poll root: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertVoteTx appends a vote row within tx, assigning it the next
// sequence position for its poll.
func InsertVoteTx(ctx context.Context, tx *sql.Tx, v Vote) error {
	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM votes WHERE poll_id = ?`, v.PollID,
	).Scan(&maxSeq); err != nil {
		return fmt.Errorf("store: insert vote: read max seq: %w", err)
	}
	v.Seq = maxSeq.Int64 + 1

	_, err := tx.ExecContext(ctx,
		`INSERT INTO votes (id, poll_id, option_id, demographics_json, bucket_ts, leaf_hash, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.PollID, v.OptionID, v.DemographicsJSON, v.BucketTS.UTC().Format(time.RFC3339Nano), v.LeafHash, v.Seq,
	)
	if err != nil {
		return fmt.Errorf("store: insert vote: %w", err)
	}
	return nil
}

// ListVotesTx returns every vote of a poll, in insertion (sequence) order.
// Used by the vote engine to recompute the Merkle tree inside the vote
// transaction.
func ListVotesTx(ctx context.Context, tx *sql.Tx, pollID string) ([]Vote, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, poll_id, option_id, demographics_json, bucket_ts, leaf_hash, seq
		 FROM votes WHERE poll_id = ? ORDER BY seq`, pollID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list votes: %w", err)
	}
	defer rows.Close()
	return scanVotes(rows)
}

// ListVotes returns every vote of a poll outside of any transaction, for
// read-only aggregation queries.
func (s *Store) ListVotes(ctx context.Context, pollID string) ([]Vote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, poll_id, option_id, demographics_json, bucket_ts, leaf_hash, seq
		 FROM votes WHERE poll_id = ? ORDER BY seq`, pollID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list votes: %w", err)
	}
	defer rows.Close()
	return scanVotes(rows)
}

func scanVotes(rows *sql.Rows) ([]Vote, error) {
	var out []Vote
	for rows.Next() {
		var v Vote
		var bucketTS string
		if err := rows.Scan(&v.ID, &v.PollID, &v.OptionID, &v.DemographicsJSON, &bucketTS, &v.LeafHash, &v.Seq); err != nil {
			return nil, fmt.Errorf("store: scan vote: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, bucketTS)
		if err != nil {
			return nil, fmt.Errorf("store: scan vote: parse bucket_ts: %w", err)
		}
		v.BucketTS = ts
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetPollRoot loads a poll's current root outside of any transaction, for
// read-only status queries (e.g. the anchor worker, cmd/ballotctl).
func (s *Store) GetPollRoot(ctx context.Context, pollID string) (PollRoot, error) {
	var r PollRoot
	r.PollID = pollID
	err := s.db.QueryRowContext(ctx,
		`SELECT current_root, leaf_count FROM poll_roots WHERE poll_id = ?`, pollID,
	).Scan(&r.CurrentRoot, &r.LeafCount)
	if errors.Is(err, sql.ErrNoRows) {
		return PollRoot{}, ErrNotFound
	}
	if err != nil {
		return PollRoot{}, fmt.Errorf("store: get poll root: %w", err)
	}
	return r, nil
}

// ListActivePollIDs returns the ids of every poll flagged active, for the
// anchor worker's sweep.
func (s *Store) ListActivePollIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM polls WHERE status = ?`, string(PollActive))
	if err != nil {
		return nil, fmt.Errorf("store: list active polls: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: list active polls: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func isUniqueConstraintErr(err error) bool {
	// modernc.org/sqlite surfaces constraint violations as a plain error
	// whose message contains this substring; there is no typed sentinel
	// exported for it.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
