// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store is the relational persistence layer backing every stateful
// component (C2, C6, C7, C8, C9). Its Reader/Writer/Batch shape (kv.go) is
// adapted from the teacher's abstract key-value Database contract
// (github.com/luxfi/database, e.g. engine/dag/state/state.go's
// database.Database field) into a concrete store over database/sql and
// modernc.org/sqlite: the domain's correctness invariants — one nullifier per
// (poll, voter), a monotonically advancing Merkle root, an append-only audit
// chain — are relational uniqueness and ordering constraints that a bare KV
// store cannot express as cheaply as a SQL schema can. The full
// database.Database interface itself is not adopted here: its methods take
// no context.Context, which is incompatible with this store's context-bound
// database/sql queries, so only its ErrNotFound sentinel is reused below
// (see DESIGN.md's Storage entry for the rest of this tradeoff).
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/luxfi/database"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by lookup methods when no matching row exists. It
// is github.com/luxfi/database's own sentinel, not a locally-defined one, so
// a caller already handling that package's not-found signal elsewhere in a
// larger deployment doesn't need a second errors.Is branch for this store.
var ErrNotFound = database.ErrNotFound

// Store wraps a sqlite connection pool and exposes the schema used by every
// domain component.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and applies
// the schema migration. path may be ":memory:" for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// Vote submission serializes per-poll at the application layer (§5);
	// a single writer connection avoids SQLITE_BUSY under that discipline
	// without needing WAL-mode tuning.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying pool for components that need to participate in
// a transaction directly (the vote engine's multi-table atomic commit).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS polls (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft',
	kind TEXT NOT NULL DEFAULT 'referendum',
	min_age INTEGER NOT NULL DEFAULT 0,
	max_age INTEGER NOT NULL DEFAULT 0,
	gender TEXT NOT NULL DEFAULT 'all',
	regions_json TEXT NOT NULL DEFAULT '[]',
	k_anonymity INTEGER NOT NULL DEFAULT 30,
	start_at TEXT,
	end_at TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS poll_options (
	id TEXT PRIMARY KEY,
	poll_id TEXT NOT NULL REFERENCES polls(id),
	text TEXT NOT NULL,
	display_order INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nullifiers (
	poll_id TEXT NOT NULL,
	nullifier TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (poll_id, nullifier)
);

-- leaf_hash is the 32-byte Merkle leaf (hex), computed once at insert time
-- from (poll_id, option_id, nullifier, bucket_ts). Storing the leaf hash
-- rather than the nullifier itself lets the root be recomputed from stored
-- votes alone (§8) without ever giving a vote row a foreign key into
-- nullifiers — the nullifier cannot be recovered from its own hash.
CREATE TABLE IF NOT EXISTS votes (
	id TEXT PRIMARY KEY,
	poll_id TEXT NOT NULL,
	option_id TEXT NOT NULL,
	demographics_json TEXT NOT NULL,
	bucket_ts TEXT NOT NULL,
	leaf_hash TEXT NOT NULL,
	seq INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_votes_poll_seq ON votes(poll_id, seq);

CREATE TABLE IF NOT EXISTS poll_roots (
	poll_id TEXT PRIMARY KEY,
	current_root TEXT NOT NULL,
	leaf_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS anchors (
	id TEXT PRIMARY KEY,
	poll_id TEXT NOT NULL,
	root TEXT NOT NULL,
	external_tx_ref TEXT NOT NULL,
	submitted_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anchors_poll ON anchors(poll_id, submitted_at);

CREATE TABLE IF NOT EXISTS audit_entries (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	prev_hash TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	ts TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS kv (
	key BLOB PRIMARY KEY,
	value BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}
