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

// Batch is a write batch over the kv table, adapted from
// github.com/luxfi/database's Batch (Put/Delete/Size/Write/Reset).
type Batch interface {
	Put(key, value []byte, expiresAt time.Time) error
	Delete(key []byte) error
	Size() int
	Write(ctx context.Context) error
	Reset()
}

// Reader reads from the kv table, adapted from github.com/luxfi/database's
// KeyValueReader (Has/Get). TTL expiry is enforced on read: an expired row
// is treated as absent. Every method here threads a context.Context that
// the upstream interface's methods don't take, since this implementation
// runs each call as a context-bound database/sql query; that one difference
// is why KV implements this Reader/Writer shape rather than
// database.Database itself (see the internal/store package doc). No type in
// this package implements Batch.
type Reader interface {
	Has(ctx context.Context, key []byte) (bool, error)
	Get(ctx context.Context, key []byte) ([]byte, error)
}

// Writer writes to the kv table, adapted from github.com/luxfi/database's
// KeyValueWriter (Put/Delete).
type Writer interface {
	Put(ctx context.Context, key, value []byte, expiresAt time.Time) error
	Delete(ctx context.Context, key []byte) error
}

// KV is the concrete kv-table-backed Database adaptation used by the nonce
// store (C2). Unlike the teacher's abstract KV, entries carry an expiry and
// Consume offers atomic get-and-delete, which a purely Put/Get/Delete
// contract cannot express without a races window.
type KV struct {
	db *sql.DB
}

// NewKV wraps the store's connection pool as a KV facade.
func NewKV(s *Store) *KV {
	return &KV{db: s.db}
}

func (k *KV) Has(ctx context.Context, key []byte) (bool, error) {
	var expires int64
	err := k.db.QueryRowContext(ctx, `SELECT expires_at FROM kv WHERE key = ?`, key).Scan(&expires)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: kv has: %w", err)
	}
	return expires > time.Now().Unix(), nil
}

func (k *KV) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	var expires int64
	err := k.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: kv get: %w", err)
	}
	if expires <= time.Now().Unix() {
		return nil, ErrNotFound
	}
	return value, nil
}

func (k *KV) Put(ctx context.Context, key, value []byte, expiresAt time.Time) error {
	_, err := k.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("store: kv put: %w", err)
	}
	return nil
}

func (k *KV) Delete(ctx context.Context, key []byte) error {
	_, err := k.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("store: kv delete: %w", err)
	}
	return nil
}

// Consume atomically reads and deletes key, returning ErrNotFound if absent
// or expired. This is the single-use semantic the nonce store (C2) needs:
// a bare Get-then-Delete pair would let two concurrent requests both observe
// the value before either deletes it.
func (k *KV) Consume(ctx context.Context, key []byte) ([]byte, error) {
	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: kv consume begin: %w", err)
	}
	defer tx.Rollback()

	var value []byte
	var expires int64
	err = tx.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: kv consume select: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return nil, fmt.Errorf("store: kv consume delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: kv consume commit: %w", err)
	}
	if expires <= time.Now().Unix() {
		return nil, ErrNotFound
	}
	return value, nil
}

// Sweep removes all expired rows; intended to be run periodically by a
// background goroutine rather than on every access.
func (k *KV) Sweep(ctx context.Context) (int64, error) {
	res, err := k.db.ExecContext(ctx, `DELETE FROM kv WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("store: kv sweep: %w", err)
	}
	return res.RowsAffected()
}
