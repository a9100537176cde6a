// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetPoll(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	p := Poll{ID: "poll-1", Title: "Referendum", Status: PollActive, CreatedAt: time.Now()}
	opts := []PollOption{
		{ID: "opt-yes", PollID: p.ID, Text: "Yes", DisplayOrder: 0},
		{ID: "opt-no", PollID: p.ID, Text: "No", DisplayOrder: 1},
	}
	require.NoError(t, s.CreatePoll(ctx, p, opts))

	got, err := s.GetPoll(ctx, "poll-1")
	require.NoError(t, err)
	require.Equal(t, "Referendum", got.Title)
	require.Equal(t, PollActive, got.Status)

	listed, err := s.ListPollOptions(ctx, "poll-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)

	root, err := s.GetPollRoot(ctx, "poll-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), root.LeafCount)
}

func TestGetPollNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetPoll(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVoteInsertAndSequenceAssignment(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.CreatePoll(ctx, Poll{ID: "p1", Title: "x", CreatedAt: time.Now()}, nil))

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		for i, id := range []string{"v1", "v2", "v3"} {
			v := Vote{ID: id, PollID: "p1", OptionID: "opt", DemographicsJSON: "{}", BucketTS: time.Now()}
			if err := InsertVoteTx(ctx, tx, v); err != nil {
				return err
			}
			_ = i
		}
		return nil
	})
	require.NoError(t, err)

	votes, err := s.ListVotes(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, votes, 3)
	require.Equal(t, int64(1), votes[0].Seq)
	require.Equal(t, int64(2), votes[1].Seq)
	require.Equal(t, int64(3), votes[2].Seq)
}

func TestNullifierUniquenessEnforcedAtomically(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.CreatePoll(ctx, Poll{ID: "p1", Title: "x", CreatedAt: time.Now()}, nil))

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertNullifierTx(ctx, tx, "p1", "abc123", time.Now())
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertNullifierTx(ctx, tx, "p1", "abc123", time.Now())
	})
	require.ErrorIs(t, err, ErrNullifierExists)
}

func TestKVPutGetConsume(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	kv := NewKV(s)

	key := []byte("nonce-1")
	require.NoError(t, kv.Put(ctx, key, []byte("payload"), time.Now().Add(time.Minute)))

	has, err := kv.Has(ctx, key)
	require.NoError(t, err)
	require.True(t, has)

	val, err := kv.Consume(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), val)

	_, err = kv.Consume(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestKVExpiry(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	kv := NewKV(s)

	key := []byte("nonce-expired")
	require.NoError(t, kv.Put(ctx, key, []byte("payload"), time.Now().Add(-time.Second)))

	_, err := kv.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = kv.Consume(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAuditAppendAndList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.AppendAuditEntry(ctx, AuditEntry{
		PrevHash: "genesis", ContentHash: "h1", Kind: "vote-accepted", PayloadJSON: "{}", TS: time.Now(),
	})
	require.NoError(t, err)
	_, err = s.AppendAuditEntry(ctx, AuditEntry{
		PrevHash: "h1", ContentHash: "h2", Kind: "vote-accepted", PayloadJSON: "{}", TS: time.Now(),
	})
	require.NoError(t, err)

	entries, err := s.ListAuditEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "h1", entries[0].ContentHash)
	require.Equal(t, "h2", entries[1].ContentHash)

	last, err := s.LastAuditEntry(ctx)
	require.NoError(t, err)
	require.Equal(t, "h2", last.ContentHash)
}

func TestAnchorInsertAndLatest(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.CreatePoll(ctx, Poll{ID: "p1", Title: "x", CreatedAt: time.Now()}, nil))

	_, err := s.LatestAnchor(ctx, "p1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.InsertAnchor(ctx, Anchor{
		ID: "a1", PollID: "p1", Root: "root1", ExternalTxRef: "tx1", SubmittedAt: time.Now(),
	}))
	latest, err := s.LatestAnchor(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "root1", latest.Root)
}
