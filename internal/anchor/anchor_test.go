// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

package anchor

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/civora/ballotcore/internal/audit"
	"github.com/civora/ballotcore/internal/log"
	"github.com/civora/ballotcore/internal/store"
)

type fakeLedger struct {
	mu        sync.Mutex
	calls     int
	failUntil int
	permFail  bool
}

func (f *fakeLedger) Submit(ctx context.Context, envelope []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.permFail {
		return "", errors.New("permanent ledger outage")
	}
	if f.calls <= f.failUntil {
		return "", errors.New("transient ledger timeout")
	}
	return "tx-ref-1", nil
}

func newTestSetup(t *testing.T) (*store.Store, *audit.Chain) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, audit.New(s)
}

func createActivePoll(t *testing.T, s *store.Store, pollID string) {
	t.Helper()
	require.NoError(t, s.CreatePoll(context.Background(), store.Poll{
		ID: pollID, Title: "P", Status: store.PollActive, CreatedAt: time.Now(),
	}, []store.PollOption{{ID: "yes", PollID: pollID, Text: "Yes"}}))
}

func advanceRoot(t *testing.T, s *store.Store, pollID, root string, leafCount int64) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.AdvanceRootTx(context.Background(), tx, pollID, root, leafCount)
	}))
}

// fastWorker builds a Worker whose backoff fits comfortably within a test's
// timeout budget, while still exercising the retry-until-success path.
func fastWorker(s *store.Store, ledger Ledger, chain *audit.Chain) *Worker {
	w := New(s, ledger, chain, log.NewNoOp(), time.Minute)
	w.backoffInitial = time.Millisecond
	w.backoffMax = 10 * time.Millisecond
	w.backoffElapsed = time.Second
	w.backoffRetries = 5
	return w
}

func TestAnchorOneSkipsPollWithNoVotes(t *testing.T) {
	s, chain := newTestSetup(t)
	createActivePoll(t, s, "p1")
	ledger := &fakeLedger{}
	w := fastWorker(s, ledger, chain)

	require.NoError(t, w.anchorOne(context.Background(), "p1"))
	require.Equal(t, 0, ledger.calls)
}

func TestAnchorOneCommitsAdvancedRoot(t *testing.T) {
	s, chain := newTestSetup(t)
	createActivePoll(t, s, "p1")
	ctx := context.Background()
	advanceRoot(t, s, "p1", "deadbeef", 1)

	ledger := &fakeLedger{}
	w := fastWorker(s, ledger, chain)
	require.NoError(t, w.anchorOne(ctx, "p1"))
	require.Equal(t, 1, ledger.calls)

	last, err := s.LatestAnchor(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "deadbeef", last.Root)
	require.Equal(t, "tx-ref-1", last.ExternalTxRef)

	entries, err := s.ListAuditEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, string(audit.KindAnchorCommitted), entries[0].Kind)
}

func TestAnchorOneIsIdempotentForUnchangedRoot(t *testing.T) {
	s, chain := newTestSetup(t)
	createActivePoll(t, s, "p1")
	ctx := context.Background()
	advanceRoot(t, s, "p1", "deadbeef", 1)

	ledger := &fakeLedger{}
	w := fastWorker(s, ledger, chain)
	require.NoError(t, w.anchorOne(ctx, "p1"))
	require.NoError(t, w.anchorOne(ctx, "p1"))
	require.Equal(t, 1, ledger.calls, "second sweep over an unchanged root must not resubmit")
}

func TestAnchorOneResubmitsAfterRootAdvances(t *testing.T) {
	s, chain := newTestSetup(t)
	createActivePoll(t, s, "p1")
	ctx := context.Background()
	advanceRoot(t, s, "p1", "root1", 1)

	ledger := &fakeLedger{}
	w := fastWorker(s, ledger, chain)
	require.NoError(t, w.anchorOne(ctx, "p1"))

	advanceRoot(t, s, "p1", "root2", 2)
	require.NoError(t, w.anchorOne(ctx, "p1"))
	require.Equal(t, 2, ledger.calls)

	last, err := s.LatestAnchor(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "root2", last.Root)
}

func TestAnchorOneRetriesTransientFailureThenSucceeds(t *testing.T) {
	s, chain := newTestSetup(t)
	createActivePoll(t, s, "p1")
	ctx := context.Background()
	advanceRoot(t, s, "p1", "deadbeef", 1)

	ledger := &fakeLedger{failUntil: 2}
	w := fastWorker(s, ledger, chain)
	require.NoError(t, w.anchorOne(ctx, "p1"))
	require.GreaterOrEqual(t, ledger.calls, 3)
}

func TestAnchorOneAuditsPermanentFailure(t *testing.T) {
	s, chain := newTestSetup(t)
	createActivePoll(t, s, "p1")
	ctx := context.Background()
	advanceRoot(t, s, "p1", "deadbeef", 1)

	ledger := &fakeLedger{permFail: true}
	w := fastWorker(s, ledger, chain)
	require.Error(t, w.anchorOne(ctx, "p1"))

	entries, err := s.ListAuditEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, string(audit.KindAnchorFailed), entries[0].Kind)
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	s, chain := newTestSetup(t)
	ledger := &fakeLedger{}
	w := New(s, ledger, chain, log.NewNoOp(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
