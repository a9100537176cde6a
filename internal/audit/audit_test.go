// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/civora/ballotcore/internal/store"
)

func newTestChain(t *testing.T) (*Chain, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func TestAppendAndVerifyCleanChain(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestChain(t)

	require.NoError(t, c.Append(ctx, KindVoteAccepted, map[string]interface{}{"pollId": "p1"}))
	require.NoError(t, c.Append(ctx, KindAnchorCommitted, map[string]interface{}{"pollId": "p1", "root": "abc"}))
	require.NoError(t, c.Append(ctx, KindSuppressionTriggered, map[string]interface{}{"pollId": "p1"}))

	require.NoError(t, c.Verify(ctx))
}

func TestFirstEntryChainsFromGenesis(t *testing.T) {
	ctx := context.Background()
	c, s := newTestChain(t)

	require.NoError(t, c.Append(ctx, KindPollPublished, map[string]interface{}{"pollId": "p1"}))
	entries, err := s.ListAuditEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, GenesisHash, entries[0].PrevHash)
}

func TestVerifyDetectsTamperedContentHash(t *testing.T) {
	ctx := context.Background()
	c, s := newTestChain(t)

	require.NoError(t, c.Append(ctx, KindVoteAccepted, map[string]interface{}{"pollId": "p1"}))
	require.NoError(t, c.Append(ctx, KindVoteAccepted, map[string]interface{}{"pollId": "p1"}))

	_, err := s.DB().ExecContext(ctx, `UPDATE audit_entries SET content_hash = 'tampered' WHERE seq = 1`)
	require.NoError(t, err)

	err = c.Verify(ctx)
	require.ErrorIs(t, err, ErrChainBroken)
}

func TestVerifyDetectsBrokenPrevHashLink(t *testing.T) {
	ctx := context.Background()
	c, s := newTestChain(t)

	require.NoError(t, c.Append(ctx, KindVoteAccepted, map[string]interface{}{"pollId": "p1"}))
	require.NoError(t, c.Append(ctx, KindVoteAccepted, map[string]interface{}{"pollId": "p1"}))

	_, err := s.DB().ExecContext(ctx, `UPDATE audit_entries SET prev_hash = 'wrong' WHERE seq = 2`)
	require.NoError(t, err)

	err = c.Verify(ctx)
	require.ErrorIs(t, err, ErrChainBroken)
}

func TestPayloadNeverCarriesVoterIdentity(t *testing.T) {
	ctx := context.Background()
	c, s := newTestChain(t)

	require.NoError(t, c.Append(ctx, KindVoteAccepted, map[string]interface{}{"pollId": "p1"}))
	entries, err := s.ListAuditEntries(ctx)
	require.NoError(t, err)
	require.NotContains(t, entries[0].PayloadJSON, "subject")
	require.NotContains(t, entries[0].PayloadJSON, "voterId")
}

func TestCanonicalizeJSONSortsKeys(t *testing.T) {
	raw := []byte(`{"b":1,"a":{"d":2,"c":3}}`)
	got, err := canonicalizeJSON(raw)
	require.NoError(t, err)
	require.Equal(t, `{"a":{"c":3,"d":2},"b":1}`, string(got))
}
