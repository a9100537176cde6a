// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

package aggregation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/civora/ballotcore/internal/audit"
	"github.com/civora/ballotcore/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, audit.New(s)), s
}

func createPoll(t *testing.T, s *store.Store, pollID string, k int) {
	t.Helper()
	require.NoError(t, s.CreatePoll(context.Background(), store.Poll{
		ID: pollID, Title: "P", Status: store.PollActive, KAnonymity: k, CreatedAt: time.Now(),
	}, []store.PollOption{
		{ID: "yes", PollID: pollID, Text: "Yes"},
		{ID: "no", PollID: pollID, Text: "No"},
	}))
}

type demo struct {
	AgeBucket string `json:"age_bucket"`
	Gender    string `json:"gender"`
	Region    string `json:"region"`
}

var idCounter int

func nextID() string {
	idCounter++
	return fmt.Sprintf("id-%d", idCounter)
}

func insertVote(t *testing.T, s *store.Store, pollID, optionID string, d demo) {
	t.Helper()
	b, err := json.Marshal(d)
	require.NoError(t, err)
	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.InsertVoteTx(context.Background(), tx, store.Vote{
			ID: nextID(), PollID: pollID, OptionID: optionID,
			DemographicsJSON: string(b), BucketTS: time.Now(), LeafHash: nextID(),
		})
	}))
}

func TestGetResultsSuppressesBelowFloor(t *testing.T) {
	svc, s := newTestService(t)
	createPoll(t, s, "p1", 30)
	for i := 0; i < 29; i++ {
		insertVote(t, s, "p1", "yes", demo{AgeBucket: "25-34", Gender: "f", Region: "US-CA"})
	}

	result, err := svc.GetResults(context.Background(), "p1", nil)
	require.NoError(t, err)
	require.Equal(t, 0, result.TotalVotes)
	require.Nil(t, result.Options)
	require.Equal(t, 1, result.Metadata.SuppressedCells)
}

func TestGetResultsShowsAtFloor(t *testing.T) {
	svc, s := newTestService(t)
	createPoll(t, s, "p1", 30)
	for i := 0; i < 30; i++ {
		insertVote(t, s, "p1", "yes", demo{AgeBucket: "25-34", Gender: "f", Region: "US-CA"})
	}

	result, err := svc.GetResults(context.Background(), "p1", nil)
	require.NoError(t, err)
	require.Equal(t, 30, result.TotalVotes)
	require.Len(t, result.Options, 2)
	for _, c := range result.Options {
		if c.Key == "yes" {
			require.Equal(t, 30, c.Count)
		}
		if c.Key == "no" {
			require.Equal(t, 0, c.Count)
		}
	}
}

func TestGetResultsCachesUntilVoteCountChanges(t *testing.T) {
	svc, s := newTestService(t)
	createPoll(t, s, "p1", 5)
	for i := 0; i < 5; i++ {
		insertVote(t, s, "p1", "yes", demo{AgeBucket: "25-34", Gender: "f", Region: "US-CA"})
	}

	first, err := svc.GetResults(context.Background(), "p1", nil)
	require.NoError(t, err)
	require.Equal(t, 5, first.TotalVotes)

	insertVote(t, s, "p1", "yes", demo{AgeBucket: "25-34", Gender: "f", Region: "US-CA"})
	second, err := svc.GetResults(context.Background(), "p1", nil)
	require.NoError(t, err)
	require.Equal(t, 6, second.TotalVotes, "new vote must invalidate the cached entry")
}

func TestGetResultsBreakdownDropsThinDimension(t *testing.T) {
	svc, s := newTestService(t)
	createPoll(t, s, "p1", 5)
	for i := 0; i < 5; i++ {
		insertVote(t, s, "p1", "yes", demo{AgeBucket: "25-34", Gender: "f", Region: "US-CA"})
	}
	for i := 0; i < 5; i++ {
		insertVote(t, s, "p1", "no", demo{AgeBucket: "35-44", Gender: "m", Region: "US-NY"})
	}

	result, err := svc.GetResults(context.Background(), "p1", []Dimension{DimensionGender})
	require.NoError(t, err)
	// Only two gender buckets ever appear; step 5 drops any dimension with
	// fewer than three visible cells.
	require.Empty(t, result.Breakdowns)
}

func TestGetResultsBreakdownSurvivesWithThreeBuckets(t *testing.T) {
	svc, s := newTestService(t)
	createPoll(t, s, "p1", 5)
	for _, ab := range []string{"18-24", "25-34", "35-44"} {
		for i := 0; i < 5; i++ {
			insertVote(t, s, "p1", "yes", demo{AgeBucket: ab, Gender: "f", Region: "US-CA"})
		}
	}

	result, err := svc.GetResults(context.Background(), "p1", []Dimension{DimensionAgeBucket})
	require.NoError(t, err)
	require.Len(t, result.Breakdowns, 1)
	require.Len(t, result.Breakdowns[0].Cells, 3)
	for _, c := range result.Breakdowns[0].Cells {
		require.Equal(t, 5, c.Count)
	}
}

func TestGetResultsRejectsInferenceSubsetQuery(t *testing.T) {
	svc, s := newTestService(t)
	createPoll(t, s, "p1", 5)
	// Region never varies, so it is always dropped by the minimum-cells
	// rule and contributes zero visible cells to every query below.
	for _, ab := range []string{"18-24", "25-34", "35-44"} {
		for i := 0; i < 5; i++ {
			insertVote(t, s, "p1", "yes", demo{AgeBucket: ab, Gender: "f", Region: "US-CA"})
		}
	}

	first, err := svc.GetResults(context.Background(), "p1", []Dimension{DimensionRegion, DimensionAgeBucket})
	require.NoError(t, err)
	require.Len(t, first.Breakdowns, 1, "region must be dropped for having a single bucket")

	// A new age bucket appears, so a later query naming only age_bucket -
	// a strict subset of the first query's dimension set - now exposes
	// strictly more visible cells than the first query recorded.
	for i := 0; i < 5; i++ {
		insertVote(t, s, "p1", "yes", demo{AgeBucket: "45-54", Gender: "f", Region: "US-CA"})
	}

	_, err = svc.GetResults(context.Background(), "p1", []Dimension{DimensionAgeBucket})
	require.ErrorIs(t, err, ErrInferenceAttackSuspected)
}

func TestGetResultsAuditsTotalSuppression(t *testing.T) {
	svc, s := newTestService(t)
	createPoll(t, s, "p1", 30)
	for i := 0; i < 10; i++ {
		insertVote(t, s, "p1", "yes", demo{AgeBucket: "25-34", Gender: "f", Region: "US-CA"})
	}

	_, err := svc.GetResults(context.Background(), "p1", nil)
	require.NoError(t, err)

	entries, err := s.ListAuditEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, string(audit.KindSuppressionTriggered), entries[0].Kind)
}

func TestSecurityEventsSuppressesRareKinds(t *testing.T) {
	svc, s := newTestService(t)
	chain := audit.New(s)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, chain.Append(ctx, audit.KindVoteAccepted, map[string]interface{}{"i": i}))
	}
	require.NoError(t, chain.Append(ctx, audit.KindAnchorFailed, map[string]interface{}{"i": 0}))

	summary, err := svc.SecurityEvents(ctx, 5)
	require.NoError(t, err)

	var acceptedCount, failedCount interface{}
	for _, c := range summary.Events {
		if c.Key == string(audit.KindVoteAccepted) {
			acceptedCount = c.Count
		}
		if c.Key == string(audit.KindAnchorFailed) {
			failedCount = c.Count
		}
	}
	require.Equal(t, 10, acceptedCount)
	require.Equal(t, Suppressed, failedCount)
	require.Equal(t, 1, summary.Metadata.SuppressedCells)
}
