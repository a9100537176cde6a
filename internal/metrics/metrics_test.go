// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCounters(t *testing.T) {
	reg := NewRegistry()
	m, err := New("ballotcore", reg)
	require.NoError(t, err)

	m.VotesAccepted().Inc()
	m.VotesRejected().WithLabelValues("AlreadyVoted").Inc()
	m.AnchorCommits().Inc()
	m.AnchorFailures().Inc()
	m.SuppressionEvents().Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["ballotcore_votes_accepted_total"])
	require.True(t, names["ballotcore_votes_rejected_total"])
	require.True(t, names["ballotcore_anchor_commits_total"])
	require.True(t, names["ballotcore_anchor_failures_total"])
	require.True(t, names["ballotcore_suppression_events_total"])
}

func TestPassthroughMethodsIncrementUnderlyingCounters(t *testing.T) {
	reg := NewRegistry()
	m, err := New("ballotcore", reg)
	require.NoError(t, err)

	m.AnchorCommitted()
	m.AnchorFailed()
	m.SuppressionTriggered()

	require.Equal(t, float64(1), counterValue(t, m.AnchorCommits()))
	require.Equal(t, float64(1), counterValue(t, m.AnchorFailures()))
	require.Equal(t, float64(1), counterValue(t, m.SuppressionEvents()))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var dtoMetric dto.Metric
	require.NoError(t, c.Write(&dtoMetric))
	return dtoMetric.GetCounter().GetValue()
}

func TestMultiGathererFansOutAcrossSources(t *testing.T) {
	regA := NewRegistry()
	mA, err := New("vote", regA)
	require.NoError(t, err)
	mA.VotesAccepted().Inc()
	mA.VotesRejected().WithLabelValues("AlreadyVoted").Inc()
	mA.AnchorCommits().Inc()
	mA.AnchorFailures().Inc()
	mA.SuppressionEvents().Inc()

	regB := NewRegistry()
	mB, err := New("anchor", regB)
	require.NoError(t, err)
	mB.VotesAccepted().Inc()
	mB.VotesRejected().WithLabelValues("AlreadyVoted").Inc()
	mB.AnchorCommits().Inc()
	mB.AnchorFailures().Inc()
	mB.SuppressionEvents().Inc()

	multi := NewMultiGatherer()
	require.NoError(t, multi.Register("vote", regA))
	require.NoError(t, multi.Register("anchor", regB))

	families, err := multi.Gather()
	require.NoError(t, err)
	require.Len(t, families, 10, "each registry contributes its own 5 counter families")
}
