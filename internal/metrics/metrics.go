// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wraps the teacher's Registerer/Registry/MultiGatherer
// shape (api/metrics/metrics.go) around this domain's counters: votes
// accepted and rejected by Code, anchor commits and failures, and
// suppression-ladder trips.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registerer registers prometheus collectors.
type Registerer interface {
	prometheus.Registerer
}

// Registry both registers and gathers.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// NewRegistry creates a fresh prometheus registry.
func NewRegistry() Registry {
	return prometheus.NewRegistry()
}

// MultiGatherer fans Gather out across named sub-gatherers (one per
// component, e.g. "vote", "anchor", "aggregation").
type MultiGatherer interface {
	prometheus.Gatherer

	// Register adds a named sub-gatherer.
	Register(name string, gatherer prometheus.Gatherer) error
}

type multiGatherer struct {
	gatherers map[string]prometheus.Gatherer
}

// NewMultiGatherer creates an empty MultiGatherer.
func NewMultiGatherer() MultiGatherer {
	return &multiGatherer{gatherers: make(map[string]prometheus.Gatherer)}
}

func (mg *multiGatherer) Register(name string, gatherer prometheus.Gatherer) error {
	mg.gatherers[name] = gatherer
	return nil
}

func (mg *multiGatherer) Gather() ([]*dto.MetricFamily, error) {
	var result []*dto.MetricFamily
	for _, g := range mg.gatherers {
		families, err := g.Gather()
		if err != nil {
			return nil, err
		}
		result = append(result, families...)
	}
	return result, nil
}

// Metrics is the full set of counters the core emits.
type Metrics interface {
	// VotesAccepted counts ballots that completed the submission pipeline.
	VotesAccepted() prometheus.Counter
	// VotesRejected counts ballots rejected, labeled by operational code.
	VotesRejected() *prometheus.CounterVec
	// AnchorCommits counts successful external-ledger root commits.
	AnchorCommits() prometheus.Counter
	// AnchorFailures counts root commits that exhausted their retry budget.
	AnchorFailures() prometheus.Counter
	// SuppressionEvents counts aggregation queries that fell below the
	// total-suppression floor or were refused by the inference-attack check.
	SuppressionEvents() prometheus.Counter

	// AnchorCommitted, AnchorFailed, and SuppressionTriggered satisfy
	// internal/anchor.Metrics and internal/aggregation.Metrics, letting
	// those packages count outcomes without importing prometheus directly.
	AnchorCommitted()
	AnchorFailed()
	SuppressionTriggered()
}

type metrics struct {
	votesAccepted     prometheus.Counter
	votesRejected     *prometheus.CounterVec
	anchorCommits     prometheus.Counter
	anchorFailures    prometheus.Counter
	suppressionEvents prometheus.Counter
}

// New builds and registers the core's Metrics under namespace.
func New(namespace string, registerer prometheus.Registerer) (Metrics, error) {
	m := &metrics{
		votesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_accepted_total",
			Help:      "Ballots that completed the submission pipeline.",
		}),
		votesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_rejected_total",
			Help:      "Ballots rejected, labeled by operational code.",
		}, []string{"code"}),
		anchorCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anchor_commits_total",
			Help:      "Poll roots successfully committed to the external ledger.",
		}),
		anchorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anchor_failures_total",
			Help:      "Poll root commits that exhausted their retry budget.",
		}),
		suppressionEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suppression_events_total",
			Help:      "Aggregation queries that tripped the k-anonymity suppression ladder.",
		}),
	}

	collectors := []prometheus.Collector{
		m.votesAccepted, m.votesRejected, m.anchorCommits, m.anchorFailures, m.suppressionEvents,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) VotesAccepted() prometheus.Counter     { return m.votesAccepted }
func (m *metrics) VotesRejected() *prometheus.CounterVec { return m.votesRejected }
func (m *metrics) AnchorCommits() prometheus.Counter     { return m.anchorCommits }
func (m *metrics) AnchorFailures() prometheus.Counter    { return m.anchorFailures }
func (m *metrics) SuppressionEvents() prometheus.Counter { return m.suppressionEvents }

// AnchorCommitted and AnchorFailed satisfy internal/anchor's Metrics
// interface so a Worker can count outcomes without importing this package's
// Registerer/Registry machinery directly.
func (m *metrics) AnchorCommitted() { m.anchorCommits.Inc() }
func (m *metrics) AnchorFailed()    { m.anchorFailures.Inc() }

// SuppressionTriggered satisfies internal/aggregation's Metrics interface.
func (m *metrics) SuppressionTriggered() { m.suppressionEvents.Inc() }
