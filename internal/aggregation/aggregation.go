// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Package aggregation implements the k-anonymous results service (C8): it
// reads a poll's votes and the audit chain's event counts and shapes them
// through the suppression ladder of spec.md §4.8 before anything leaves the
// process. The floor/cell/breakdown/complementary/minimum-cells rules are
// generalized from politic-in-core's anonymization.Aggregator
// (other_examples/eb488eae_politic-in-core__anonymization-anonymization.go:
// KAnonymityThreshold, CheckKAnonymity) from a single flat threshold into a
// five-step ladder plus a differencing-attack query log; the repo-backed
// query surface follows choices-project's PollManager shape
// (other_examples/6e0604d5_choices-project-choices__server-po-internal-poll-poll.go).
package aggregation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/civora/ballotcore/internal/audit"
	"github.com/civora/ballotcore/internal/store"
)

// ErrInferenceAttackSuspected is returned when a requested breakdown's
// dimension set is a strict subset of a prior query's dimension set and the
// new query itself yields strictly more non-suppressed cells than that prior
// query recorded (§4.8 step 6).
var ErrInferenceAttackSuspected = errors.New("aggregation: inference attack suspected")

// Suppressed is the sentinel substituted for any cell count below the
// poll's k-anonymity floor.
const Suppressed = "<suppressed>"

// Dimension is a demographic breakdown axis (§4.8 step 3).
type Dimension string

const (
	DimensionGender    Dimension = "gender"
	DimensionAgeBucket Dimension = "age_bucket"
	DimensionRegion    Dimension = "region"
)

// Cell is one bucket's result within a breakdown, or within the top-level
// option tally. Count holds either an int or the Suppressed sentinel
// string — breakdown buckets below the k-anonymity floor render as the
// literal sentinel (§4.8 step 3); option-level suppression (step 2) renders
// as the int 0, per the spec's "0 or a sentinel, but consistently" choice.
type Cell struct {
	Key   string      `json:"key"`
	Count interface{} `json:"count"`
}

// Breakdown is one dimension's shaped, suppression-applied cells.
type Breakdown struct {
	Dimension Dimension `json:"dimension"`
	Cells     []Cell    `json:"cells"`
}

// Metadata reports how suppression acted on a result, per spec.md §6.2.
type Metadata struct {
	KThreshold      int       `json:"kThreshold"`
	SuppressedCells int       `json:"suppressedCells"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

// Results is the shaped response of getResults (§4.8).
type Results struct {
	PollID     string      `json:"pollId"`
	TotalVotes int         `json:"totalVotes"`
	Options    []Cell      `json:"options,omitempty"`
	Breakdowns []Breakdown `json:"breakdowns,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

// SecurityEventSummary is the supplemented (spec.md §4.8 closing line)
// k-anonymous summary of audit-chain event-kind counts.
type SecurityEventSummary struct {
	Events   []Cell   `json:"events"`
	Metadata Metadata `json:"metadata"`
}

type cacheEntry struct {
	result  Results
	votedAt int // vote count at computation time, for invalidation
}

type queryLogEntry struct {
	dims         map[Dimension]struct{}
	visibleCells int
}

// Metrics counts suppression-ladder trips. Left nil, the service simply
// doesn't count.
type Metrics interface {
	SuppressionTriggered()
}

// Service serves k-anonymous results and security-event summaries.
type Service struct {
	store *store.Store
	chain *audit.Chain

	// Metrics is optional; set after New if the caller wants suppression
	// trips exported.
	Metrics Metrics

	mu       sync.Mutex
	cache    map[string]cacheEntry
	queryLog map[string][]queryLogEntry // keyed by pollID
}

// New builds an aggregation Service.
func New(s *store.Store, chain *audit.Chain) *Service {
	return &Service{
		store:    s,
		chain:    chain,
		cache:    make(map[string]cacheEntry),
		queryLog: make(map[string][]queryLogEntry),
	}
}

// InvalidatePoll drops every cached result for pollID (§4.8 step 7: "cache
// is cleared on new votes or on manual admin invalidation"). The vote
// engine's transaction does not call this directly — it is intended for an
// admin operation or a poll-scoped cache-bust hook wired at the call site
// that observes new votes.
func (s *Service) InvalidatePoll(pollID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.cache {
		if strings.HasPrefix(key, pollID+"\x00") {
			delete(s.cache, key)
		}
	}
}

// GetResults runs the full suppression ladder for a poll, optionally broken
// down by the requested dimensions (§4.8).
func (s *Service) GetResults(ctx context.Context, pollID string, breakdownBy []Dimension) (Results, error) {
	poll, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return Results{}, fmt.Errorf("aggregation: get poll: %w", err)
	}
	k := poll.KAnonymity
	if k <= 0 {
		k = 30
	}

	votes, err := s.store.ListVotes(ctx, pollID)
	if err != nil {
		return Results{}, fmt.Errorf("aggregation: list votes: %w", err)
	}

	cacheKey := s.cacheKey(pollID, breakdownBy)
	s.mu.Lock()
	if cached, ok := s.cache[cacheKey]; ok && cached.votedAt == len(votes) {
		s.mu.Unlock()
		return cached.result, nil
	}
	s.mu.Unlock()

	options, err := s.store.ListPollOptions(ctx, pollID)
	if err != nil {
		return Results{}, fmt.Errorf("aggregation: list poll options: %w", err)
	}

	total := len(votes)
	suppressedCells := 0

	result := Results{
		PollID:     pollID,
		TotalVotes: total,
		Metadata:   Metadata{KThreshold: k, LastUpdated: time.Now().UTC()},
	}

	// Step 1: total-suppression floor.
	if total < k {
		result.TotalVotes = 0
		result.Metadata.SuppressedCells = 1
		s.storeCache(cacheKey, result, total)
		s.auditBestEffort(ctx, map[string]interface{}{"pollId": pollID, "reason": "total-below-k"})
		return result, nil
	}

	// Step 2: per-option suppression.
	optionCells := make([]Cell, 0, len(options))
	for _, opt := range options {
		count := 0
		for _, v := range votes {
			if v.OptionID == opt.ID {
				count++
			}
		}
		shown := count
		if count < k {
			shown = 0
			suppressedCells++
		}
		optionCells = append(optionCells, Cell{Key: opt.ID, Count: shown})
	}
	result.Options = optionCells

	// Steps 3-5: breakdown dimensions.
	visibleCellsByDim := make(map[Dimension]int)
	for _, dim := range breakdownBy {
		breakdown, visible, dimSuppressed, err := s.shapeBreakdown(dim, votes, k)
		if err != nil {
			return Results{}, err
		}
		suppressedCells += dimSuppressed
		if breakdown.Cells != nil {
			result.Breakdowns = append(result.Breakdowns, breakdown)
			visibleCellsByDim[dim] = visible
		}
	}

	// Step 6: differencing-attack inference defense.
	if err := s.checkInferenceAttack(pollID, breakdownBy, visibleCellsByDim); err != nil {
		s.auditBestEffort(ctx, map[string]interface{}{"pollId": pollID, "reason": "inference-attack-suspected"})
		return Results{}, err
	}

	result.Metadata.SuppressedCells = suppressedCells
	s.storeCache(cacheKey, result, total)
	s.recordQuery(pollID, breakdownBy, visibleCellsByDim)
	return result, nil
}

// shapeBreakdown buckets votes by dim and applies steps 3-5 of the ladder.
// It returns the shaped breakdown, the count of cells left visible, and the
// count of cells suppressed.
func (s *Service) shapeBreakdown(dim Dimension, votes []store.Vote, k int) (Breakdown, int, int, error) {
	counts := make(map[string]int)
	for _, v := range votes {
		key, err := bucketKey(dim, v)
		if err != nil {
			return Breakdown{}, 0, 0, err
		}
		counts[key]++
	}

	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	type bucket struct {
		key        string
		count      int
		suppressed bool
	}
	buckets := make([]bucket, 0, len(keys))
	visible := 0
	for _, key := range keys {
		c := counts[key]
		b := bucket{key: key, count: c}
		if c < k {
			b.suppressed = true
		} else {
			visible++
		}
		buckets = append(buckets, b)
	}

	// Step 4: complementary suppression. A lone surviving visible bucket
	// lets its own count be subtracted from the total to recover the sum
	// of every suppressed bucket, so it is suppressed too.
	if visible == 1 {
		for i, b := range buckets {
			if !b.suppressed {
				buckets[i].suppressed = true
				visible = 0
				break
			}
		}
	}

	// Step 5: minimum-cells-per-dimension — drop the dimension entirely if
	// fewer than three cells remain visible.
	if visible < 3 {
		return Breakdown{Dimension: dim, Cells: nil}, 0, 0, nil
	}

	cells := make([]Cell, 0, len(buckets))
	suppressed := 0
	for _, b := range buckets {
		if b.suppressed {
			cells = append(cells, Cell{Key: b.key, Count: Suppressed})
			suppressed++
			continue
		}
		cells = append(cells, Cell{Key: b.key, Count: b.count})
	}
	return Breakdown{Dimension: dim, Cells: cells}, visible, suppressed, nil
}

func bucketKey(dim Dimension, v store.Vote) (string, error) {
	var demo struct {
		AgeBucket string `json:"age_bucket"`
		Gender    string `json:"gender"`
		Region    string `json:"region"`
	}
	if err := json.Unmarshal([]byte(v.DemographicsJSON), &demo); err != nil {
		return "", fmt.Errorf("aggregation: decode demographics snapshot: %w", err)
	}
	switch dim {
	case DimensionGender:
		return demo.Gender, nil
	case DimensionAgeBucket:
		return demo.AgeBucket, nil
	case DimensionRegion:
		return demo.Region, nil
	default:
		return "", fmt.Errorf("aggregation: unknown dimension %q", dim)
	}
}

// checkInferenceAttack enforces step 6: a query whose dimension set is a
// strict subset of a prior query's dimensions, and that yields strictly
// more non-suppressed cells, is refused.
func (s *Service) checkInferenceAttack(pollID string, dims []Dimension, visibleByDim map[Dimension]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requested := dimSet(dims)
	totalVisible := 0
	for _, v := range visibleByDim {
		totalVisible += v
	}

	for _, prior := range s.queryLog[pollID] {
		if isStrictSubset(requested, prior.dims) && totalVisible > prior.visibleCells {
			return ErrInferenceAttackSuspected
		}
	}
	return nil
}

func (s *Service) recordQuery(pollID string, dims []Dimension, visibleByDim map[Dimension]int) {
	totalVisible := 0
	for _, v := range visibleByDim {
		totalVisible += v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryLog[pollID] = append(s.queryLog[pollID], queryLogEntry{
		dims:         dimSet(dims),
		visibleCells: totalVisible,
	})
}

func dimSet(dims []Dimension) map[Dimension]struct{} {
	out := make(map[Dimension]struct{}, len(dims))
	for _, d := range dims {
		out[d] = struct{}{}
	}
	return out
}

func isStrictSubset(a, b map[Dimension]struct{}) bool {
	if len(a) >= len(b) {
		return false
	}
	for d := range a {
		if _, ok := b[d]; !ok {
			return false
		}
	}
	return true
}

func (s *Service) cacheKey(pollID string, dims []Dimension) string {
	names := make([]string, len(dims))
	for i, d := range dims {
		names[i] = string(d)
	}
	sort.Strings(names)
	return pollID + "\x00" + strings.Join(names, ",")
}

func (s *Service) storeCache(key string, result Results, voteCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cacheEntry{result: result, votedAt: voteCount}
}

func (s *Service) auditBestEffort(ctx context.Context, payload map[string]interface{}) {
	_ = s.chain.Append(ctx, audit.KindSuppressionTriggered, payload)
	if s.Metrics != nil {
		s.Metrics.SuppressionTriggered()
	}
}

// SecurityEvents summarizes the audit chain's event-kind counts through the
// same suppression rules as GetResults (§4.8 closing line).
func (s *Service) SecurityEvents(ctx context.Context, k int) (SecurityEventSummary, error) {
	if k <= 0 {
		k = 30
	}
	entries, err := s.store.ListAuditEntries(ctx)
	if err != nil {
		return SecurityEventSummary{}, fmt.Errorf("aggregation: list audit entries: %w", err)
	}

	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Kind]++
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	suppressed := 0
	cells := make([]Cell, 0, len(keys))
	for _, key := range keys {
		c := counts[key]
		if c < k {
			cells = append(cells, Cell{Key: key, Count: Suppressed})
			suppressed++
			continue
		}
		cells = append(cells, Cell{Key: key, Count: c})
	}

	return SecurityEventSummary{
		Events: cells,
		Metadata: Metadata{
			KThreshold:      k,
			SuppressedCells: suppressed,
			LastUpdated:     time.Now().UTC(),
		},
	}, nil
}
