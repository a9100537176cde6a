// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

package httpapi

import (
	"context"
	"time"
)

// Checker reports whether a dependency of the core is reachable.
type Checker interface {
	HealthCheck(context.Context) (interface{}, error)
}

// Check is one named health probe's outcome.
type Check struct {
	Name     string                 `json:"name"`
	Healthy  bool                   `json:"healthy"`
	Error    string                 `json:"error,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Duration time.Duration          `json:"duration"`
}

// Report aggregates every registered Checker's outcome.
type Report struct {
	Healthy  bool          `json:"healthy"`
	Checks   []Check       `json:"checks,omitempty"`
	Duration time.Duration `json:"duration"`
}

// HealthRegistry runs a fixed set of named Checkers on demand.
type HealthRegistry struct {
	checkers map[string]Checker
}

func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{checkers: make(map[string]Checker)}
}

// Register adds a named dependency check. Typical names: "store", "ledger".
func (r *HealthRegistry) Register(name string, c Checker) {
	r.checkers[name] = c
}

func (r *HealthRegistry) Report(ctx context.Context) Report {
	start := time.Now()
	report := Report{Healthy: true}
	for name, c := range r.checkers {
		checkStart := time.Now()
		details, err := c.HealthCheck(ctx)
		check := Check{Name: name, Duration: time.Since(checkStart)}
		if err != nil {
			check.Healthy = false
			check.Error = err.Error()
			report.Healthy = false
		} else {
			check.Healthy = true
			if m, ok := details.(map[string]interface{}); ok {
				check.Details = m
			}
		}
		report.Checks = append(report.Checks, check)
	}
	report.Duration = time.Since(start)
	return report
}
