// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wrappers holds small accumulator types shared across the core.
package wrappers

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Errs accumulates independent errors so a caller can report every problem
// found in one pass instead of stopping at the first one. Used by
// config.Config.Validate to surface every misconfigured field at once.
type Errs struct {
	mu   sync.RWMutex
	errs []error
}

// Add appends err to the collection. A nil err is a no-op.
func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

// Errored reports whether any error has been added.
func (e *Errs) Errored() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.errs) > 0
}

// Err collapses the collection into a single error: nil if empty, the sole
// error unwrapped if there is exactly one, or errors.Join of all of them
// otherwise — errors.Is against any individual sentinel still works either
// way, since Join's Unwrap() []error exposes every joined error to it.
func (e *Errs) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch len(e.errs) {
	case 0:
		return nil
	case 1:
		return e.errs[0]
	default:
		return errors.Join(e.errs...)
	}
}

// String renders every accumulated error, one per line.
func (e *Errs) String() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.errs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d error", len(e.errs)))
	if len(e.errs) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString(" occurred:")
	for _, err := range e.errs {
		sb.WriteString("\n\t* ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Len returns the number of accumulated errors.
func (e *Errs) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.errs)
}
