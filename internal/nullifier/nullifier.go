// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Package nullifier computes the opaque, per-(voter, poll) value that
// prevents double voting without ever correlating a vote back to a voter
// (C3 of the specification).
package nullifier

import (
	"encoding/binary"

	"github.com/civora/ballotcore/internal/xcrypto"
)

// Service derives and verifies nullifiers via the active keyed hasher.
type Service struct {
	hasher xcrypto.KeyedHasher
}

// New wraps a keyed hasher (normally the process-wide *xcrypto.Registry).
func New(hasher xcrypto.KeyedHasher) *Service {
	return &Service{hasher: hasher}
}

// Compute returns the canonical nullifier for (voterSubject, pollID).
//
// Per §6.3, inputs are length-prefixed with a 4-byte big-endian length so
// that (voterSubject, pollID) cannot collide with (voterSubjectAlt, pollIDAlt)
// via ambiguous concatenation.
func (s *Service) Compute(voterSubject, pollID string) string {
	return s.hasher.KeyedHash(lengthPrefixed(voterSubject), lengthPrefixed(pollID))
}

// Verify does a constant-time check that claimed is the nullifier for
// (voterSubject, pollID), by recomputing it fresh.
func (s *Service) Verify(voterSubject, pollID, claimed string) bool {
	return s.hasher.Verify(claimed, lengthPrefixed(voterSubject), lengthPrefixed(pollID))
}

// lengthPrefixed encodes s as a 4-byte big-endian UTF-8 byte length followed
// by the UTF-8 bytes themselves, per the canonical nullifier-input format.
func lengthPrefixed(s string) []byte {
	b := []byte(s)
	out := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(out, uint32(len(b)))
	copy(out[4:], b)
	return out
}
