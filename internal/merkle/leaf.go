// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

package merkle

import (
	"time"

	"github.com/civora/ballotcore/internal/xcrypto"
)

// LeafDelimiter is the single-byte separator frozen per §6.3 and the open
// question in §9 of the specification ('|', 0x7C). It MUST never change
// across a deployment's lifetime: any deviation breaks external verifiers
// who recompute leaves independently.
const LeafDelimiter = '|'

// BucketTimestampLayout is the frozen ISO 8601 UTC, millisecond-precision
// format used inside the leaf pre-image.
const BucketTimestampLayout = "2006-01-02T15:04:05.000Z"

// LeafPreimage builds the canonical byte string
// pollId | optionId | nullifier | bucket_ts (ISO 8601 UTC, ms precision)
// per §6.3 of the specification.
func LeafPreimage(pollID, optionID, nullifierHex string, bucketTS time.Time) []byte {
	ts := bucketTS.UTC().Format(BucketTimestampLayout)
	out := make([]byte, 0, len(pollID)+len(optionID)+len(nullifierHex)+len(ts)+3)
	out = append(out, []byte(pollID)...)
	out = append(out, LeafDelimiter)
	out = append(out, []byte(optionID)...)
	out = append(out, LeafDelimiter)
	out = append(out, []byte(nullifierHex)...)
	out = append(out, LeafDelimiter)
	out = append(out, []byte(ts)...)
	return out
}

// ComputeLeaf hashes the canonical pre-image with the registry's active
// leaf hasher.
func ComputeLeaf(hasher xcrypto.LeafHasher, pollID, optionID, nullifierHex string, bucketTS time.Time) Leaf {
	return Leaf(hasher.LeafHash(LeafPreimage(pollID, optionID, nullifierHex, bucketTS)))
}
