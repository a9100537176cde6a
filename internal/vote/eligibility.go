// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

package vote

import (
	"github.com/civora/ballotcore/internal/credential"
	"github.com/civora/ballotcore/internal/store"
)

// ageBucketLowerBound maps an age_bucket label to its lower-bound integer
// age (§4.6 step 4; the exact derivation rule is recorded in DESIGN.md).
var ageBucketLowerBound = map[string]int{
	"18-24": 18,
	"25-34": 25,
	"35-44": 35,
	"45-54": 45,
	"55-64": 55,
	"65+":   65,
}

// eligible evaluates a poll's audience rules against a credential's
// demographic bucket (§4.6 step 4). Region match is by set membership;
// an empty poll region set means no region restriction. Gender "all"
// matches any credential gender; otherwise it must match exactly.
func eligible(p store.Poll, d credential.Demographics) bool {
	age, ok := ageBucketLowerBound[d.AgeBucket]
	if !ok {
		return false
	}
	if p.MinAge > 0 && age < p.MinAge {
		return false
	}
	if p.MaxAge > 0 && age > p.MaxAge {
		return false
	}
	if p.Gender != "" && p.Gender != "all" && p.Gender != d.Gender {
		return false
	}
	if len(p.Regions) > 0 && !regionAllowed(p.Regions, d.Region) {
		return false
	}
	return true
}

func regionAllowed(allowed []string, region string) bool {
	for _, r := range allowed {
		if r == region {
			return true
		}
	}
	return false
}
