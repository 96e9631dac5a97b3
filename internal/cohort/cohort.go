// Package cohort selects the top-performing subset of scored entities
// advanced to the next funnel stage. Every stage uses the same
// algorithm; only the policy parameters differ per call site.
package cohort

import (
	"math"
	"sort"
	"time"
)

// Entity is one scored candidate. At is the tie-break timestamp
// (submission or last-answer time); earlier wins on equal scores.
type Entity struct {
	ID    int64
	Score float64
	At    time.Time
}

// Policy controls how many entities a selection keeps.
// The selected count is clamp(ceil(Proportion × eligible), Min, Max);
// Max <= 0 means no cap. An absolute top-N policy is expressed with
// Proportion 0 and Min = Max = N.
type Policy struct {
	Proportion float64
	Min        int
	Max        int
}

// TopAbsolute is a policy selecting exactly n entities (fewer if fewer
// are eligible).
func TopAbsolute(n int) Policy {
	return Policy{Min: n, Max: n}
}

// Select filters out entities with a non-positive score, ranks the rest
// descending by score with a deterministic tie-break (earlier timestamp,
// then lower ID), and returns the top slice per the policy. Empty input
// yields an empty cohort; the result never contains ineligible entities
// even when the eligible count falls short of the policy minimum.
func Select(entities []Entity, p Policy) []Entity {
	eligible := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.Score > 0 {
			eligible = append(eligible, e)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		return a.ID < b.ID
	})

	count := int(math.Ceil(p.Proportion * float64(len(eligible))))
	if count < p.Min {
		count = p.Min
	}
	if p.Max > 0 && count > p.Max {
		count = p.Max
	}
	if count > len(eligible) {
		count = len(eligible)
	}
	if count <= 0 {
		return nil
	}
	return eligible[:count]
}
