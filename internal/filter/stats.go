package filter

import (
	"sync"

	"github.com/tablevc/tablevc/pkg/types"
)

// MatchOutcome records how one delta side tested against the spatial
// filter. Unknown means the value was never available to test.
type MatchOutcome int

const (
	OutcomeUnknown MatchOutcome = iota
	OutcomeMatched
	OutcomeNotMatched
)

// SpatialStats accumulates per-delta spatial-filter outcomes. Callers that
// enable recording get both the old-side and new-side result of every
// tested delta, even when a short-circuit would otherwise skip the test —
// downstream warnings ("this pk collides with a feature outside the
// filter") need the complete record.
type SpatialStats struct {
	mu sync.Mutex
	// outside accumulates keys whose old or new side tested outside the
	// filter, keyed the same way filters are.
	outside *RepoKeyFilter
	tested  int
	matched int
}

// NewSpatialStats creates an empty recorder.
func NewSpatialStats() *SpatialStats {
	return &SpatialStats{outside: NewEmptyRecorder()}
}

// Record stores the outcome for one delta. Must be called before (or
// atomically with) the delta being yielded, never after.
func (s *SpatialStats) Record(dsPath string, key string, oldOutcome, newOutcome MatchOutcome) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tested++
	if oldOutcome == OutcomeMatched || newOutcome == OutcomeMatched {
		s.matched++
	}
	if oldOutcome == OutcomeNotMatched || newOutcome == OutcomeNotMatched {
		s.outside.Set(dsPath, types.ItemTypeFeature, key)
	}
}

// Tested and Matched report the totals.
func (s *SpatialStats) Tested() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tested
}

func (s *SpatialStats) Matched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matched
}

// KeyOutsideFilter reports whether a key was recorded as (partly) outside
// the filter — the pk-collision warning predicate.
func (s *SpatialStats) KeyOutsideFilter(dsPath, key string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outside.Matches(dsPath, types.ItemTypeFeature, key)
}
