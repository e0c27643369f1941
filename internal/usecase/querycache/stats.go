package querycache

import (
	"sync/atomic"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

// Stats holds hit and miss counters. One instance per cache; safe for
// concurrent use.
type Stats struct {
	tier1Hits atomic.Int64
	tier2Hits atomic.Int64
	misses    atomic.Int64
}

// NewStats creates zeroed counters.
func NewStats() *Stats { return &Stats{} }

func (s *Stats) tier1Hit() { s.tier1Hits.Add(1) }
func (s *Stats) tier2Hit() { s.tier2Hits.Add(1) }
func (s *Stats) miss()     { s.misses.Add(1) }

// Hits returns tier-1 plus tier-2 hits.
func (s *Stats) Hits() int64 { return s.tier1Hits.Load() + s.tier2Hits.Load() }

// Misses returns full misses.
func (s *Stats) Misses() int64 { return s.misses.Load() }

// HitRate returns hits / lookups, 0 before the first lookup.
func (s *Stats) HitRate() float64 {
	hits, misses := s.Hits(), s.Misses()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Summary is the stats report of a cache.
type Summary = domain.CacheStats
