package domain

import (
	"fmt"
	"slices"
	"time"
)

// CacheEntry maps a query fingerprint to a ranked result set.
// ResultSimilarities is empty for entries written before it was persisted.
type CacheEntry struct {
	Fingerprint        string
	QueryText          string
	ResultIDs          []string
	ResultScores       []float64
	ResultSimilarities []float64
	CreatedAt          time.Time
	ExpiresAt          time.Time
	HitCount           int64
}

// NewCacheEntry builds an entry from ranked results.
func NewCacheEntry(fingerprint, query string, results []SearchResult, now time.Time, ttl time.Duration) CacheEntry {
	ids := make([]string, len(results))
	scores := make([]float64, len(results))
	sims := make([]float64, len(results))
	for i, r := range results {
		ids[i] = r.ID
		scores[i] = r.Score
		sims[i] = r.Similarity
	}
	return CacheEntry{
		Fingerprint:        fingerprint,
		QueryText:          query,
		ResultIDs:          ids,
		ResultScores:       scores,
		ResultSimilarities: sims,
		CreatedAt:          now,
		ExpiresAt:          now.Add(ttl),
	}
}

// Validate enforces the entry invariants.
func (e CacheEntry) Validate() error {
	if e.Fingerprint == "" {
		return fmt.Errorf("cache entry: empty fingerprint")
	}
	if len(e.ResultIDs) != len(e.ResultScores) {
		return fmt.Errorf("cache entry %s: %d ids but %d scores", e.Fingerprint, len(e.ResultIDs), len(e.ResultScores))
	}
	if n := len(e.ResultSimilarities); n != 0 && n != len(e.ResultIDs) {
		return fmt.Errorf("cache entry %s: %d ids but %d similarities", e.Fingerprint, len(e.ResultIDs), n)
	}
	if !e.ExpiresAt.After(e.CreatedAt) {
		return fmt.Errorf("cache entry %s: expires_at must be after created_at", e.Fingerprint)
	}
	return nil
}

// Expired reports whether the entry is past its expiry at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Contains reports whether the product id appears in the result list.
func (e CacheEntry) Contains(productID string) bool {
	return slices.Contains(e.ResultIDs, productID)
}

// CacheTierStats summarizes the live entries of one cache tier.
type CacheTierStats struct {
	TotalEntries    int64
	AvgHitsPerQuery float64
}

// CacheStats is the combined report of both query cache tiers.
type CacheStats struct {
	HitCount        int64   `json:"hit_count"`
	MissCount       int64   `json:"miss_count"`
	HitRate         float64 `json:"hit_rate"`
	TotalEntries    int64   `json:"total_entries"`
	AvgHitsPerQuery float64 `json:"avg_hits_per_query"`
	Tier1Entries    int     `json:"tier1_entries"`
	Tier1Hits       int64   `json:"tier1_hits"`
	Tier2Hits       int64   `json:"tier2_hits"`
}

// Lookups returns the number of cache lookups seen.
func (s CacheStats) Lookups() int64 { return s.HitCount + s.MissCount }
