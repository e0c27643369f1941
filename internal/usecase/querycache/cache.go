// Package querycache implements the two-tier query result cache: a bounded
// in-process LRU in front of a persisted Postgres table.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/giftsearch/internal/domain"
	"github.com/kailas-cloud/giftsearch/internal/metrics"
)

const (
	defaultTier1TTL  = 5 * time.Minute
	defaultTier1Size = 1000
	defaultTier2TTL  = time.Hour
	writeBackTimeout = 5 * time.Second
)

// Lookup metric labels.
const (
	tier1        = "tier1"
	tier2        = "tier2"
	lookupHit    = "hit"
	lookupMiss   = "miss"
	lookupFailed = "error"
)

// Config configures a Cache.
type Config struct {
	Tier1TTL        time.Duration
	Tier1MaxEntries int
	Tier2TTL        time.Duration
	// SingleFlight coalesces concurrent misses of one fingerprint.
	SingleFlight bool
}

type tier1Entry struct {
	entry   domain.CacheEntry
	results []domain.SearchResult
}

// Cache is the two-tier query result cache. tier2 and hydrator may be nil,
// leaving a tier-1 only cache.
type Cache struct {
	cfg      Config
	local    *expirable.LRU[string, tier1Entry]
	tier2    Tier2
	hydrator Hydrator
	stats    *Stats
	group    singleflight.Group
	pending  sync.WaitGroup
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a Cache. stats may be shared with a monitoring reader.
func New(cfg Config, tier2 Tier2, hydrator Hydrator, stats *Stats, logger *zap.Logger) *Cache {
	if cfg.Tier1TTL <= 0 {
		cfg.Tier1TTL = defaultTier1TTL
	}
	if cfg.Tier1MaxEntries <= 0 {
		cfg.Tier1MaxEntries = defaultTier1Size
	}
	if cfg.Tier2TTL <= 0 {
		cfg.Tier2TTL = defaultTier2TTL
	}
	if stats == nil {
		stats = NewStats()
	}
	if tier2 == nil || hydrator == nil {
		tier2, hydrator = nil, nil
	}
	return &Cache{
		cfg:      cfg,
		local:    expirable.NewLRU[string, tier1Entry](cfg.Tier1MaxEntries, nil, cfg.Tier1TTL),
		tier2:    tier2,
		hydrator: hydrator,
		stats:    stats,
		now:      time.Now,
		logger:   logger,
	}
}

// GetOrExecute returns cached results for (query, options) or runs exec.
// Lookup order is tier-1, tier-2, exec. Cache backend failures count as
// misses; exec errors are returned and nothing is cached.
func (c *Cache) GetOrExecute(ctx context.Context, query string, options any, exec Executor) ([]domain.SearchResult, error) {
	fp, err := Fingerprint(query, options)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	if res, ok := c.lookupTier1(fp, true); ok {
		return res, nil
	}

	if !c.cfg.SingleFlight {
		return c.fill(ctx, fp, query, exec)
	}
	leader := false
	ch := c.group.DoChan(fp, func() (any, error) {
		leader = true
		// A concurrent flight may have finished between the tier-1 check and here.
		if res, ok := c.lookupTier1(fp, false); ok {
			return res, nil
		}
		return c.fill(ctx, fp, query, exec)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			// The flight ran on the leader's context. A follower whose own
			// context is still live runs its own fill instead of inheriting
			// the leader's cancellation.
			if !leader && ctx.Err() == nil && isContextError(r.Err) {
				return c.fill(ctx, fp, query, exec)
			}
			return nil, r.Err
		}
		if !leader {
			// Served by another caller's flight.
			c.stats.tier1Hit()
		}
		return slices.Clone(r.Val.([]domain.SearchResult)), nil
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// fill runs the tier-2 lookup and, on miss, exec plus write-back.
func (c *Cache) fill(ctx context.Context, fp, query string, exec Executor) ([]domain.SearchResult, error) {
	if res, ok := c.lookupTier2(ctx, fp); ok {
		return res, nil
	}

	c.stats.miss()
	results, err := exec(ctx)
	if err != nil {
		return nil, err
	}

	entry := domain.NewCacheEntry(fp, query, results, c.now(), c.cfg.Tier2TTL)
	if err := entry.Validate(); err != nil {
		c.logger.Warn("Refusing to cache invalid entry", zap.Error(err))
		return results, nil
	}
	c.local.Add(fp, tier1Entry{entry: entry, results: slices.Clone(results)})
	c.writeBack(ctx, entry)
	return results, nil
}

// lookupTier1 records a miss metric only when countMiss is set, so a
// re-check inside a flight is not counted twice.
func (c *Cache) lookupTier1(fp string, countMiss bool) ([]domain.SearchResult, bool) {
	e, ok := c.local.Get(fp)
	if !ok {
		if countMiss {
			metrics.QueryCacheLookupsTotal.WithLabelValues(tier1, lookupMiss).Inc()
		}
		return nil, false
	}
	c.stats.tier1Hit()
	metrics.QueryCacheLookupsTotal.WithLabelValues(tier1, lookupHit).Inc()
	return slices.Clone(e.results), true
}

func (c *Cache) lookupTier2(ctx context.Context, fp string) ([]domain.SearchResult, bool) {
	if c.tier2 == nil {
		return nil, false
	}

	entry, ok, err := c.tier2.Get(ctx, fp)
	if err != nil {
		c.backendFailure("tier-2 read", fp, err)
		metrics.QueryCacheLookupsTotal.WithLabelValues(tier2, lookupFailed).Inc()
		return nil, false
	}
	if !ok || entry.Expired(c.now()) {
		metrics.QueryCacheLookupsTotal.WithLabelValues(tier2, lookupMiss).Inc()
		return nil, false
	}
	if err := entry.Validate(); err != nil {
		c.backendFailure("tier-2 entry", fp, err)
		metrics.QueryCacheLookupsTotal.WithLabelValues(tier2, lookupFailed).Inc()
		return nil, false
	}

	results, err := c.hydrate(ctx, entry)
	if err != nil {
		c.backendFailure("hydration", fp, err)
		metrics.QueryCacheLookupsTotal.WithLabelValues(tier2, lookupFailed).Inc()
		return nil, false
	}

	c.stats.tier2Hit()
	metrics.QueryCacheLookupsTotal.WithLabelValues(tier2, lookupHit).Inc()
	c.local.Add(fp, tier1Entry{entry: entry, results: slices.Clone(results)})
	return results, true
}

// hydrate rebuilds results in cached order with cached scores and
// similarities. Entries without stored similarities fall back to the
// clamped score. A product that no longer exists makes the entry stale.
func (c *Cache) hydrate(ctx context.Context, e domain.CacheEntry) ([]domain.SearchResult, error) {
	if len(e.ResultIDs) == 0 {
		return []domain.SearchResult{}, nil
	}
	products, err := c.hydrator.FetchByIDs(ctx, e.ResultIDs)
	if err != nil {
		return nil, err
	}

	out := make([]domain.SearchResult, len(e.ResultIDs))
	for i, id := range e.ResultIDs {
		p, ok := products[id]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", id, domain.ErrNotFound)
		}
		p.Score = e.ResultScores[i]
		if len(e.ResultSimilarities) == len(e.ResultIDs) {
			p.Similarity = e.ResultSimilarities[i]
		} else {
			p.Similarity = math.Min(math.Max(p.Score, 0), 1)
		}
		out[i] = p
	}
	return out, nil
}

// writeBack upserts into tier-2 in the background. Failures are logged only.
func (c *Cache) writeBack(ctx context.Context, e domain.CacheEntry) {
	if c.tier2 == nil {
		return
	}
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeBackTimeout)
		defer cancel()
		if err := c.tier2.Upsert(wctx, e); err != nil {
			metrics.QueryCacheWriteFailuresTotal.Inc()
			c.backendFailure("tier-2 write-back", e.Fingerprint, err)
		}
	}()
}

// Wait blocks until background write-backs finish.
func (c *Cache) Wait() { c.pending.Wait() }

// InvalidateByProductID drops every entry whose results contain productID and
// returns the number of persisted entries removed.
func (c *Cache) InvalidateByProductID(ctx context.Context, productID string) (int64, error) {
	dropped := 0
	for _, key := range c.local.Keys() {
		if e, ok := c.local.Peek(key); ok && e.entry.Contains(productID) {
			c.local.Remove(key)
			dropped++
		}
	}

	var n int64
	if c.tier2 != nil {
		var err error
		if n, err = c.tier2.DeleteByProduct(ctx, productID); err != nil {
			return 0, fmt.Errorf("%w: %w", domain.ErrCacheBackend, err)
		}
	}

	metrics.QueryCacheInvalidatedTotal.WithLabelValues("product").Add(float64(n))
	c.logger.Info("Cache invalidated by product",
		zap.String("product_id", productID),
		zap.Int("tier1", dropped),
		zap.Int64("tier2", n),
	)
	return n, nil
}

// InvalidateAll purges both tiers.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	c.local.Purge()
	if c.tier2 == nil {
		return nil
	}
	n, err := c.tier2.DeleteAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCacheBackend, err)
	}
	metrics.QueryCacheInvalidatedTotal.WithLabelValues("all").Add(float64(n))
	c.logger.Info("Cache purged", zap.Int64("tier2", n))
	return nil
}

// Stats reports counters and entry totals. A tier-2 read failure falls back
// to tier-1 figures.
func (c *Cache) Stats(ctx context.Context) Summary {
	s := Summary{
		HitCount:     c.stats.Hits(),
		MissCount:    c.stats.Misses(),
		HitRate:      c.stats.HitRate(),
		Tier1Entries: c.local.Len(),
		Tier1Hits:    c.stats.tier1Hits.Load(),
		Tier2Hits:    c.stats.tier2Hits.Load(),
		TotalEntries: int64(c.local.Len()),
	}
	if c.tier2 == nil {
		return s
	}
	ts, err := c.tier2.Stats(ctx)
	if err != nil {
		c.backendFailure("tier-2 stats", "", err)
		return s
	}
	s.TotalEntries = ts.TotalEntries
	s.AvgHitsPerQuery = ts.AvgHitsPerQuery
	return s
}

func (c *Cache) backendFailure(stage, fp string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	c.logger.Warn("Query cache backend failure",
		zap.String("stage", stage),
		zap.String("fingerprint", fp),
		zap.Error(fmt.Errorf("%w: %w", domain.ErrCacheBackend, err)),
	)
}
