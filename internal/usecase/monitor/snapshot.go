package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/giftsearch/internal/domain"
	"github.com/kailas-cloud/giftsearch/internal/metrics"
)

// Alert names.
const (
	AlertLowCacheHitRate      = "low_cache_hit_rate"
	AlertHighPoolUtilization  = "high_pool_utilization"
	AlertLowEmbeddingCoverage = "low_embedding_coverage"
	AlertPoolUnhealthy        = "pool_unhealthy"
)

var alertNames = []string{
	AlertLowCacheHitRate,
	AlertHighPoolUtilization,
	AlertLowEmbeddingCoverage,
	AlertPoolUnhealthy,
}

// DefaultRefreshInterval is used when Run gets a non-positive interval.
const DefaultRefreshInterval = 30 * time.Second

// Thresholds decide when alerts fire.
type Thresholds struct {
	MinCacheHitRate float64
	// MinCacheLookups suppresses the hit rate alert on a cold cache.
	MinCacheLookups      int64
	MaxPoolUtilization   float64
	MinEmbeddingCoverage float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.MinCacheHitRate <= 0 {
		t.MinCacheHitRate = 0.3
	}
	if t.MinCacheLookups <= 0 {
		t.MinCacheLookups = 100
	}
	if t.MaxPoolUtilization <= 0 {
		t.MaxPoolUtilization = 0.9
	}
	if t.MinEmbeddingCoverage <= 0 {
		t.MinEmbeddingCoverage = 0.95
	}
	return t
}

// Alert is one firing condition.
type Alert struct {
	Name      string  `json:"name"`
	Message   string  `json:"message"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// Snapshot is the operational state of the engine at one instant.
type Snapshot struct {
	Cache       domain.CacheStats `json:"cache"`
	Pool        domain.PoolStats  `json:"pool"`
	PoolHealthy bool              `json:"pool_healthy"`
	// Coverage is nil when it could not be read.
	Coverage  *domain.Coverage  `json:"coverage"`
	Breakers  map[string]string `json:"breakers,omitempty"`
	Alerts    []Alert           `json:"alerts"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Snapshot gathers stats and evaluates alerts. Read failures leave the
// affected section unknown.
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{Alerts: []Alert{}, CheckedAt: time.Now().UTC()}

	if s.deps.Queries != nil {
		snap.Cache = s.deps.Queries.Stats(ctx)
	}
	if s.deps.Pool != nil {
		snap.Pool = s.deps.Pool.Stats()
		snap.PoolHealthy = s.deps.Pool.Healthy()
	}
	if s.deps.Catalog != nil {
		cov, err := s.deps.Catalog.Coverage(ctx)
		if err != nil {
			s.logger.Warn("Embedding coverage unavailable", zap.Error(err))
		} else {
			snap.Coverage = &cov
		}
	}
	if s.deps.Breakers != nil {
		snap.Breakers = s.deps.Breakers.BreakerStates()
	}

	snap.Alerts = s.evaluate(snap)
	return snap
}

func (s *Service) evaluate(snap Snapshot) []Alert {
	t := s.thresholds
	alerts := []Alert{}

	if s.deps.Queries != nil && snap.Cache.Lookups() >= t.MinCacheLookups && snap.Cache.HitRate < t.MinCacheHitRate {
		alerts = append(alerts, Alert{
			Name:      AlertLowCacheHitRate,
			Message:   fmt.Sprintf("cache hit rate %.2f below %.2f", snap.Cache.HitRate, t.MinCacheHitRate),
			Value:     snap.Cache.HitRate,
			Threshold: t.MinCacheHitRate,
		})
	}

	if s.deps.Pool != nil {
		if u := snap.Pool.Utilization(); u > t.MaxPoolUtilization {
			alerts = append(alerts, Alert{
				Name:      AlertHighPoolUtilization,
				Message:   fmt.Sprintf("pool utilization %.2f above %.2f", u, t.MaxPoolUtilization),
				Value:     u,
				Threshold: t.MaxPoolUtilization,
			})
		}
		if !snap.PoolHealthy {
			alerts = append(alerts, Alert{
				Name:    AlertPoolUnhealthy,
				Message: "database pool is unhealthy",
			})
		}
	}

	if snap.Coverage != nil && snap.Coverage.Ratio < t.MinEmbeddingCoverage {
		alerts = append(alerts, Alert{
			Name: AlertLowEmbeddingCoverage,
			Message: fmt.Sprintf("%d of %d products embedded (%.2f below %.2f)",
				snap.Coverage.Embedded, snap.Coverage.Total, snap.Coverage.Ratio, t.MinEmbeddingCoverage),
			Value:     snap.Coverage.Ratio,
			Threshold: t.MinEmbeddingCoverage,
		})
	}

	return alerts
}

// Refresh takes a snapshot and publishes it to the monitoring gauges.
func (s *Service) Refresh(ctx context.Context) Snapshot {
	snap := s.Snapshot(ctx)

	if p, ok := s.deps.Pool.(PoolPublisher); ok {
		p.PublishStats()
	}
	metrics.CacheHitRate.Set(snap.Cache.HitRate)
	metrics.PoolUtilization.Set(snap.Pool.Utilization())
	if snap.Coverage != nil {
		metrics.EmbeddingCoverage.Set(snap.Coverage.Ratio)
	}

	firing := make(map[string]bool, len(snap.Alerts))
	for _, a := range snap.Alerts {
		firing[a.Name] = true
	}
	for _, name := range alertNames {
		v := 0.0
		if firing[name] {
			v = 1
		}
		metrics.ActiveAlerts.WithLabelValues(name).Set(v)
	}

	for _, a := range snap.Alerts {
		s.logger.Warn("Alert firing", zap.String("alert", a.Name), zap.String("message", a.Message))
	}
	return snap
}

// Run probes the database and refreshes gauges every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	if s.deps.DB != nil {
		// Keeps the pool's healthy flag current.
		_ = s.deps.DB.Ping(ctx)
	}
	s.Refresh(ctx)
}
