package monitor

import (
	"context"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// CachePinger checks the embedding cache backend.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// PoolReader exposes connection pool counters.
type PoolReader interface {
	Stats() domain.PoolStats
	Healthy() bool
}

// PoolPublisher is implemented by pools that export their own gauges.
type PoolPublisher interface {
	PublishStats() domain.PoolStats
}

// CacheStatsReader exposes query cache statistics.
type CacheStatsReader interface {
	Stats(ctx context.Context) domain.CacheStats
}

// CoverageReader reports how much of the catalog is embedded.
type CoverageReader interface {
	Coverage(ctx context.Context) (domain.Coverage, error)
}

// BreakerReader reports circuit breaker state per model.
type BreakerReader interface {
	BreakerStates() map[string]string
}
