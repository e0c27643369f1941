package querycache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/giftsearch/internal/metrics"
)

// DefaultSweepInterval is used when Sweeper gets a non-positive interval.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically deletes expired persisted entries. Cleanup is a single
// DELETE, so overlapping sweeps from several processes are harmless.
type Sweeper struct {
	cleaner  Cleaner
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(cleaner Cleaner, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{cleaner: cleaner, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup and returns the number of deleted entries.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.cleaner.Cleanup(ctx)
	if err != nil {
		s.logger.Warn("Query cache sweep failed", zap.Error(err))
		return 0, err
	}
	metrics.QueryCacheSweptTotal.Add(float64(n))
	if n > 0 {
		s.logger.Info("Query cache swept", zap.Int64("deleted", n))
	}
	return n, nil
}
