package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/giftsearch/internal/domain"
	"github.com/kailas-cloud/giftsearch/internal/metrics"
	"github.com/kailas-cloud/giftsearch/internal/retry"
)

// Op runs on a connection held exclusively for one attempt.
type Op[T any] func(ctx context.Context, conn *sql.Conn) (T, error)

// ExecuteWithRetry acquires a connection, runs op and releases the
// connection on every attempt. Failures are retried with exponential
// backoff up to maxAttempts calls in total (pool default when <= 0).
// ErrPoolNotInitialized, domain.ErrNotFound and context errors are not retried.
func ExecuteWithRetry[T any](ctx context.Context, p *Pool, maxAttempts int, op Op[T]) (T, error) {
	var zero T
	if !p.Initialized() {
		return zero, p.notInitialized()
	}
	if maxAttempts <= 0 {
		maxAttempts = p.cfg.MaxRetries
	}

	policy := retry.Policy{
		MaxAttempts: maxAttempts,
		Backoff:     retry.Exponential(p.cfg.RetryBaseDelay, p.cfg.RetryMaxDelay),
		Retryable:   retryablePoolError,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			metrics.PoolRetriesTotal.Inc()
			p.logger.Warn("Retrying pool operation",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}

	res, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (T, error) {
		pc, err := p.Acquire(ctx)
		if err != nil {
			return zero, err
		}
		defer pc.Release()

		qctx, cancel := context.WithTimeout(ctx, p.cfg.StatementTimeout)
		defer cancel()
		return op(qctx, pc.conn)
	})
	if errors.Is(err, retry.ErrExhausted) {
		p.logger.Error("Pool operation exhausted retries", zap.Int("attempts", maxAttempts), zap.Error(err))
		return zero, fmt.Errorf("%w: %w", domain.ErrPoolExhaustedRetries, err)
	}
	return res, err
}

func retryablePoolError(err error) bool {
	switch {
	case errors.Is(err, domain.ErrPoolNotInitialized),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
