package recommend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/giftsearch/internal/domain"
	"github.com/kailas-cloud/giftsearch/internal/metrics"
)

// BreakerConfig tunes the per-model circuit breakers.
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker. Zero means 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long an open breaker rejects calls. Zero means 30s.
	OpenTimeout time.Duration
	// HalfOpenRequests are allowed through while probing. Zero means 1.
	HalfOpenRequests uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = 1
	}
	return c
}

// breakers lazily holds one circuit breaker per model.
type breakers struct {
	mu     sync.Mutex
	cfg    BreakerConfig
	byName map[string]*gobreaker.CircuitBreaker[domain.Completion]
	logger *zap.Logger
}

func newBreakers(cfg BreakerConfig, logger *zap.Logger) *breakers {
	return &breakers{
		cfg:    cfg.withDefaults(),
		byName: make(map[string]*gobreaker.CircuitBreaker[domain.Completion]),
		logger: logger,
	}
}

func (b *breakers) get(model string) *gobreaker.CircuitBreaker[domain.Completion] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.byName[model]; ok {
		return cb
	}

	threshold := b.cfg.ConsecutiveFailures
	metrics.GenerationBreakerState.WithLabelValues(model).Set(0)
	cb := gobreaker.NewCircuitBreaker[domain.Completion](gobreaker.Settings{
		Name:        model,
		MaxRequests: b.cfg.HalfOpenRequests,
		Timeout:     b.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state change",
				zap.String("model", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.GenerationBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
		// A caller giving up says nothing about the provider.
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	})
	b.byName[model] = cb
	return cb
}

// state reports the breaker state of a model, closed if never used.
func (b *breakers) state(model string) gobreaker.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.byName[model]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
