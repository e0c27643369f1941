package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/giftsearch/internal/db"
	"github.com/kailas-cloud/giftsearch/internal/domain"
)

// store is the consumer interface for budget operations (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Store persists embedding token counters in the KV store (INCRBY + GET
// with TTL). Only keys built by domain.BudgetDailyKey and
// domain.BudgetMonthlyKey are accepted.
type Store struct {
	store    store
	dailyTTL time.Duration
	monthTTL time.Duration
}

// New creates a budget store. Daily counters outlive their day by dailyTTL
// so a late usage report can still read them; monthly ones use monthTTL.
func New(s store, dailyTTL, monthTTL time.Duration) *Store {
	return &Store{
		store:    s,
		dailyTTL: dailyTTL,
		monthTTL: monthTTL,
	}
}

// IncrBy atomically increments the key value and sets TTL on first write.
func (s *Store) IncrBy(ctx context.Context, key string, val int64) error {
	_, period, err := domain.ParseBudgetKey(key)
	if err != nil {
		return fmt.Errorf("budget INCRBY: %w", err)
	}
	if val < 0 {
		return fmt.Errorf("budget INCRBY %s: %w: negative token count %d", key, domain.ErrInvalidRequest, val)
	}

	if err := s.store.IncrBy(ctx, key, val); err != nil {
		return fmt.Errorf("budget INCRBY %s: %w", key, err)
	}

	// NX: an existing expiry is not pushed forward on repeat writes.
	if err := s.store.Expire(ctx, key, s.ttl(period), true); err != nil {
		return fmt.Errorf("budget EXPIRE %s: %w", key, err)
	}

	return nil
}

// Get returns the current counter. Returns 0 if the key does not exist.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	if _, _, err := domain.ParseBudgetKey(key); err != nil {
		return 0, fmt.Errorf("budget GET: %w", err)
	}
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("budget GET %s: %w", key, err)
	}

	val, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget GET %s parse: %w", key, err)
	}
	return val, nil
}

func (s *Store) ttl(p domain.BudgetPeriod) time.Duration {
	if p == domain.BudgetDaily {
		return s.dailyTTL
	}
	return s.monthTTL
}
