package querycache

import (
	"context"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

// Tier2 is the persisted cache tier.
type Tier2 interface {
	Get(ctx context.Context, key string) (domain.CacheEntry, bool, error)
	Upsert(ctx context.Context, e domain.CacheEntry) error
	DeleteByProduct(ctx context.Context, productID string) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (domain.CacheTierStats, error)
}

// Cleaner removes expired persisted entries.
type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Hydrator loads display fields for cached result ids.
type Hydrator interface {
	FetchByIDs(ctx context.Context, ids []string) (map[string]domain.SearchResult, error)
}

// Executor computes fresh results on a full miss.
type Executor = func(ctx context.Context) ([]domain.SearchResult, error)
