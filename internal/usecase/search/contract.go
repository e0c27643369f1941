package search

import (
	"context"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

// Repository runs catalog queries.
type Repository interface {
	SimilaritySearch(
		ctx context.Context, vec []float32, threshold float64, limit int, f domain.Filter,
	) ([]domain.SearchResult, error)
	KeywordSearch(ctx context.Context, query string, limit int, f domain.Filter) ([]domain.SearchResult, error)
}

// Backfill reads and writes product embeddings.
type Backfill interface {
	ListMissingEmbeddings(ctx context.Context, limit int) ([]domain.Product, error)
	UpdateEmbedding(ctx context.Context, id string, vec []float32) error
}

// Embedder produces query and batch embeddings with cost.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) (domain.EmbeddingResult, domain.EmbeddingCost, error)
	EmbedBatch(ctx context.Context, texts []string, batchSize int) (domain.BatchResult, error)
}

// Cache wraps search execution with the query result cache.
type Cache interface {
	GetOrExecute(
		ctx context.Context, query string, options any,
		exec func(ctx context.Context) ([]domain.SearchResult, error),
	) ([]domain.SearchResult, error)
	InvalidateByProductID(ctx context.Context, productID string) (int64, error)
}

// PoolState reports whether the database pool can serve queries.
type PoolState interface {
	Initialized() bool
}
