package chi

import (
	"context"

	"github.com/kailas-cloud/giftsearch/internal/domain"
	domusage "github.com/kailas-cloud/giftsearch/internal/domain/usage"
	monitoruc "github.com/kailas-cloud/giftsearch/internal/usecase/monitor"
	searchuc "github.com/kailas-cloud/giftsearch/internal/usecase/search"
)

// SearchService runs product searches and catalog reindexing.
type SearchService interface {
	SimilaritySearch(ctx context.Context, query string, opts domain.SimilarityOptions) ([]domain.SearchResult, error)
	HybridSearch(ctx context.Context, query string, opts domain.HybridOptions) ([]domain.SearchResult, error)
	ReindexMissing(ctx context.Context, limit int) (searchuc.ReindexReport, error)
}

// Recommender generates gift recommendations.
type Recommender interface {
	Generate(ctx context.Context, req domain.RecommendationRequest) (domain.RecommendationResponse, error)
}

// CacheAdmin invalidates query cache entries.
type CacheAdmin interface {
	InvalidateByProductID(ctx context.Context, productID string) (int64, error)
	InvalidateAll(ctx context.Context) error
}

// UsageReporter builds provider usage reports.
type UsageReporter interface {
	GetReport(ctx context.Context, period domusage.Period) domusage.Report
}

// Monitor reports health and operational state.
type Monitor interface {
	Check(ctx context.Context) monitoruc.Report
	Snapshot(ctx context.Context) monitoruc.Snapshot
}
