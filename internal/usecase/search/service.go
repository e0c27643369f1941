// Package search implements similarity and hybrid product search on top of
// the query result cache.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

// Defaults applied when options leave a field unset.
const (
	DefaultMatchCount     = 10
	DefaultMatchThreshold = 0.5
	DefaultKeywordWeight  = 0.3
	DefaultSemanticWeight = 0.7
	DefaultReindexLimit   = 500
)

// Config tunes the search engine.
type Config struct {
	RRFK              int
	DefaultMatchCount int
}

// ReindexReport summarizes one embedding backfill run.
type ReindexReport struct {
	Scanned     int                  `json:"scanned"`
	Embedded    int                  `json:"embedded"`
	Failed      int                  `json:"failed"`
	Invalidated int64                `json:"invalidated"`
	Cost        domain.EmbeddingCost `json:"cost"`
}

// Service runs similarity and hybrid searches.
type Service struct {
	repo     Repository
	backfill Backfill
	embed    Embedder
	cache    Cache
	pool     PoolState
	rrfK     int
	count    int
	logger   *zap.Logger
}

// New creates a search service.
func New(
	repo Repository, backfill Backfill, embed Embedder, cache Cache, pool PoolState,
	cfg Config, logger *zap.Logger,
) *Service {
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if cfg.DefaultMatchCount <= 0 {
		cfg.DefaultMatchCount = DefaultMatchCount
	}
	return &Service{
		repo:     repo,
		backfill: backfill,
		embed:    embed,
		cache:    cache,
		pool:     pool,
		rrfK:     cfg.RRFK,
		count:    cfg.DefaultMatchCount,
		logger:   logger,
	}
}

type similarityKey struct {
	Mode string `json:"mode"`
	domain.SimilarityOptions
}

type hybridKey struct {
	Mode string `json:"mode"`
	domain.HybridOptions
}

// SimilaritySearch returns products whose similarity to the query exceeds
// MatchThreshold, most similar first, at most MatchCount of them.
func (s *Service) SimilaritySearch(
	ctx context.Context, query string, opts domain.SimilarityOptions,
) ([]domain.SearchResult, error) {
	if opts.MatchCount == 0 {
		opts.MatchCount = s.count
	}
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if s.degraded("similarity") {
		return []domain.SearchResult{}, nil
	}

	f := domain.Filter{Category: opts.Category, MinPrice: opts.MinPrice, MaxPrice: opts.MaxPrice}
	return s.cache.GetOrExecute(ctx, query, similarityKey{Mode: "similarity", SimilarityOptions: opts},
		func(ctx context.Context) ([]domain.SearchResult, error) {
			emb, _, err := s.embed.EmbedQuery(ctx, query)
			if err != nil {
				return nil, fmt.Errorf("vectorize query: %w", err)
			}
			res, err := s.repo.SimilaritySearch(ctx, emb.Embedding, opts.MatchThreshold, opts.MatchCount, f)
			if err != nil {
				return nil, fmt.Errorf("similarity search: %w", err)
			}
			return aboveThreshold(res, opts.MatchThreshold, opts.MatchCount), nil
		})
}

// HybridSearch fuses the keyword and semantic rankings of the query.
func (s *Service) HybridSearch(
	ctx context.Context, query string, opts domain.HybridOptions,
) ([]domain.SearchResult, error) {
	if opts.MatchCount == 0 {
		opts.MatchCount = s.count
	}
	if opts.KeywordWeight == 0 && opts.SemanticWeight == 0 {
		opts.KeywordWeight, opts.SemanticWeight = DefaultKeywordWeight, DefaultSemanticWeight
	}
	if opts.Fusion == "" {
		opts.Fusion = domain.FusionWeighted
	}
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if s.degraded("hybrid") {
		return []domain.SearchResult{}, nil
	}

	f := domain.Filter{Category: opts.Category, MinPrice: opts.MinPrice, MaxPrice: opts.MaxPrice}
	// Each leg over-fetches so fusion has candidates beyond the final cut.
	candidates := opts.MatchCount * 2

	return s.cache.GetOrExecute(ctx, query, hybridKey{Mode: "hybrid", HybridOptions: opts},
		func(ctx context.Context) ([]domain.SearchResult, error) {
			var semantic, keyword []domain.SearchResult
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				emb, _, err := s.embed.EmbedQuery(gctx, query)
				if err != nil {
					return fmt.Errorf("vectorize query: %w", err)
				}
				semantic, err = s.repo.SimilaritySearch(gctx, emb.Embedding, 0, candidates, f)
				if err != nil {
					return fmt.Errorf("similarity search: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				var err error
				keyword, err = s.repo.KeywordSearch(gctx, query, candidates, f)
				if err != nil {
					return fmt.Errorf("keyword search: %w", err)
				}
				return nil
			})
			if err := g.Wait(); err != nil {
				return nil, err
			}

			if opts.Fusion == domain.FusionRRF {
				return fuseRRF(semantic, keyword, s.rrfK, opts.MatchCount), nil
			}
			return fuseWeighted(semantic, keyword, opts.KeywordWeight, opts.SemanticWeight, opts.MatchCount), nil
		})
}

// ReindexMissing embeds up to limit products that have no embedding, stores
// the vectors and drops cache entries that reference them.
func (s *Service) ReindexMissing(ctx context.Context, limit int) (ReindexReport, error) {
	if limit <= 0 {
		limit = DefaultReindexLimit
	}
	if !s.pool.Initialized() {
		return ReindexReport{}, domain.ErrPoolNotInitialized
	}

	products, err := s.backfill.ListMissingEmbeddings(ctx, limit)
	if err != nil {
		return ReindexReport{}, fmt.Errorf("list products: %w", err)
	}
	report := ReindexReport{Scanned: len(products)}
	if len(products) == 0 {
		return report, nil
	}

	texts := make([]string, len(products))
	for i, p := range products {
		texts[i] = p.Text().Document()
	}
	batch, batchErr := s.embed.EmbedBatch(ctx, texts, 0)
	report.Cost = batch.Cost
	report.Failed = batch.Failed

	for i, vec := range batch.Embeddings {
		if vec == nil {
			continue
		}
		id := products[i].ID
		if err := s.backfill.UpdateEmbedding(ctx, id, vec); err != nil {
			if errors.Is(err, context.Canceled) {
				return report, err
			}
			s.logger.Warn("Failed to store embedding", zap.String("product_id", id), zap.Error(err))
			report.Failed++
			continue
		}
		report.Embedded++

		n, err := s.cache.InvalidateByProductID(ctx, id)
		if err != nil {
			s.logger.Warn("Failed to invalidate cache for product", zap.String("product_id", id), zap.Error(err))
			continue
		}
		report.Invalidated += n
	}

	s.logger.Info("Reindex finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("embedded", report.Embedded),
		zap.Int("failed", report.Failed),
		zap.Float64("cost_usd", report.Cost.CostUSD),
	)
	return report, batchErr
}

func (s *Service) degraded(mode string) bool {
	if s.pool.Initialized() {
		return false
	}
	s.logger.Warn("Database pool not initialized, returning empty results", zap.String("mode", mode))
	return true
}

// aboveThreshold keeps results with similarity strictly above threshold,
// sorted by similarity descending and cut to limit.
func aboveThreshold(res []domain.SearchResult, threshold float64, limit int) []domain.SearchResult {
	out := make([]domain.SearchResult, 0, len(res))
	for _, r := range res {
		if r.Similarity > threshold {
			r.Score = r.Similarity
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func validateQuery(q string) error {
	if strings.TrimSpace(q) == "" {
		return fmt.Errorf("%w: query is required", domain.ErrInvalidRequest)
	}
	return nil
}
