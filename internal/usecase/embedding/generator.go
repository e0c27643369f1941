package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/giftsearch/internal/domain"
	"github.com/kailas-cloud/giftsearch/internal/metrics"
)

// DefaultBatchSize is the chunk size of EmbedBatch when the caller passes 0.
const DefaultBatchSize = 50

// CostRecorder accumulates embedding spend across requests.
type CostRecorder interface {
	RecordEmbedding(usd float64)
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Model string
	// PricePer1K overrides the built-in price table when positive.
	PricePer1K float64
	BatchSize  int
	// RequestsPerSecond paces provider calls made by EmbedBatch. Zero disables pacing.
	RequestsPerSecond float64
}

// Generator produces query and product embeddings with per-call cost.
type Generator struct {
	embedder   domain.Embedder
	model      string
	pricePer1K float64
	batchSize  int
	limiter    *rate.Limiter
	costs      CostRecorder
	logger     *zap.Logger
}

// NewGenerator creates a Generator over the decorated embedder chain.
// costs can be nil.
func NewGenerator(embedder domain.Embedder, cfg GeneratorConfig, costs CostRecorder, logger *zap.Logger) *Generator {
	price := cfg.PricePer1K
	if price <= 0 {
		price = domain.EmbeddingPricePer1K(cfg.Model)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Generator{
		embedder:   embedder,
		model:      cfg.Model,
		pricePer1K: price,
		batchSize:  batch,
		limiter:    limiter,
		costs:      costs,
		logger:     logger,
	}
}

// Model returns the embedding model name.
func (g *Generator) Model() string { return g.model }

// EmbedQuery embeds a search query. A cache hit costs nothing.
func (g *Generator) EmbedQuery(ctx context.Context, text string) (domain.EmbeddingResult, domain.EmbeddingCost, error) {
	if strings.TrimSpace(text) == "" {
		return domain.EmbeddingResult{}, domain.EmbeddingCost{}, fmt.Errorf("%w: empty text", domain.ErrInvalidRequest)
	}
	res, err := g.embedder.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, domain.EmbeddingCost{}, err
	}
	cost := g.charge(ctx, res.TotalTokens)
	return res, cost, nil
}

// EmbedProduct embeds the document rendered from a product's fields.
func (g *Generator) EmbedProduct(ctx context.Context, p domain.ProductText) (domain.EmbeddingResult, domain.EmbeddingCost, error) {
	return g.EmbedQuery(ctx, p.Document())
}

// EmbedBatch embeds texts in chunks of batchSize (the configured size when
// <= 0). A failing chunk is retried item by item so a bad input is skipped
// instead of failing the batch. The error is non-nil only when the context
// ends or the token budget is exhausted; the partial result is still returned.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string, batchSize int) (domain.BatchResult, error) {
	if batchSize <= 0 {
		batchSize = g.batchSize
	}
	out := domain.BatchResult{Embeddings: make([][]float32, len(texts))}

	// Blank inputs never reach the provider.
	pending := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out.Fail(i, fmt.Errorf("%w: empty text", domain.ErrInvalidRequest))
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += batchSize {
		chunk := pending[start:min(start+batchSize, len(pending))]
		if err := g.embedChunk(ctx, texts, chunk, &out); err != nil {
			for _, idx := range pending[start:] {
				if out.Embeddings[idx] == nil && !out.HasFailed(idx) {
					out.Fail(idx, err)
				}
			}
			g.finishBatch(ctx, &out, len(texts))
			return out, err
		}
	}

	g.finishBatch(ctx, &out, len(texts))
	return out, nil
}

func (g *Generator) embedChunk(ctx context.Context, texts []string, idx []int, out *domain.BatchResult) error {
	inputs := make([]string, len(idx))
	for i, j := range idx {
		inputs[i] = texts[j]
	}

	if err := g.wait(ctx); err != nil {
		return err
	}
	res, err := g.batch(ctx, inputs)
	if err == nil {
		for i, j := range idx {
			out.Embeddings[j] = res.Embeddings[i]
		}
		out.Succeeded += len(idx)
		out.Cost = out.Cost.Add(domain.EmbeddingCostFor(res.TotalTokens, g.pricePer1K))
		return nil
	}
	if fatalBatchError(err) {
		return err
	}

	g.logger.Warn("Batch chunk failed, retrying items individually",
		zap.Int("chunk_size", len(idx)),
		zap.Error(err),
	)
	for _, j := range idx {
		if err := g.wait(ctx); err != nil {
			return err
		}
		r, err := g.embedder.Embed(ctx, texts[j])
		if err != nil {
			if fatalBatchError(err) {
				return err
			}
			g.logger.Warn("Skipping item that failed to embed", zap.Int("index", j), zap.Error(err))
			out.Fail(j, err)
			continue
		}
		out.Embeddings[j] = r.Embedding
		out.Succeeded++
		out.Cost = out.Cost.Add(domain.EmbeddingCostFor(r.TotalTokens, g.pricePer1K))
	}
	return nil
}

func (g *Generator) batch(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	var res domain.BatchEmbeddingResult
	var err error
	if be, ok := g.embedder.(domain.BatchEmbedder); ok {
		res, err = be.BatchEmbed(ctx, texts)
	} else {
		res, err = domain.BatchFallback(ctx, g.embedder, texts)
	}
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	if len(res.Embeddings) != len(texts) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("%w: got %d vectors for %d inputs",
			domain.ErrEmbeddingProviderError, len(res.Embeddings), len(texts))
	}
	return res, nil
}

func (g *Generator) wait(ctx context.Context) error {
	if g.limiter == nil {
		return ctx.Err()
	}
	return g.limiter.Wait(ctx)
}

func (g *Generator) finishBatch(ctx context.Context, out *domain.BatchResult, total int) {
	metrics.EmbeddingBatchItemsTotal.WithLabelValues("ok").Add(float64(out.Succeeded))
	metrics.EmbeddingBatchItemsTotal.WithLabelValues("failed").Add(float64(out.Failed))
	g.record(ctx, out.Cost)
	g.logger.Info("Batch embedding finished",
		zap.Int("total", total),
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed),
		zap.Int("tokens", out.Cost.TokensUsed),
		zap.Float64("cost_usd", out.Cost.CostUSD),
	)
}

func (g *Generator) charge(ctx context.Context, tokens int) domain.EmbeddingCost {
	cost := domain.EmbeddingCostFor(tokens, g.pricePer1K)
	g.record(ctx, cost)
	return cost
}

func (g *Generator) record(ctx context.Context, cost domain.EmbeddingCost) {
	domain.UsageFromContext(ctx).AddCost(cost)
	if cost.CostUSD <= 0 {
		return
	}
	metrics.EmbeddingCostUSDTotal.WithLabelValues(g.model).Add(cost.CostUSD)
	if g.costs != nil {
		g.costs.RecordEmbedding(cost.CostUSD)
	}
}

func fatalBatchError(err error) bool {
	return errors.Is(err, domain.ErrEmbeddingQuotaExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
