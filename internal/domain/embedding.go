package domain

import (
	"context"
	"fmt"
	"strings"
)

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single API call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
	Cached       bool
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// EmbeddingCost is derived per call from the static price table, never stored.
type EmbeddingCost struct {
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
}

// Add returns the sum of two costs.
func (c EmbeddingCost) Add(o EmbeddingCost) EmbeddingCost {
	return EmbeddingCost{TokensUsed: c.TokensUsed + o.TokensUsed, CostUSD: c.CostUSD + o.CostUSD}
}

// ItemError describes one input a batch embedding had to skip.
type ItemError struct {
	Index int
	Err   error
}

func (e ItemError) Error() string { return fmt.Sprintf("item %d: %v", e.Index, e.Err) }

func (e ItemError) Unwrap() error { return e.Err }

// BatchResult is the outcome of a fault-tolerant batch embedding. Embeddings
// is index-aligned with the input; skipped items are nil.
type BatchResult struct {
	Embeddings [][]float32
	Cost       EmbeddingCost
	Succeeded  int
	Failed     int
	Errors     []ItemError
}

// Fail records a skipped input.
func (r *BatchResult) Fail(idx int, err error) {
	r.Failed++
	r.Errors = append(r.Errors, ItemError{Index: idx, Err: err})
}

// HasFailed reports whether input idx was already recorded as skipped.
func (r *BatchResult) HasFailed(idx int) bool {
	for _, e := range r.Errors {
		if e.Index == idx {
			return true
		}
	}
	return false
}

// ProductText is the source text an embedding is derived from for a product.
type ProductText struct {
	Title       string
	Description string
	Category    string
	Tags        []string
}

// Document renders the product as a single embedding input.
func (p ProductText) Document() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Title))
	if d := strings.TrimSpace(p.Description); d != "" {
		b.WriteString(". ")
		b.WriteString(d)
	}
	if c := strings.TrimSpace(p.Category); c != "" {
		b.WriteString(". Category: ")
		b.WriteString(c)
	}
	if len(p.Tags) > 0 {
		b.WriteString(". Tags: ")
		b.WriteString(strings.Join(p.Tags, ", "))
	}
	return b.String()
}

// NormalizeText lowercases, trims and collapses whitespace. Used for cache keys only.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// BatchFallback calls Embed once per text. Safety net for providers without native batching.
func BatchFallback(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	embeddings := make([][]float32, len(texts))
	var totalPrompt, totalTokens int

	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("fallback embed [%d]: %w", i, err)
		}
		embeddings[i] = res.Embedding
		totalPrompt += res.PromptTokens
		totalTokens += res.TotalTokens
	}

	return BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: totalPrompt,
		TotalTokens:  totalTokens,
	}, nil
}
