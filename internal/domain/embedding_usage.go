package domain

import (
	"context"
	"sync"
)

type embeddingUsageKey struct{}

// EmbeddingUsage collects token usage and cost for a single HTTP request.
// The handler puts a mutable pointer into the context before calling the service;
// the service writes after embedding; the handler reads it for response headers.
// Hybrid search writes from two goroutines, hence the mutex.
type EmbeddingUsage struct {
	mu          sync.Mutex
	TotalTokens int
	CostUSD     float64
	Used        bool // true if embedding was called, even on a cache hit with 0 tokens
}

// NewContextWithUsage returns a context with an embedded usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, embeddingUsageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(embeddingUsageKey{}).(*EmbeddingUsage)
	return u
}

// AddCost records consumed tokens and their price.
func (u *EmbeddingUsage) AddCost(c EmbeddingCost) {
	if u == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.TotalTokens += c.TokensUsed
	u.CostUSD += c.CostUSD
	u.Used = true
}

// Snapshot returns tokens and cost under the lock.
func (u *EmbeddingUsage) Snapshot() (tokens int, costUSD float64, used bool) {
	if u == nil {
		return 0, 0, false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.TotalTokens, u.CostUSD, u.Used
}
