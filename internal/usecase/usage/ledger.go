package usage

import (
	"sync/atomic"

	domusage "github.com/kailas-cloud/giftsearch/internal/domain/usage"
)

// Totals is an alias kept at the use-case boundary.
type Totals = domusage.Spend

// microUSD keeps sub-cent precision in an integer counter.
const microUSD = 1_000_000

// Ledger accumulates provider cost in-process. Safe for concurrent use.
type Ledger struct {
	embeddingRequests  atomic.Int64
	embeddingMicros    atomic.Int64
	generationRequests atomic.Int64
	generationMicros   atomic.Int64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger { return &Ledger{} }

// RecordEmbedding adds the cost of one embedding call.
func (l *Ledger) RecordEmbedding(costUSD float64) {
	l.embeddingRequests.Add(1)
	l.embeddingMicros.Add(toMicros(costUSD))
}

// RecordGeneration adds the cost of one completion.
func (l *Ledger) RecordGeneration(costUSD float64) {
	l.generationRequests.Add(1)
	l.generationMicros.Add(toMicros(costUSD))
}

// Spend returns a snapshot.
func (l *Ledger) Spend() Totals {
	return Totals{
		EmbeddingRequests:  l.embeddingRequests.Load(),
		EmbeddingUSD:       float64(l.embeddingMicros.Load()) / microUSD,
		GenerationRequests: l.generationRequests.Load(),
		GenerationUSD:      float64(l.generationMicros.Load()) / microUSD,
	}
}

func toMicros(usd float64) int64 {
	return int64(usd*microUSD + 0.5)
}
