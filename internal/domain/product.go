package domain

import "fmt"

// SearchResult is a single product hit. Similarity is in [0,1]; Score is the
// ranking key (equal to Similarity for pure vector search, the fused score for hybrid).
type SearchResult struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Category    string  `json:"category,omitempty"`
	Similarity  float64 `json:"similarity"`
	Score       float64 `json:"score"`
}

// Product is the subset of a catalog row the engine reads when (re)embedding.
type Product struct {
	ID          string
	Title       string
	Description string
	Category    string
	Tags        []string
}

// Text returns the embedding source of the product.
func (p Product) Text() ProductText {
	return ProductText{Title: p.Title, Description: p.Description, Category: p.Category, Tags: p.Tags}
}

// Coverage is the share of catalog rows that carry an embedding.
type Coverage struct {
	Total    int64   `json:"total"`
	Embedded int64   `json:"embedded"`
	Ratio    float64 `json:"ratio"`
}

// NewCoverage computes the ratio, treating an empty catalog as fully covered.
func NewCoverage(total, embedded int64) Coverage {
	ratio := 1.0
	if total > 0 {
		ratio = float64(embedded) / float64(total)
	}
	return Coverage{Total: total, Embedded: embedded, Ratio: ratio}
}

// SimilarityOptions parameterize a pure vector search.
type SimilarityOptions struct {
	MatchCount     int      `json:"match_count"`
	MatchThreshold float64  `json:"match_threshold"`
	Category       string   `json:"category,omitempty"`
	MinPrice       *float64 `json:"min_price,omitempty"`
	MaxPrice       *float64 `json:"max_price,omitempty"`
}

// Validate checks option bounds.
func (o SimilarityOptions) Validate() error {
	if o.MatchCount <= 0 {
		return fmt.Errorf("%w: match_count must be positive", ErrInvalidRequest)
	}
	if o.MatchThreshold < 0 || o.MatchThreshold > 1 {
		return fmt.Errorf("%w: match_threshold must be within [0,1]", ErrInvalidRequest)
	}
	if o.MinPrice != nil && o.MaxPrice != nil && *o.MinPrice > *o.MaxPrice {
		return fmt.Errorf("%w: min_price exceeds max_price", ErrInvalidRequest)
	}
	return nil
}

// FusionMode selects how hybrid search combines its two rankings.
type FusionMode string

const (
	// FusionWeighted sums caller-weighted keyword and semantic scores.
	FusionWeighted FusionMode = "weighted"
	// FusionRRF uses reciprocal rank fusion.
	FusionRRF FusionMode = "rrf"
)

// HybridOptions parameterize a keyword+vector search.
type HybridOptions struct {
	KeywordWeight  float64    `json:"keyword_weight"`
	SemanticWeight float64    `json:"semantic_weight"`
	MatchCount     int        `json:"match_count"`
	Fusion         FusionMode `json:"fusion"`
	Category       string     `json:"category,omitempty"`
	MinPrice       *float64   `json:"min_price,omitempty"`
	MaxPrice       *float64   `json:"max_price,omitempty"`
}

// Validate checks option bounds.
func (o HybridOptions) Validate() error {
	if o.MatchCount <= 0 {
		return fmt.Errorf("%w: match_count must be positive", ErrInvalidRequest)
	}
	if o.KeywordWeight < 0 || o.SemanticWeight < 0 {
		return fmt.Errorf("%w: weights must be non-negative", ErrInvalidRequest)
	}
	switch o.Fusion {
	case FusionWeighted, FusionRRF:
	default:
		return fmt.Errorf("%w: unknown fusion mode %q", ErrInvalidRequest, o.Fusion)
	}
	return nil
}

// Filter is the category/price predicate shared by both search modes.
type Filter struct {
	Category string
	MinPrice *float64
	MaxPrice *float64
}
