package domain

import (
	"context"
	"fmt"
	"strings"
)

// Recommendation is a single generated gift idea. Never persisted by this service.
type Recommendation struct {
	ProductName    string   `json:"product_name"`
	Description    string   `json:"description"`
	Price          float64  `json:"price"`
	Category       string   `json:"category"`
	Tags           []string `json:"tags"`
	MatchReason    string   `json:"match_reason"`
	RelevanceScore float64  `json:"relevance_score"`
}

// RecommendationRequest describes the recipient and constraints.
type RecommendationRequest struct {
	Occasion      string   `json:"occasion"`
	Relationship  string   `json:"relationship"`
	AgeRange      string   `json:"age_range"`
	Gender        string   `json:"gender,omitempty"`
	BudgetMin     float64  `json:"budget_min"`
	BudgetMax     float64  `json:"budget_max"`
	Interests     []string `json:"interests"`
	RecipientName string   `json:"recipient_name,omitempty"`
}

// Validate checks required fields and budget bounds.
func (r RecommendationRequest) Validate() error {
	if strings.TrimSpace(r.Occasion) == "" {
		return fmt.Errorf("%w: occasion is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Relationship) == "" {
		return fmt.Errorf("%w: relationship is required", ErrInvalidRequest)
	}
	if r.BudgetMin < 0 || r.BudgetMax < r.BudgetMin {
		return fmt.Errorf("%w: budget must satisfy 0 <= min <= max", ErrInvalidRequest)
	}
	return nil
}

// RecommendationResponse is the outcome of one generation.
type RecommendationResponse struct {
	Recommendations []Recommendation `json:"recommendations"`
	ModelUsed       string           `json:"model_used"`
	FallbackUsed    bool             `json:"fallback_used"`
	CostUSD         float64          `json:"cost_usd"`
	LatencyMs       int64            `json:"latency_ms"`
	TotalResults    int              `json:"total_results"`
}

// CompletionRequest is one call to a generative model.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

// Completion is the raw model output with usage.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Completer is the generative model provider contract.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}
