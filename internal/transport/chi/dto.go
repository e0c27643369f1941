package chi

import (
	"time"

	"github.com/kailas-cloud/giftsearch/internal/domain"
	domusage "github.com/kailas-cloud/giftsearch/internal/domain/usage"
)

type searchRequest struct {
	Query          string   `json:"query" validate:"required,max=1000"`
	MatchCount     int      `json:"match_count" validate:"omitempty,min=1,max=100"`
	MatchThreshold *float64 `json:"match_threshold" validate:"omitempty,min=0,max=1"`
	Category       string   `json:"category" validate:"omitempty,max=100"`
	MinPrice       *float64 `json:"min_price" validate:"omitempty,min=0"`
	MaxPrice       *float64 `json:"max_price" validate:"omitempty,min=0"`
}

func (r searchRequest) options(threshold float64) domain.SimilarityOptions {
	if r.MatchThreshold != nil {
		threshold = *r.MatchThreshold
	}
	return domain.SimilarityOptions{
		MatchCount:     r.MatchCount,
		MatchThreshold: threshold,
		Category:       r.Category,
		MinPrice:       r.MinPrice,
		MaxPrice:       r.MaxPrice,
	}
}

type hybridRequest struct {
	Query          string   `json:"query" validate:"required,max=1000"`
	KeywordWeight  *float64 `json:"keyword_weight" validate:"omitempty,min=0"`
	SemanticWeight *float64 `json:"semantic_weight" validate:"omitempty,min=0"`
	MatchCount     int      `json:"match_count" validate:"omitempty,min=1,max=100"`
	Fusion         string   `json:"fusion" validate:"omitempty,oneof=weighted rrf"`
	Category       string   `json:"category" validate:"omitempty,max=100"`
	MinPrice       *float64 `json:"min_price" validate:"omitempty,min=0"`
	MaxPrice       *float64 `json:"max_price" validate:"omitempty,min=0"`
}

func (r hybridRequest) options() domain.HybridOptions {
	o := domain.HybridOptions{
		MatchCount: r.MatchCount,
		Fusion:     domain.FusionMode(r.Fusion),
		Category:   r.Category,
		MinPrice:   r.MinPrice,
		MaxPrice:   r.MaxPrice,
	}
	if r.KeywordWeight != nil {
		o.KeywordWeight = *r.KeywordWeight
	}
	if r.SemanticWeight != nil {
		o.SemanticWeight = *r.SemanticWeight
	}
	return o
}

type searchResponse struct {
	Results []domain.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

type recommendRequest struct {
	Occasion      string   `json:"occasion" validate:"required,max=100"`
	Relationship  string   `json:"relationship" validate:"required,max=100"`
	AgeRange      string   `json:"age_range" validate:"omitempty,max=50"`
	Gender        string   `json:"gender" validate:"omitempty,max=50"`
	BudgetMin     float64  `json:"budget_min" validate:"min=0"`
	BudgetMax     float64  `json:"budget_max" validate:"gtefield=BudgetMin"`
	Interests     []string `json:"interests" validate:"max=20,dive,max=100"`
	RecipientName string   `json:"recipient_name" validate:"omitempty,max=100"`
}

func (r recommendRequest) toDomain() domain.RecommendationRequest {
	return domain.RecommendationRequest{
		Occasion:      r.Occasion,
		Relationship:  r.Relationship,
		AgeRange:      r.AgeRange,
		Gender:        r.Gender,
		BudgetMin:     r.BudgetMin,
		BudgetMax:     r.BudgetMax,
		Interests:     r.Interests,
		RecipientName: r.RecipientName,
	}
}

type reindexRequest struct {
	Limit int `json:"limit" validate:"omitempty,min=1,max=10000"`
}

type invalidateResponse struct {
	Invalidated int64 `json:"invalidated"`
}

type usageResponse struct {
	Period        domusage.Period `json:"period"`
	PeriodStartAt *time.Time      `json:"period_start_at,omitempty"`
	PeriodEndAt   *time.Time      `json:"period_end_at,omitempty"`
	Budget        budgetStatus    `json:"budget"`
	Spend         spendSummary    `json:"spend"`
}

type budgetStatus struct {
	TokensLimit     int64      `json:"tokens_limit"`
	TokensUsed      int64      `json:"tokens_used"`
	TokensRemaining int64      `json:"tokens_remaining"`
	IsExhausted     bool       `json:"is_exhausted"`
	ResetsAt        *time.Time `json:"resets_at,omitempty"`
}

type spendSummary struct {
	EmbeddingRequests  int64   `json:"embedding_requests"`
	EmbeddingUSD       float64 `json:"embedding_cost_usd"`
	GenerationRequests int64   `json:"generation_requests"`
	GenerationUSD      float64 `json:"generation_cost_usd"`
	TotalUSD           float64 `json:"total_cost_usd"`
}

func usageToResponse(report domusage.Report) usageResponse {
	b, sp := report.Budget(), report.Spend()
	resp := usageResponse{
		Period: report.Period(),
		Budget: budgetStatus{
			TokensLimit:     b.TokensLimit,
			TokensUsed:      b.TokensUsed,
			TokensRemaining: b.TokensRemaining,
			IsExhausted:     b.IsExhausted,
		},
		Spend: spendSummary{
			EmbeddingRequests:  sp.EmbeddingRequests,
			EmbeddingUSD:       sp.EmbeddingUSD,
			GenerationRequests: sp.GenerationRequests,
			GenerationUSD:      sp.GenerationUSD,
			TotalUSD:           sp.TotalUSD(),
		},
	}
	if report.PeriodStart() > 0 {
		start := time.UnixMilli(report.PeriodStart()).UTC()
		end := time.UnixMilli(report.PeriodEnd()).UTC()
		resp.PeriodStartAt = &start
		resp.PeriodEndAt = &end
	}
	if b.ResetsAt > 0 {
		resetsAt := time.UnixMilli(b.ResetsAt).UTC()
		resp.Budget.ResetsAt = &resetsAt
	}
	return resp
}
