package recommend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/giftsearch/internal/domain"
	"github.com/kailas-cloud/giftsearch/internal/metrics"
	"github.com/kailas-cloud/giftsearch/internal/retry"
)

// Generation defaults applied by New for zero config values.
const (
	DefaultRateLimitPerMinute = 60
	DefaultDiversityCap       = 3
	DefaultMaxResults         = 10
	DefaultMaxRetries         = 3
	DefaultTimeout            = 30 * time.Second
	DefaultRetryBaseDelay     = time.Second
	DefaultRetryMaxDelay      = 10 * time.Second
)

// CostRecorder accumulates generation spend across requests.
type CostRecorder interface {
	RecordGeneration(usd float64)
}

// Config configures a Generator.
type Config struct {
	PrimaryModel  string
	FallbackModel string
	Temperature   float32
	MaxTokens     int
	// Timeout bounds a single provider call.
	Timeout time.Duration
	// MaxRetries is the total number of calls per model.
	MaxRetries         int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	RateLimitPerMinute int
	DiversityCap       int
	MaxResults         int
	Breaker            BreakerConfig
}

func (c Config) withDefaults() Config {
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if c.DiversityCap <= 0 {
		c.DiversityCap = DefaultDiversityCap
	}
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	return c
}

// Generator turns a recipient description into ranked gift ideas using a
// primary model with one fallback.
type Generator struct {
	completer domain.Completer
	cfg       Config
	limiter   *FixedWindow
	breakers  *breakers
	costs     CostRecorder
	now       func() time.Time
	logger    *zap.Logger
}

// New creates a Generator. costs can be nil.
func New(completer domain.Completer, cfg Config, costs CostRecorder, logger *zap.Logger) *Generator {
	cfg = cfg.withDefaults()
	return &Generator{
		completer: completer,
		cfg:       cfg,
		limiter:   NewFixedWindow(cfg.RateLimitPerMinute, DefaultWindow, time.Now),
		breakers:  newBreakers(cfg.Breaker, logger),
		costs:     costs,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces the clock used for rate limiting and latency.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	g.limiter = NewFixedWindow(g.cfg.RateLimitPerMinute, DefaultWindow, now)
	return g
}

// Models returns the fallback chain in call order.
func (g *Generator) Models() []string {
	models := []string{g.cfg.PrimaryModel}
	if g.cfg.FallbackModel != "" && g.cfg.FallbackModel != g.cfg.PrimaryModel {
		models = append(models, g.cfg.FallbackModel)
	}
	return models
}

// BreakerStates reports the circuit state of every model in the chain.
func (g *Generator) BreakerStates() map[string]string {
	out := make(map[string]string, 2)
	for _, m := range g.Models() {
		out[m] = g.breakers.state(m).String()
	}
	return out
}

// Generate produces recommendations for req.
func (g *Generator) Generate(ctx context.Context, req domain.RecommendationRequest) (domain.RecommendationResponse, error) {
	if err := req.Validate(); err != nil {
		return domain.RecommendationResponse{}, err
	}
	if err := g.limiter.Allow(); err != nil {
		metrics.GenerationRateLimitedTotal.Inc()
		return domain.RecommendationResponse{}, err
	}

	start := g.now()
	prompt := buildUserPrompt(req, g.cfg.MaxResults+g.cfg.MaxResults/2)

	var (
		spent   float64
		lastErr error
	)
	for i, model := range g.Models() {
		recs, cost, err := g.callModel(ctx, model, prompt)
		spent += cost
		if err != nil {
			lastErr = err
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.RecommendationResponse{}, ctxErr
			}
			g.logger.Warn("generation model failed",
				zap.String("model", model),
				zap.Int("position", i),
				zap.Error(err),
			)
			continue
		}

		fallback := i > 0
		if fallback {
			metrics.GenerationFallbacksTotal.Inc()
		}
		out := postProcess(recs, req, g.cfg.DiversityCap, g.cfg.MaxResults)
		latency := g.now().Sub(start)
		metrics.GenerationDuration.WithLabelValues(model).Observe(latency.Seconds())

		g.logger.Info("recommendations generated",
			zap.String("model", model),
			zap.Bool("fallback", fallback),
			zap.Int("parsed", len(recs)),
			zap.Int("returned", len(out)),
			zap.Float64("cost_usd", spent),
			zap.Duration("latency", latency),
		)
		return domain.RecommendationResponse{
			Recommendations: out,
			ModelUsed:       model,
			FallbackUsed:    fallback,
			CostUSD:         spent,
			LatencyMs:       latency.Milliseconds(),
			TotalResults:    len(out),
		}, nil
	}

	return domain.RecommendationResponse{}, fmt.Errorf("%w: %w", domain.ErrGenerationFailed, lastErr)
}

// callModel runs one model through its breaker and the retry policy, then
// parses the reply. cost is non-zero whenever the provider answered.
func (g *Generator) callModel(ctx context.Context, model, prompt string) ([]domain.Recommendation, float64, error) {
	cb := g.breakers.get(model)
	req := domain.CompletionRequest{
		Model:        model,
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		Temperature:  g.cfg.Temperature,
		MaxTokens:    g.cfg.MaxTokens,
	}
	policy := retry.Policy{
		MaxAttempts: g.cfg.MaxRetries,
		Backoff:     retry.Exponential(g.cfg.RetryBaseDelay, g.cfg.RetryMaxDelay),
		Retryable:   domain.IsRetryableProviderError,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			g.logger.Debug("retrying model call",
				zap.String("model", model),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}

	comp, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (domain.Completion, error) {
		return cb.Execute(func() (domain.Completion, error) {
			callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
			defer cancel()
			c, err := g.completer.Complete(callCtx, req)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return c, &domain.ProviderError{Model: model, Timeout: true, Err: err}
			}
			return c, err
		})
	})
	if err != nil {
		status := "error"
		if isBreakerRejection(err) {
			status = "breaker_open"
		}
		metrics.GenerationRequestsTotal.WithLabelValues(model, status).Inc()
		return nil, 0, err
	}

	cost := domain.ChatCost(model, comp.PromptTokens, comp.CompletionTokens)
	metrics.GenerationCostUSDTotal.WithLabelValues(model).Add(cost)
	if g.costs != nil {
		g.costs.RecordGeneration(cost)
	}

	recs, err := parseRecommendations(comp.Text)
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(model, "parse_error").Inc()
		return nil, cost, err
	}
	metrics.GenerationRequestsTotal.WithLabelValues(model, "ok").Inc()
	return recs, cost, nil
}
