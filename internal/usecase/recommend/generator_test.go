package recommend

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

const validReply = `{"recommendations":[
	{"product_name":"Chess Set","description":"wooden chess set","price":45,"category":"Games","tags":["strategy"]},
	{"product_name":"Cookbook","description":"italian cooking","price":35,"category":"Books"}
]}`

// fakeCompleter answers per model from a script keyed by model name and
// zero-based call index.
type fakeCompleter struct {
	mu    sync.Mutex
	calls map[string]int
	reply func(model string, call int) (domain.Completion, error)
}

func newFakeCompleter(reply func(model string, call int) (domain.Completion, error)) *fakeCompleter {
	return &fakeCompleter{calls: map[string]int{}, reply: reply}
}

func (f *fakeCompleter) Complete(_ context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	f.mu.Lock()
	n := f.calls[req.Model]
	f.calls[req.Model]++
	f.mu.Unlock()
	return f.reply(req.Model, n)
}

func (f *fakeCompleter) count(model string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[model]
}

type costSink struct {
	mu    sync.Mutex
	total float64
	n     int
}

func (c *costSink) RecordGeneration(usd float64) {
	c.mu.Lock()
	c.total += usd
	c.n++
	c.mu.Unlock()
}

func ok(text string) (domain.Completion, error) {
	return domain.Completion{Text: text, PromptTokens: 1000, CompletionTokens: 1000}, nil
}

func providerErr(model string, status int) error {
	return &domain.ProviderError{Provider: "openai", Model: model, StatusCode: status, Err: errors.New("boom")}
}

func testConfig() Config {
	return Config{
		PrimaryModel:   "gpt-4o-mini",
		FallbackModel:  "gpt-3.5-turbo",
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func validRequest() domain.RecommendationRequest {
	return domain.RecommendationRequest{
		Occasion:     "birthday",
		Relationship: "friend",
		AgeRange:     "25-34",
		BudgetMin:    20,
		BudgetMax:    60,
		Interests:    []string{"cooking"},
	}
}

func TestGenerate_PrimarySucceeds(t *testing.T) {
	fc := newFakeCompleter(func(string, int) (domain.Completion, error) { return ok(validReply) })
	costs := &costSink{}
	g := New(fc, testConfig(), costs, zap.NewNop())

	resp, err := g.Generate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ModelUsed != "gpt-4o-mini" || resp.FallbackUsed {
		t.Errorf("ModelUsed = %q, FallbackUsed = %v", resp.ModelUsed, resp.FallbackUsed)
	}
	if resp.TotalResults != 2 || len(resp.Recommendations) != 2 {
		t.Fatalf("TotalResults = %d", resp.TotalResults)
	}
	if resp.Recommendations[0].ProductName != "Cookbook" {
		t.Errorf("expected interest match first, got %q", resp.Recommendations[0].ProductName)
	}
	wantCost := 0.00015 + 0.0006
	if math.Abs(resp.CostUSD-wantCost) > 1e-12 {
		t.Errorf("CostUSD = %v, want %v", resp.CostUSD, wantCost)
	}
	if costs.n != 1 || math.Abs(costs.total-wantCost) > 1e-12 {
		t.Errorf("ledger recorded %d calls, %v USD", costs.n, costs.total)
	}
}

func TestGenerate_RetriesTransientErrors(t *testing.T) {
	fc := newFakeCompleter(func(model string, call int) (domain.Completion, error) {
		if call < 2 {
			return domain.Completion{}, providerErr(model, 429)
		}
		return ok(validReply)
	})
	g := New(fc, testConfig(), nil, zap.NewNop())

	resp, err := g.Generate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FallbackUsed {
		t.Error("expected primary to recover without fallback")
	}
	if got := fc.count("gpt-4o-mini"); got != 3 {
		t.Errorf("primary calls = %d, want 3", got)
	}
}

func TestGenerate_Fallback(t *testing.T) {
	tests := []struct {
		name         string
		primary      func(model string) (domain.Completion, error)
		primaryCalls int
	}{
		{
			name:         "server errors exhaust retries",
			primary:      func(m string) (domain.Completion, error) { return domain.Completion{}, providerErr(m, 503) },
			primaryCalls: 3,
		},
		{
			name:         "client error is not retried",
			primary:      func(m string) (domain.Completion, error) { return domain.Completion{}, providerErr(m, 400) },
			primaryCalls: 1,
		},
		{
			name:         "unparseable reply",
			primary:      func(string) (domain.Completion, error) { return ok("sorry, no ideas") },
			primaryCalls: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fc := newFakeCompleter(func(model string, _ int) (domain.Completion, error) {
				if model == "gpt-4o-mini" {
					return tc.primary(model)
				}
				return ok(validReply)
			})
			g := New(fc, testConfig(), nil, zap.NewNop())

			resp, err := g.Generate(context.Background(), validRequest())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !resp.FallbackUsed || resp.ModelUsed != "gpt-3.5-turbo" {
				t.Errorf("ModelUsed = %q, FallbackUsed = %v", resp.ModelUsed, resp.FallbackUsed)
			}
			if got := fc.count("gpt-4o-mini"); got != tc.primaryCalls {
				t.Errorf("primary calls = %d, want %d", got, tc.primaryCalls)
			}
			if got := fc.count("gpt-3.5-turbo"); got != 1 {
				t.Errorf("fallback calls = %d, want 1", got)
			}
		})
	}
}

func TestGenerate_ParseFailureStillCharged(t *testing.T) {
	fc := newFakeCompleter(func(model string, _ int) (domain.Completion, error) {
		if model == "gpt-4o-mini" {
			return ok("no json here")
		}
		return ok(validReply)
	})
	costs := &costSink{}
	g := New(fc, testConfig(), costs, zap.NewNop())

	resp, err := g.Generate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := domain.ChatCost("gpt-4o-mini", 1000, 1000) + domain.ChatCost("gpt-3.5-turbo", 1000, 1000)
	if math.Abs(resp.CostUSD-want) > 1e-12 {
		t.Errorf("CostUSD = %v, want %v", resp.CostUSD, want)
	}
	if costs.n != 2 {
		t.Errorf("ledger recorded %d calls, want 2", costs.n)
	}
}

func TestGenerate_AllModelsFail(t *testing.T) {
	fc := newFakeCompleter(func(model string, _ int) (domain.Completion, error) {
		return domain.Completion{}, providerErr(model, 500)
	})
	g := New(fc, testConfig(), nil, zap.NewNop())

	_, err := g.Generate(context.Background(), validRequest())
	if !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if fc.count("gpt-3.5-turbo") != 3 {
		t.Errorf("fallback calls = %d, want 3", fc.count("gpt-3.5-turbo"))
	}
}

func TestGenerate_NoFallbackConfigured(t *testing.T) {
	fc := newFakeCompleter(func(model string, _ int) (domain.Completion, error) {
		return domain.Completion{}, providerErr(model, 400)
	})
	cfg := testConfig()
	cfg.FallbackModel = ""
	g := New(fc, cfg, nil, zap.NewNop())

	_, err := g.Generate(context.Background(), validRequest())
	if !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if len(g.Models()) != 1 {
		t.Errorf("Models = %v", g.Models())
	}
}

func TestGenerate_BreakerOpensOnPrimary(t *testing.T) {
	fc := newFakeCompleter(func(model string, _ int) (domain.Completion, error) {
		if model == "gpt-4o-mini" {
			return domain.Completion{}, providerErr(model, 500)
		}
		return ok(validReply)
	})
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.Breaker = BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Hour}
	g := New(fc, cfg, nil, zap.NewNop())

	for range 3 {
		resp, err := g.Generate(context.Background(), validRequest())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !resp.FallbackUsed {
			t.Fatal("expected fallback")
		}
	}

	if got := fc.count("gpt-4o-mini"); got != 2 {
		t.Errorf("primary calls = %d, want 2 (breaker open on third request)", got)
	}
	if got := g.BreakerStates()["gpt-4o-mini"]; got != "open" {
		t.Errorf("primary breaker state = %q, want open", got)
	}
	if got := g.BreakerStates()["gpt-3.5-turbo"]; got != "closed" {
		t.Errorf("fallback breaker state = %q, want closed", got)
	}
}

func TestGenerate_RateLimited(t *testing.T) {
	fc := newFakeCompleter(func(string, int) (domain.Completion, error) { return ok(validReply) })
	cfg := testConfig()
	cfg.RateLimitPerMinute = 2
	clock := newClock()
	g := New(fc, cfg, nil, zap.NewNop()).WithClock(clock.Now)

	for range 2 {
		if _, err := g.Generate(context.Background(), validRequest()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	_, err := g.Generate(context.Background(), validRequest())
	var rl *domain.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if fc.count("gpt-4o-mini") != 2 {
		t.Errorf("rejected request reached the provider")
	}

	clock.Advance(time.Minute)
	if _, err := g.Generate(context.Background(), validRequest()); err != nil {
		t.Fatalf("new window: unexpected error: %v", err)
	}
}

func TestGenerate_InvalidRequest(t *testing.T) {
	fc := newFakeCompleter(func(string, int) (domain.Completion, error) { return ok(validReply) })
	g := New(fc, testConfig(), nil, zap.NewNop())

	tests := []struct {
		name string
		mut  func(*domain.RecommendationRequest)
	}{
		{"missing occasion", func(r *domain.RecommendationRequest) { r.Occasion = "" }},
		{"missing relationship", func(r *domain.RecommendationRequest) { r.Relationship = " " }},
		{"inverted budget", func(r *domain.RecommendationRequest) { r.BudgetMin, r.BudgetMax = 50, 10 }},
		{"negative budget", func(r *domain.RecommendationRequest) { r.BudgetMin = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mut(&req)
			if _, err := g.Generate(context.Background(), req); !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
	if fc.count("gpt-4o-mini") != 0 {
		t.Error("invalid requests reached the provider")
	}
}

func TestGenerate_TimeoutIsRetryable(t *testing.T) {
	fc := newFakeCompleter(func(model string, call int) (domain.Completion, error) {
		if call == 0 {
			return domain.Completion{}, context.DeadlineExceeded
		}
		return ok(validReply)
	})
	g := New(fc, testConfig(), nil, zap.NewNop())

	resp, err := g.Generate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FallbackUsed || fc.count("gpt-4o-mini") != 2 {
		t.Errorf("expected primary retry, calls = %d", fc.count("gpt-4o-mini"))
	}
}

func TestGenerate_CancelledContext(t *testing.T) {
	fc := newFakeCompleter(func(string, int) (domain.Completion, error) { return ok(validReply) })
	g := New(fc, testConfig(), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Generate(ctx, validRequest()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
