package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	domusage "github.com/kailas-cloud/giftsearch/internal/domain/usage"
)

// --- Mock ---

type mockBudgetReader struct {
	dailyLimit       int64
	monthlyLimit     int64
	dailyUsed        int64
	monthlyUsed      int64
	remainingDaily   int64
	remainingMonthly int64
}

func (m *mockBudgetReader) DailyLimit() int64       { return m.dailyLimit }
func (m *mockBudgetReader) MonthlyLimit() int64     { return m.monthlyLimit }
func (m *mockBudgetReader) DailyUsed() int64        { return m.dailyUsed }
func (m *mockBudgetReader) MonthlyUsed() int64      { return m.monthlyUsed }
func (m *mockBudgetReader) RemainingDaily() int64   { return m.remainingDaily }
func (m *mockBudgetReader) RemainingMonthly() int64 { return m.remainingMonthly }

func fixedNow() time.Time { return time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC) }

// --- Tests ---

func TestGetReport_DailyPeriod(t *testing.T) {
	br := &mockBudgetReader{
		dailyLimit:     10000,
		dailyUsed:      3000,
		remainingDaily: 7000,
	}
	svc := New(br, nil)
	svc.now = fixedNow
	r := svc.GetReport(context.Background(), domusage.PeriodDay)

	dayStart := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if r.PeriodStart() != dayStart.UnixMilli() {
		t.Errorf("expected period start %d, got %d", dayStart.UnixMilli(), r.PeriodStart())
	}
	if r.PeriodEnd() != dayStart.Add(24*time.Hour).UnixMilli() {
		t.Errorf("unexpected period end %d", r.PeriodEnd())
	}
	b := r.Budget()
	if b.TokensLimit != 10000 || b.TokensRemaining != 7000 || b.TokensUsed != 3000 {
		t.Errorf("unexpected budget %+v", b)
	}
	if b.IsExhausted {
		t.Error("budget should not be exhausted")
	}
}

func TestGetReport_MonthlyPeriod(t *testing.T) {
	br := &mockBudgetReader{monthlyLimit: 100000, monthlyUsed: 80000, remainingMonthly: 20000}
	svc := New(br, nil)
	svc.now = fixedNow
	r := svc.GetReport(context.Background(), domusage.PeriodMonth)

	monthStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if r.PeriodStart() != monthStart.UnixMilli() {
		t.Errorf("expected period start %d, got %d", monthStart.UnixMilli(), r.PeriodStart())
	}
	if r.PeriodEnd() != monthStart.AddDate(0, 1, 0).UnixMilli() {
		t.Errorf("unexpected period end %d", r.PeriodEnd())
	}
}

func TestGetReport_TotalPeriod(t *testing.T) {
	br := &mockBudgetReader{monthlyLimit: 100000, monthlyUsed: 100000}
	svc := New(br, nil)
	r := svc.GetReport(context.Background(), domusage.PeriodTotal)

	if r.PeriodStart() != 0 || r.PeriodEnd() != 0 {
		t.Errorf("total period has no boundaries, got %d..%d", r.PeriodStart(), r.PeriodEnd())
	}
	if !r.Budget().IsExhausted {
		t.Error("budget should be exhausted when remaining is 0")
	}
}

func TestGetReport_NilReaders(t *testing.T) {
	svc := New(nil, nil)
	r := svc.GetReport(context.Background(), domusage.PeriodDay)

	if r.Budget().TokensLimit != 0 || r.Budget().IsExhausted {
		t.Errorf("unexpected budget %+v", r.Budget())
	}
	if r.Spend().TotalUSD() != 0 {
		t.Errorf("expected zero spend, got %g", r.Spend().TotalUSD())
	}
}

func TestGetReport_IncludesSpend(t *testing.T) {
	l := NewLedger()
	l.RecordEmbedding(0.00002)
	l.RecordGeneration(0.0015)

	svc := New(nil, l)
	r := svc.GetReport(context.Background(), domusage.PeriodTotal)
	s := r.Spend()

	if s.EmbeddingRequests != 1 || s.GenerationRequests != 1 {
		t.Errorf("unexpected request counts %+v", s)
	}
	if s.EmbeddingUSD != 0.00002 || s.GenerationUSD != 0.0015 {
		t.Errorf("unexpected cost %+v", s)
	}
}

func TestLedger_Concurrent(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RecordEmbedding(0.01)
		}()
	}
	wg.Wait()

	s := l.Spend()
	if s.EmbeddingRequests != 100 {
		t.Errorf("expected 100 requests, got %d", s.EmbeddingRequests)
	}
	if s.EmbeddingUSD < 0.999999 || s.EmbeddingUSD > 1.000001 {
		t.Errorf("expected ~1.0 USD, got %g", s.EmbeddingUSD)
	}
}
