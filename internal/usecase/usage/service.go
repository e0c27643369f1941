package usage

import (
	"context"
	"time"

	domusage "github.com/kailas-cloud/giftsearch/internal/domain/usage"
)

// Service handles usage reporting.
type Service struct {
	br  BudgetReader
	sr  SpendReader
	now func() time.Time
}

// New creates a Service. br and sr can be nil (unlimited mode, no cost tracking).
func New(br BudgetReader, sr SpendReader) *Service {
	return &Service{br: br, sr: sr, now: time.Now}
}

// GetReport builds a usage report for the given period.
func (s *Service) GetReport(_ context.Context, period domusage.Period) domusage.Report {
	now := s.now().UTC()
	var start, end int64
	var limit, used, remaining int64

	switch period {
	case domusage.PeriodDay:
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		start = dayStart.UnixMilli()
		end = dayStart.Add(24 * time.Hour).UnixMilli()
		if s.br != nil {
			limit = s.br.DailyLimit()
			used = s.br.DailyUsed()
			remaining = s.br.RemainingDaily()
		}
	case domusage.PeriodMonth:
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		start = monthStart.UnixMilli()
		end = monthStart.AddDate(0, 1, 0).UnixMilli()
		if s.br != nil {
			limit = s.br.MonthlyLimit()
			used = s.br.MonthlyUsed()
			remaining = s.br.RemainingMonthly()
		}
	default:
		// total: no period boundaries
		if s.br != nil {
			limit = s.br.MonthlyLimit()
			used = s.br.MonthlyUsed()
			remaining = s.br.RemainingMonthly()
		}
	}

	b := domusage.Budget{
		TokensLimit:     limit,
		TokensUsed:      used,
		TokensRemaining: remaining,
		IsExhausted:     limit > 0 && remaining <= 0,
		ResetsAt:        end,
	}

	var spend domusage.Spend
	if s.sr != nil {
		spend = s.sr.Spend()
	}

	return domusage.NewReport(period, start, end, b, spend)
}
