package usage

// Period is the aggregation granularity.
type Period string

// Aggregation period constants.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
	PeriodTotal Period = "total"
)

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	switch p {
	case PeriodDay, PeriodMonth, PeriodTotal:
		return true
	}
	return false
}

// Budget is an embedding token budget snapshot. Limit 0 means unlimited.
type Budget struct {
	TokensLimit     int64
	TokensUsed      int64
	TokensRemaining int64
	IsExhausted     bool
	ResetsAt        int64 // unix millis, converted to ISO 8601 at transport layer
}

// Spend is the accumulated provider cost since process start.
type Spend struct {
	EmbeddingRequests  int64
	EmbeddingUSD       float64
	GenerationRequests int64
	GenerationUSD      float64
}

// TotalUSD returns the combined cost.
func (s Spend) TotalUSD() float64 { return s.EmbeddingUSD + s.GenerationUSD }

// Report is a provider usage report for a time period.
type Report struct {
	period      Period
	periodStart int64
	periodEnd   int64
	budget      Budget
	spend       Spend
}

// NewReport creates a usage report.
func NewReport(period Period, start, end int64, b Budget, s Spend) Report {
	return Report{
		period:      period,
		periodStart: start,
		periodEnd:   end,
		budget:      b,
		spend:       s,
	}
}

// Period returns the aggregation granularity.
func (r *Report) Period() Period { return r.period }

// PeriodStart returns the period start timestamp (unix millis).
func (r *Report) PeriodStart() int64 { return r.periodStart }

// PeriodEnd returns the period end timestamp (unix millis).
func (r *Report) PeriodEnd() int64 { return r.periodEnd }

// Budget returns the token budget status.
func (r *Report) Budget() Budget { return r.budget }

// Spend returns accumulated cost.
func (r *Report) Spend() Spend { return r.spend }
