package domain

import (
	"fmt"
	"strings"
	"time"
)

// KeyPrefix namespaces every key the service writes to the KV store.
const KeyPrefix = "giftsearch:"

const budgetPrefix = KeyPrefix + "budget:"

// BudgetPeriod is the reset window of an embedding token counter.
type BudgetPeriod string

// Budget periods.
const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
)

func (p BudgetPeriod) layout() string {
	if p == BudgetDaily {
		return "2006-01-02"
	}
	return "2006-01"
}

// BudgetDailyKey returns the token counter key for provider on t's UTC day.
func BudgetDailyKey(provider string, t time.Time) string {
	return budgetKey(provider, BudgetDaily, t)
}

// BudgetMonthlyKey returns the token counter key for provider in t's UTC month.
func BudgetMonthlyKey(provider string, t time.Time) string {
	return budgetKey(provider, BudgetMonthly, t)
}

func budgetKey(provider string, p BudgetPeriod, t time.Time) string {
	return budgetPrefix + provider + ":" + string(p) + ":" + t.UTC().Format(p.layout())
}

// ParseBudgetKey splits a key built by BudgetDailyKey or BudgetMonthlyKey.
func ParseBudgetKey(key string) (provider string, period BudgetPeriod, err error) {
	rest, ok := strings.CutPrefix(key, budgetPrefix)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a budget key", ErrInvalidRequest, key)
	}
	// Provider names may contain colons; period and stamp never do.
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", "", fmt.Errorf("%w: malformed budget key %q", ErrInvalidRequest, key)
	}
	j := strings.LastIndexByte(rest[:i], ':')
	if j <= 0 {
		return "", "", fmt.Errorf("%w: malformed budget key %q", ErrInvalidRequest, key)
	}
	provider, period = rest[:j], BudgetPeriod(rest[j+1:i])
	if period != BudgetDaily && period != BudgetMonthly {
		return "", "", fmt.Errorf("%w: unknown budget period %q", ErrInvalidRequest, period)
	}
	if _, err := time.Parse(period.layout(), rest[i+1:]); err != nil {
		return "", "", fmt.Errorf("%w: budget key %q: bad %s stamp", ErrInvalidRequest, key, period)
	}
	return provider, period, nil
}
