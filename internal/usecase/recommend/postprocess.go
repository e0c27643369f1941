package recommend

import (
	"math"
	"sort"
	"strings"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

const (
	baseScore     = 50.0
	interestBonus = 10.0
	priceFitMax   = 20.0
	qualityBonus  = 10.0
	maxScore      = 100.0
)

var qualityKeywords = []string{
	"premium", "handmade", "handcrafted", "artisan", "luxury",
	"personalized", "custom", "high-quality", "durable", "organic",
}

// postProcess filters by budget, caps repeats per category, scores,
// sorts and truncates. The input slice is not modified.
func postProcess(recs []domain.Recommendation, req domain.RecommendationRequest, divCap, maxResults int) []domain.Recommendation {
	out := withinBudget(recs, req.BudgetMin, req.BudgetMax)
	out = capPerCategory(out, divCap)
	for i := range out {
		out[i].RelevanceScore = relevance(out[i], req)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelevanceScore > out[j].RelevanceScore
	})
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

// withinBudget keeps items priced in [lo, hi]. hi == 0 disables the filter.
func withinBudget(recs []domain.Recommendation, lo, hi float64) []domain.Recommendation {
	out := make([]domain.Recommendation, 0, len(recs))
	for _, r := range recs {
		if hi > 0 && (r.Price < lo || r.Price > hi) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// capPerCategory keeps the first k items of each category, compared
// case-insensitively. k <= 0 disables the cap.
func capPerCategory(recs []domain.Recommendation, k int) []domain.Recommendation {
	if k <= 0 {
		return recs
	}
	seen := make(map[string]int)
	out := recs[:0]
	for _, r := range recs {
		key := strings.ToLower(strings.TrimSpace(r.Category))
		if seen[key] >= k {
			continue
		}
		seen[key]++
		out = append(out, r)
	}
	return out
}

func relevance(r domain.Recommendation, req domain.RecommendationRequest) float64 {
	score := baseScore

	haystack := strings.ToLower(r.Description + " " + r.Category + " " + strings.Join(r.Tags, " "))
	for _, interest := range req.Interests {
		in := strings.ToLower(strings.TrimSpace(interest))
		if in != "" && strings.Contains(haystack, in) {
			score += interestBonus
		}
	}

	score += priceFit(r.Price, req.BudgetMin, req.BudgetMax)

	desc := strings.ToLower(r.Description)
	for _, kw := range qualityKeywords {
		if strings.Contains(desc, kw) {
			score += qualityBonus
			break
		}
	}

	return math.Max(0, math.Min(maxScore, score))
}

// priceFit awards up to priceFitMax the closer price is to the budget midpoint.
func priceFit(price, lo, hi float64) float64 {
	if hi <= 0 {
		return 0
	}
	mid := (lo + hi) / 2
	half := (hi - lo) / 2
	if half == 0 {
		if price == mid {
			return priceFitMax
		}
		return 0
	}
	return math.Max(0, priceFitMax*(1-math.Abs(price-mid)/half))
}
