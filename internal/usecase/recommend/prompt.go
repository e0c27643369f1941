package recommend

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

const systemPrompt = `You are a gift recommendation assistant. Suggest thoughtful, purchasable gifts.
Respond with a single JSON object and nothing else, shaped as:
{"recommendations":[{"product_name":"...","description":"...","price":0.00,"category":"...","tags":["..."],"match_reason":"..."}]}
Prices are numbers in USD and must stay inside the requested budget.
Vary categories across suggestions.`

// buildUserPrompt lists every request field the model should consider.
func buildUserPrompt(req domain.RecommendationRequest, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest %d gift ideas.\n", count)
	fmt.Fprintf(&b, "Occasion: %s\n", req.Occasion)
	fmt.Fprintf(&b, "Relationship: %s\n", req.Relationship)
	if req.RecipientName != "" {
		fmt.Fprintf(&b, "Recipient name: %s\n", req.RecipientName)
	}
	if req.AgeRange != "" {
		fmt.Fprintf(&b, "Age range: %s\n", req.AgeRange)
	}
	if req.Gender != "" {
		fmt.Fprintf(&b, "Gender: %s\n", req.Gender)
	}
	fmt.Fprintf(&b, "Budget: $%.2f - $%.2f\n", req.BudgetMin, req.BudgetMax)
	if len(req.Interests) > 0 {
		fmt.Fprintf(&b, "Interests: %s\n", strings.Join(req.Interests, ", "))
	}
	return b.String()
}
