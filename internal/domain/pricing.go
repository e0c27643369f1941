package domain

// Prices are USD per 1000 tokens.
var embeddingPrices = map[string]float64{
	"text-embedding-3-small": 0.00002,
	"text-embedding-3-large": 0.00013,
	"text-embedding-ada-002": 0.0001,
}

// ChatPrice is the per-1k-token price of a generative model.
type ChatPrice struct {
	InputPer1K  float64
	OutputPer1K float64
}

var chatPrices = map[string]ChatPrice{
	"gpt-4o-mini":   {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-4o":        {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4-turbo":   {InputPer1K: 0.01, OutputPer1K: 0.03},
	"gpt-3.5-turbo": {InputPer1K: 0.0005, OutputPer1K: 0.0015},
}

// EmbeddingPricePer1K returns the per-1k-token price for an embedding model (0 if unknown).
func EmbeddingPricePer1K(model string) float64 {
	return embeddingPrices[model]
}

// EmbeddingCostFor computes cost = tokens/1000 * pricePer1K.
func EmbeddingCostFor(tokens int, pricePer1K float64) EmbeddingCost {
	return EmbeddingCost{
		TokensUsed: tokens,
		CostUSD:    float64(tokens) / 1000 * pricePer1K,
	}
}

// ChatPriceFor returns the price entry for a generative model (zero if unknown).
func ChatPriceFor(model string) ChatPrice {
	return chatPrices[model]
}

// ChatCost prices one completion.
func ChatCost(model string, promptTokens, completionTokens int) float64 {
	p := chatPrices[model]
	return float64(promptTokens)/1000*p.InputPer1K + float64(completionTokens)/1000*p.OutputPer1K
}
