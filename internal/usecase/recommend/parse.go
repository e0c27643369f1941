package recommend

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

// errNoRecommendations marks a model reply that yielded nothing usable.
var errNoRecommendations = errors.New("no recommendations in model output")

var (
	listKeys        = []string{"recommendations", "gifts", "items", "suggestions"}
	nameKeys        = []string{"product_name", "productName", "name", "title", "gift"}
	descriptionKeys = []string{"description", "desc", "details"}
	priceKeys       = []string{"price", "estimated_price", "estimatedPrice", "cost", "price_usd"}
	categoryKeys    = []string{"category", "type"}
	tagKeys         = []string{"tags", "keywords"}
	reasonKeys      = []string{"match_reason", "matchReason", "reason", "why"}
)

// parseRecommendations extracts recommendations from a model reply,
// tolerating fences, prose around the payload and common field aliases.
func parseRecommendations(text string) ([]domain.Recommendation, error) {
	payload := extractJSON(text)
	if payload == "" {
		return nil, errNoRecommendations
	}

	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		for _, k := range listKeys {
			if arr, ok := v[k].([]any); ok {
				items = arr
				break
			}
		}
	}

	recs := make([]domain.Recommendation, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		rec, ok := coerceRecommendation(obj)
		if !ok {
			continue
		}
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return nil, errNoRecommendations
	}
	return recs, nil
}

// extractJSON strips markdown fences and any prose before the first
// opening bracket or after the last closing one.
func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = strings.TrimSpace(rest)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return ""
	}
	return s[start : end+1]
}

func coerceRecommendation(obj map[string]any) (domain.Recommendation, bool) {
	name := firstString(obj, nameKeys)
	if name == "" {
		return domain.Recommendation{}, false
	}
	return domain.Recommendation{
		ProductName: name,
		Description: firstString(obj, descriptionKeys),
		Price:       firstPrice(obj, priceKeys),
		Category:    firstString(obj, categoryKeys),
		Tags:        firstTags(obj, tagKeys),
		MatchReason: firstString(obj, reasonKeys),
	}, true
}

func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstPrice(obj map[string]any, keys []string) float64 {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case float64:
			return v
		case string:
			if p, ok := parsePrice(v); ok {
				return p
			}
		}
	}
	return 0
}

// parsePrice reads the first number in strings like "$45.99", "USD 1,200"
// or "30-40".
func parsePrice(s string) (float64, bool) {
	start := strings.IndexAny(s, "0123456789")
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.' || s[end] == ',') {
		end++
	}
	num := strings.ReplaceAll(s[start:end], ",", "")
	p, err := strconv.ParseFloat(strings.TrimRight(num, "."), 64)
	if err != nil {
		return 0, false
	}
	return p, true
}

func firstTags(obj map[string]any, keys []string) []string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case []any:
			tags := make([]string, 0, len(v))
			for _, t := range v {
				if s, ok := t.(string); ok && strings.TrimSpace(s) != "" {
					tags = append(tags, strings.TrimSpace(s))
				}
			}
			return tags
		case string:
			var tags []string
			for _, part := range strings.Split(v, ",") {
				if p := strings.TrimSpace(part); p != "" {
					tags = append(tags, p)
				}
			}
			return tags
		}
	}
	return nil
}
