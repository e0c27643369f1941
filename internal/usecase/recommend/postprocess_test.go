package recommend

import (
	"math"
	"testing"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

func TestPostProcess_BudgetFilter(t *testing.T) {
	req := domain.RecommendationRequest{BudgetMin: 30, BudgetMax: 60}
	recs := []domain.Recommendation{
		{ProductName: "cheap", Price: 25, Category: "a"},
		{ProductName: "low edge", Price: 30, Category: "b"},
		{ProductName: "mid", Price: 45, Category: "c"},
		{ProductName: "high edge", Price: 60, Category: "d"},
		{ProductName: "pricey", Price: 65, Category: "e"},
	}

	out := postProcess(recs, req, 3, 10)

	names := map[string]bool{}
	for _, r := range out {
		names[r.ProductName] = true
	}
	if len(out) != 3 || names["cheap"] || names["pricey"] {
		t.Errorf("unexpected survivors: %+v", out)
	}
}

func TestPostProcess_DiversityCapKeepsOrder(t *testing.T) {
	req := domain.RecommendationRequest{BudgetMin: 0, BudgetMax: 100}
	var recs []domain.Recommendation
	for _, name := range []string{"b1", "b2", "b3", "b4", "b5", "b6"} {
		cat := "Books"
		if name == "b2" {
			cat = "books"
		}
		recs = append(recs, domain.Recommendation{ProductName: name, Price: 50, Category: cat})
	}
	recs = append(recs, domain.Recommendation{ProductName: "toy", Price: 50, Category: "Toys"})

	out := postProcess(recs, req, 3, 10)

	want := []string{"b1", "b2", "b3", "toy"}
	if len(out) != len(want) {
		t.Fatalf("got %d items, want %d: %+v", len(out), len(want), out)
	}
	for i, w := range want {
		if out[i].ProductName != w {
			t.Errorf("out[%d] = %q, want %q", i, out[i].ProductName, w)
		}
	}
}

func TestPostProcess_SortsAndTruncates(t *testing.T) {
	req := domain.RecommendationRequest{BudgetMin: 0, BudgetMax: 100, Interests: []string{"hiking"}}
	recs := []domain.Recommendation{
		{ProductName: "plain", Price: 50, Category: "a"},
		{ProductName: "boots", Description: "hiking boots", Price: 50, Category: "b"},
		{ProductName: "other", Price: 50, Category: "c"},
	}

	out := postProcess(recs, req, 3, 2)

	if len(out) != 2 {
		t.Fatalf("got %d items, want 2", len(out))
	}
	if out[0].ProductName != "boots" || out[1].ProductName != "plain" {
		t.Errorf("unexpected order: %q, %q", out[0].ProductName, out[1].ProductName)
	}
}

func TestRelevance_InterestsRaiseScore(t *testing.T) {
	req := domain.RecommendationRequest{BudgetMin: 20, BudgetMax: 80, Interests: []string{"Cooking", "travel"}}
	none := domain.Recommendation{ProductName: "Box", Description: "a box", Price: 50}
	both := domain.Recommendation{
		ProductName: "Kit",
		Description: "a cooking kit",
		Price:       50,
		Tags:        []string{"Travel"},
	}

	diff := relevance(both, req) - relevance(none, req)
	if diff < 20 {
		t.Errorf("two matched interests raised score by %v, want >= 20", diff)
	}
}

func TestRelevance_Components(t *testing.T) {
	req := domain.RecommendationRequest{BudgetMin: 20, BudgetMax: 80}
	tests := []struct {
		name string
		rec  domain.Recommendation
		want float64
	}{
		{"midpoint", domain.Recommendation{ProductName: "x", Price: 50}, 70},
		{"budget edge", domain.Recommendation{ProductName: "x", Price: 80}, 50},
		{"halfway", domain.Recommendation{ProductName: "x", Price: 35}, 60},
		{"quality keyword", domain.Recommendation{ProductName: "Mug", Description: "Handmade stoneware", Price: 80}, 60},
		{"quality keyword in name only", domain.Recommendation{ProductName: "Premium Mug", Description: "stoneware", Price: 80}, 50},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := relevance(tc.rec, req); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("relevance = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRelevance_ClampedTo100(t *testing.T) {
	req := domain.RecommendationRequest{
		BudgetMin: 10, BudgetMax: 10,
		Interests: []string{"a", "b", "c", "d", "e"},
	}
	rec := domain.Recommendation{ProductName: "Gift", Description: "premium a b c d e", Price: 10}
	if got := relevance(rec, req); got != 100 {
		t.Errorf("relevance = %v, want 100", got)
	}
}

func TestPriceFit(t *testing.T) {
	if got := priceFit(10, 10, 10); got != priceFitMax {
		t.Errorf("exact single-point budget: %v", got)
	}
	if got := priceFit(11, 10, 10); got != 0 {
		t.Errorf("off single-point budget: %v", got)
	}
	if got := priceFit(500, 0, 100); got != 0 {
		t.Errorf("far outside budget: %v", got)
	}
	if got := priceFit(50, 0, 0); got != 0 {
		t.Errorf("no budget: %v", got)
	}
}
