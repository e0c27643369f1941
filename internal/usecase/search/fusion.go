package search

import (
	"sort"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

// DefaultRRFK is the reciprocal rank fusion constant (Cormack et al. 2009).
const DefaultRRFK = 60

type fused struct {
	res     domain.SearchResult
	semRank int // 1-based, 0 when absent
	kwRank  int
	kwScore float64
}

// merge collects both legs keyed by product id. Semantic hits come first in
// their own order, then keyword-only hits; ties in the final sort keep this
// order.
func merge(semantic, keyword []domain.SearchResult) []*fused {
	byID := make(map[string]*fused, len(semantic)+len(keyword))
	order := make([]*fused, 0, len(semantic)+len(keyword))

	for i, r := range semantic {
		if _, dup := byID[r.ID]; dup {
			continue
		}
		f := &fused{res: r, semRank: i + 1}
		byID[r.ID] = f
		order = append(order, f)
	}
	for i, r := range keyword {
		if f, ok := byID[r.ID]; ok {
			if f.kwRank == 0 {
				f.kwRank, f.kwScore = i+1, r.Score
			}
			continue
		}
		r.Similarity = 0
		f := &fused{res: r, kwRank: i + 1, kwScore: r.Score}
		byID[r.ID] = f
		order = append(order, f)
	}
	return order
}

// fuseWeighted scores keywordWeight * rank/maxRank + semanticWeight * similarity.
func fuseWeighted(semantic, keyword []domain.SearchResult, keywordWeight, semanticWeight float64, topK int) []domain.SearchResult {
	items := merge(semantic, keyword)

	var maxKW float64
	for _, f := range items {
		maxKW = max(maxKW, f.kwScore)
	}
	for _, f := range items {
		var norm float64
		if maxKW > 0 {
			norm = f.kwScore / maxKW
		}
		f.res.Score = keywordWeight*norm + semanticWeight*f.res.Similarity
	}
	return rank(items, topK)
}

// fuseRRF scores sum of 1/(k + rank) over the legs a product appears in.
func fuseRRF(semantic, keyword []domain.SearchResult, k, topK int) []domain.SearchResult {
	if k <= 0 {
		k = DefaultRRFK
	}
	items := merge(semantic, keyword)
	for _, f := range items {
		var score float64
		if f.semRank > 0 {
			score += 1.0 / float64(k+f.semRank)
		}
		if f.kwRank > 0 {
			score += 1.0 / float64(k+f.kwRank)
		}
		f.res.Score = score
	}
	return rank(items, topK)
}

func rank(items []*fused, topK int) []domain.SearchResult {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].res.Score > items[j].res.Score
	})
	if len(items) > topK {
		items = items[:topK]
	}
	out := make([]domain.SearchResult, len(items))
	for i, f := range items {
		out[i] = f.res
	}
	return out
}
