package usecase

import (
	"sort"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

const (
	rerankFusedWeight = 0.8
	rerankTokenWeight = 0.2
)

// Rerank blends the index fused score with literal-question token recall and
// returns at most topK candidates ordered by rerank score. Ties keep input order.
func Rerank(question string, candidates []domain.CandidateChunk, topK int) []domain.RerankedCandidate {
	if len(candidates) == 0 {
		return []domain.RerankedCandidate{}
	}
	if topK < 1 {
		topK = 1
	}

	queryTokens := tokenize(question)
	out := make([]domain.RerankedCandidate, 0, len(candidates))
	for _, chunk := range candidates {
		tokenScore := tokenOverlap(queryTokens, toTokenSet(chunk.Title+" "+chunk.Content))
		out = append(out, domain.RerankedCandidate{
			CandidateChunk: chunk,
			TokenScore:     tokenScore,
			RerankScore:    rerankFusedWeight*chunk.FusedScore + rerankTokenWeight*tokenScore,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankScore > out[j].RerankScore
	})

	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// tokenOverlap counts query tokens (repeats included) present in target.
func tokenOverlap(queryTokens []string, target map[string]struct{}) float64 {
	if len(queryTokens) == 0 || len(target) == 0 {
		return 0
	}
	hits := 0
	for _, token := range queryTokens {
		if _, ok := target[token]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

func countAtLeast(candidates []domain.RerankedCandidate, score float64) int {
	n := 0
	for _, c := range candidates {
		if c.RerankScore >= score {
			n++
		}
	}
	return n
}
