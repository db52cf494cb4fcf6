package usecase

import "github.com/kirillkom/knowledge-qa/internal/core/domain"

// Thresholds is the single set of gating constants used by every decision in
// the pipeline.
type Thresholds struct {
	Answerable  float64
	WeakFloor   float64
	MinEvidence int
	WidenAccept float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Answerable:  0.64,
		WeakFloor:   0.56,
		MinEvidence: 2,
		WidenAccept: 0.55,
	}
}

// AssessContext classifies a reranked shortlist from its top three scores.
func AssessContext(candidates []domain.RerankedCandidate, th Thresholds) domain.ContextQuality {
	var top1, sum float64
	n := len(candidates)
	if n > 3 {
		n = 3
	}
	if n > 0 {
		top1 = candidates[0].RerankScore
	}
	for _, c := range candidates[:n] {
		sum += c.RerankScore
	}

	var top3Avg float64
	if n > 0 {
		top3Avg = sum / float64(n)
	}

	insufficient := top1 < th.Answerable || top3Avg < th.WeakFloor
	return domain.ContextQuality{
		Top1:         top1,
		Top3Avg:      top3Avg,
		Insufficient: insufficient,
		Weak:         !insufficient && top3Avg < th.Answerable,
	}
}

// hasSectionCluster reports whether at least two of the top three candidates
// come from the same document section.
func hasSectionCluster(candidates []domain.RerankedCandidate) bool {
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}
	seen := make(map[[2]string]int, len(candidates))
	for _, c := range candidates {
		if c.DocumentID == "" || c.SegmentID == "" {
			continue
		}
		key := [2]string{c.DocumentID, c.SegmentID}
		seen[key]++
		if seen[key] >= 2 {
			return true
		}
	}
	return false
}
