package usecase

import "github.com/kirillkom/knowledge-qa/internal/core/domain"

const (
	topicGateCandidates   = 10
	topicGateContentRunes = 300
	topicGateMinHits      = 2
)

// HasTopicOverlap reports whether at least two of the top candidates share a
// keyword with the question. A question without keywords never overlaps.
func HasTopicOverlap(question string, candidates []domain.RerankedCandidate) bool {
	keywords := ExtractKeywords(question, 2, 8)
	if len(keywords) == 0 {
		return false
	}
	if len(candidates) > topicGateCandidates {
		candidates = candidates[:topicGateCandidates]
	}

	hits := 0
	for _, c := range candidates {
		tokens := toTokenSet(c.Title + " " + truncateRunes(c.Content, topicGateContentRunes))
		for _, keyword := range keywords {
			if _, ok := tokens[keyword]; ok {
				hits++
				break
			}
		}
	}
	return hits >= topicGateMinHits
}
