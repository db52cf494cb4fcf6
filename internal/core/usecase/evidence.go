package usecase

import "github.com/kirillkom/knowledge-qa/internal/core/domain"

const (
	maxEvidenceItems   = 6
	evidenceSnippetLen = 220
	citationQuoteLen   = 120
	untitledDocument   = "Untitled"
)

func BuildEvidence(candidates []domain.RerankedCandidate) []domain.Evidence {
	head := headCandidates(candidates, maxEvidenceItems)
	out := make([]domain.Evidence, 0, len(head))
	for _, c := range head {
		out = append(out, domain.Evidence{
			ID:        sourceID(c.CandidateChunk),
			Title:     displayTitle(c.Title),
			Snippet:   truncateRunes(c.Content, evidenceSnippetLen),
			SegmentID: c.SegmentID,
		})
	}
	return out
}

func BuildCitations(candidates []domain.RerankedCandidate) []domain.Citation {
	head := headCandidates(candidates, maxEvidenceItems)
	out := make([]domain.Citation, 0, len(head))
	for _, c := range head {
		out = append(out, domain.Citation{
			ID:    sourceID(c.CandidateChunk),
			Title: displayTitle(c.Title),
			Quote: truncateRunes(c.Content, citationQuoteLen),
		})
	}
	return out
}

func headCandidates(candidates []domain.RerankedCandidate, n int) []domain.RerankedCandidate {
	if len(candidates) > n {
		return candidates[:n]
	}
	return candidates
}

func sourceID(c domain.CandidateChunk) string {
	if c.DocumentID != "" {
		return c.DocumentID
	}
	return c.ID
}

func displayTitle(title string) string {
	if title == "" {
		return untitledDocument
	}
	return title
}
