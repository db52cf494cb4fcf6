package usecase

import (
	"sort"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// MergeCandidates unions candidate groups by chunk id, keeping the row with the
// highest fused score. The result is ordered by fused score descending with ties
// broken by id, so it does not depend on the order of the groups.
func MergeCandidates(groups ...[]domain.CandidateChunk) []domain.CandidateChunk {
	size := 0
	for _, group := range groups {
		size += len(group)
	}

	acc := make(map[string]domain.CandidateChunk, size)
	for _, group := range groups {
		for _, chunk := range group {
			if chunk.ID == "" {
				continue
			}
			current, ok := acc[chunk.ID]
			if !ok || chunk.FusedScore > current.FusedScore {
				acc[chunk.ID] = preferRicherChunk(chunk, current)
			}
		}
	}

	out := make([]domain.CandidateChunk, 0, len(acc))
	for _, chunk := range acc {
		out = append(out, chunk)
	}
	sortByFusedScore(out)
	return out
}

func sortByFusedScore(chunks []domain.CandidateChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].FusedScore != chunks[j].FusedScore {
			return chunks[i].FusedScore > chunks[j].FusedScore
		}
		return chunks[i].ID < chunks[j].ID
	})
}

func trimCandidates(chunks []domain.CandidateChunk, limit int) []domain.CandidateChunk {
	if limit <= 0 || len(chunks) <= limit {
		return chunks
	}
	return chunks[:limit]
}

// preferRicherChunk fills metadata the winning row lacks from the row it replaces.
func preferRicherChunk(winner, previous domain.CandidateChunk) domain.CandidateChunk {
	if winner.DocumentID == "" {
		winner.DocumentID = previous.DocumentID
	}
	if winner.SegmentID == "" {
		winner.SegmentID = previous.SegmentID
	}
	if winner.Title == "" {
		winner.Title = previous.Title
	}
	if winner.Content == "" {
		winner.Content = previous.Content
	}
	return winner
}
