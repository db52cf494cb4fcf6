package usecase

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

func TestBuildEvidenceIDsMatchTopDocuments(t *testing.T) {
	for _, n := range []int{0, 1, 6, 9} {
		candidates := make([]domain.RerankedCandidate, 0, n)
		for i := 0; i < n; i++ {
			candidates = append(candidates, domain.RerankedCandidate{CandidateChunk: domain.CandidateChunk{
				ID:         "chunk-" + string(rune('a'+i)),
				DocumentID: "doc-" + string(rune('a'+i)),
			}})
		}

		evidence := BuildEvidence(candidates)
		want := map[string]struct{}{}
		for _, c := range candidates[:min(6, n)] {
			want[c.DocumentID] = struct{}{}
		}
		got := map[string]struct{}{}
		for _, e := range evidence {
			got[e.ID] = struct{}{}
		}
		assert.Equal(t, want, got, "n=%d", n)
		assert.LessOrEqual(t, len(evidence), maxEvidenceItems)
	}
}

func TestBuildEvidenceFallbacks(t *testing.T) {
	content := strings.Repeat("가", 300)
	candidates := []domain.RerankedCandidate{{CandidateChunk: domain.CandidateChunk{
		ID: "chunk-1", SegmentID: "seg-1", Content: content,
	}}}

	evidence := BuildEvidence(candidates)
	require.Len(t, evidence, 1)
	assert.Equal(t, "chunk-1", evidence[0].ID)
	assert.Equal(t, "Untitled", evidence[0].Title)
	assert.Equal(t, "seg-1", evidence[0].SegmentID)
	assert.Equal(t, 220, utf8.RuneCountInString(evidence[0].Snippet))

	citations := BuildCitations(candidates)
	require.Len(t, citations, 1)
	assert.Equal(t, 120, utf8.RuneCountInString(citations[0].Quote))
	assert.Equal(t, "Untitled", citations[0].Title)
}
