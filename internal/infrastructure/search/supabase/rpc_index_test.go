package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

func TestSearchHybridPostsRPCAndMapsRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, hybridRPCPath, r.URL.Path)
		assert.Equal(t, "svc-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer svc-key", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "[0.5,-1.25]", body["p_query_embedding"])
		assert.Equal(t, "하이브리드 검색", body["p_query_text"])
		assert.EqualValues(t, 28, body["p_candidate_count"])
		assert.EqualValues(t, 0.74, body["p_vector_weight"])
		assert.EqualValues(t, 0.26, body["p_lexical_weight"])

		_, _ = w.Write([]byte(`[
			{"id":42,"document_id":"doc-1","segment_id":null,"title":"노트","content":"본문","vector_score":0.8,"lexical_score":0.4,"final_score":0.7},
			{"id":"","document_id":"doc-2","final_score":0.9},
			{"id":"c-3","document_id":"doc-3","segment_id":"sec-2","title":null,"content":"x","final_score":null}
		]`))
	}))
	defer server.Close()

	index := NewRPCIndex(server.URL+"/", "svc-key", nil)
	got, err := index.SearchHybrid(context.Background(), domain.HybridQuery{
		Text:           "하이브리드 검색",
		Embedding:      []float32{0.5, -1.25},
		CandidateCount: 28,
		VectorWeight:   0.74,
		LexicalWeight:  0.26,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, domain.CandidateChunk{
		ID:           "42",
		DocumentID:   "doc-1",
		Title:        "노트",
		Content:      "본문",
		VectorScore:  0.8,
		LexicalScore: 0.4,
		FusedScore:   0.7,
	}, got[0])
	assert.Equal(t, "c-3", got[1].ID)
	assert.Equal(t, "sec-2", got[1].SegmentID)
	assert.Empty(t, got[1].Title)
	assert.Zero(t, got[1].FusedScore)
}

func TestSearchHybridClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   error
	}{
		{name: "unavailable is temporary", status: http.StatusServiceUnavailable, kind: domain.ErrTemporary},
		{name: "bad request is upstream", status: http.StatusBadRequest, kind: domain.ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			_, err := NewRPCIndex(server.URL, "k", nil).SearchHybrid(context.Background(), domain.HybridQuery{Text: "q"})
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[]", vectorLiteral(nil))
	assert.Equal(t, "[1,0.25]", vectorLiteral([]float32{1, 0.25}))
}
