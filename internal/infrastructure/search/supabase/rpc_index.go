package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
)

const hybridRPCPath = "/rest/v1/rpc/match_rag_chunks_hybrid"

// RPCIndex calls the hybrid ranking function through the PostgREST RPC
// endpoint. Row scoring is entirely server-side.
type RPCIndex struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	executor   *resilience.Executor
}

func NewRPCIndex(baseURL, serviceKey string, executor *resilience.Executor) *RPCIndex {
	return &RPCIndex{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executor:   executor,
	}
}

type hybridRequest struct {
	QueryEmbedding string  `json:"p_query_embedding"`
	QueryText      string  `json:"p_query_text"`
	CandidateCount int     `json:"p_candidate_count"`
	VectorWeight   float64 `json:"p_vector_weight"`
	LexicalWeight  float64 `json:"p_lexical_weight"`
}

type hybridRow struct {
	ID           any      `json:"id"`
	DocumentID   any      `json:"document_id"`
	SegmentID    any      `json:"segment_id"`
	Title        *string  `json:"title"`
	Content      *string  `json:"content"`
	VectorScore  *float64 `json:"vector_score"`
	LexicalScore *float64 `json:"lexical_score"`
	FinalScore   *float64 `json:"final_score"`
}

func (i *RPCIndex) SearchHybrid(ctx context.Context, query domain.HybridQuery) ([]domain.CandidateChunk, error) {
	body, err := json.Marshal(hybridRequest{
		QueryEmbedding: vectorLiteral(query.Embedding),
		QueryText:      query.Text,
		CandidateCount: query.CandidateCount,
		VectorWeight:   query.VectorWeight,
		LexicalWeight:  query.LexicalWeight,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal hybrid rpc body: %w", err)
	}

	rows, err := resilience.Do(ctx, i.executor, "supabase.match_rag_chunks_hybrid", resilience.ClassifyHTTPError,
		func(ctx context.Context) ([]hybridRow, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+hybridRPCPath, bytes.NewReader(body))
			if err != nil {
				return nil, fmt.Errorf("create hybrid rpc request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("apikey", i.serviceKey)
			req.Header.Set("Authorization", "Bearer "+i.serviceKey)

			resp, err := i.httpClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("supabase hybrid rpc request: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 300 {
				return nil, resilience.NewStatusError("supabase", "match_rag_chunks_hybrid", resp)
			}
			var out []hybridRow
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return nil, fmt.Errorf("decode hybrid rpc response: %w", err)
			}
			return out, nil
		})
	if err != nil {
		return nil, resilience.WrapUpstream("supabase match_rag_chunks_hybrid", err, resilience.ClassifyHTTPError)
	}

	out := make([]domain.CandidateChunk, 0, len(rows))
	for _, row := range rows {
		id := stringValue(row.ID)
		if id == "" {
			continue
		}
		out = append(out, domain.CandidateChunk{
			ID:           id,
			DocumentID:   stringValue(row.DocumentID),
			SegmentID:    stringValue(row.SegmentID),
			Title:        deref(row.Title),
			Content:      deref(row.Content),
			VectorScore:  derefScore(row.VectorScore),
			LexicalScore: derefScore(row.LexicalScore),
			FusedScore:   derefScore(row.FinalScore),
		})
	}
	return out, nil
}

// vectorLiteral renders the pgvector text form, e.g. "[0.1,0.2]".
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for idx, x := range v {
		if idx > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefScore(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
