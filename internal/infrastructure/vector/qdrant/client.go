package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
)

const (
	DefaultDenseVector  = "dense"
	DefaultSparseVector = "text"
)

// Client serves hybrid queries from a collection that carries one named dense
// vector and one named sparse vector per point. Fusion happens client-side
// with the weights the caller passes in.
type Client struct {
	baseURL      string
	collection   string
	denseVector  string
	sparseVector string
	httpClient   *http.Client
	executor     *resilience.Executor
}

func New(baseURL, collection, denseVector, sparseVector string, executor *resilience.Executor) *Client {
	if strings.TrimSpace(denseVector) == "" {
		denseVector = DefaultDenseVector
	}
	if strings.TrimSpace(sparseVector) == "" {
		sparseVector = DefaultSparseVector
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		collection:   collection,
		denseVector:  denseVector,
		sparseVector: sparseVector,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		executor:     executor,
	}
}

type searchHit struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) SearchHybrid(ctx context.Context, query domain.HybridQuery) ([]domain.CandidateChunk, error) {
	if query.CandidateCount <= 0 {
		return []domain.CandidateChunk{}, nil
	}

	var denseHits, sparseHits []searchHit
	g, gctx := errgroup.WithContext(ctx)
	if len(query.Embedding) > 0 {
		g.Go(func() error {
			hits, err := c.search(gctx, "dense", map[string]any{
				"name":   c.denseVector,
				"vector": query.Embedding,
			}, query.CandidateCount)
			denseHits = hits
			return err
		})
	}
	sparse := encodeSparseQuery(query.Text)
	if len(sparse.Indices) > 0 {
		g.Go(func() error {
			hits, err := c.search(gctx, "sparse", map[string]any{
				"name":   c.sparseVector,
				"vector": sparse,
			}, query.CandidateCount)
			sparseHits = hits
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return fuseHits(denseHits, sparseHits, query), nil
}

func (c *Client) search(ctx context.Context, kind string, vector map[string]any, limit int) ([]searchHit, error) {
	body, err := json.Marshal(map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s search body: %w", kind, err)
	}

	operation := "search_" + kind
	hits, err := resilience.Do(ctx, c.executor, "qdrant."+operation, resilience.ClassifyHTTPError,
		func(ctx context.Context) ([]searchHit, error) {
			url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return nil, fmt.Errorf("create %s search request: %w", kind, err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("qdrant %s search request: %w", kind, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 300 {
				return nil, resilience.NewStatusError("qdrant", operation, resp)
			}
			var searchResp struct {
				Result []searchHit `json:"result"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
				return nil, fmt.Errorf("decode %s search response: %w", kind, err)
			}
			return searchResp.Result, nil
		})
	if err != nil {
		return nil, resilience.WrapUpstream("qdrant "+operation, err, resilience.ClassifyHTTPError)
	}
	return hits, nil
}

// fuseHits combines cosine scores with max-normalized sparse scores so both
// signals sit on a comparable 0..1 scale before weighting.
func fuseHits(denseHits, sparseHits []searchHit, query domain.HybridQuery) []domain.CandidateChunk {
	byID := make(map[string]*domain.CandidateChunk, len(denseHits)+len(sparseHits))
	order := make([]string, 0, len(denseHits)+len(sparseHits))
	upsert := func(hit searchHit) *domain.CandidateChunk {
		id := chunkID(hit)
		if id == "" {
			return nil
		}
		if existing, ok := byID[id]; ok {
			return existing
		}
		chunk := &domain.CandidateChunk{
			ID:         id,
			DocumentID: getStringPayload(hit.Payload, "document_id"),
			SegmentID:  getStringPayload(hit.Payload, "segment_id"),
			Title:      getStringPayload(hit.Payload, "title"),
			Content:    getStringPayload(hit.Payload, "content"),
		}
		byID[id] = chunk
		order = append(order, id)
		return chunk
	}

	for _, hit := range denseHits {
		if chunk := upsert(hit); chunk != nil {
			chunk.VectorScore = hit.Score
		}
	}
	maxSparse := 0.0
	for _, hit := range sparseHits {
		if hit.Score > maxSparse {
			maxSparse = hit.Score
		}
	}
	for _, hit := range sparseHits {
		chunk := upsert(hit)
		if chunk == nil || maxSparse <= 0 {
			continue
		}
		chunk.LexicalScore = hit.Score / maxSparse
	}

	out := make([]domain.CandidateChunk, 0, len(order))
	for _, id := range order {
		chunk := byID[id]
		chunk.FusedScore = query.VectorWeight*chunk.VectorScore + query.LexicalWeight*chunk.LexicalScore
		out = append(out, *chunk)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FusedScore > out[j].FusedScore })
	if len(out) > query.CandidateCount {
		out = out[:query.CandidateCount]
	}
	return out
}

func chunkID(hit searchHit) string {
	if id := getStringPayload(hit.Payload, "chunk_id"); id != "" {
		return id
	}
	if id := getStringPayload(hit.Payload, "id"); id != "" {
		return id
	}
	if hit.ID == nil {
		return ""
	}
	switch v := hit.ID.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// CheckCollection verifies the collection exists and is reachable.
func (c *Client) CheckCollection(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create collection info request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant collection info request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resilience.NewStatusError("qdrant", "collection_info", resp)
	}
	return nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
