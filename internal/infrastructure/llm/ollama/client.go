package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, genModel, embedModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
		return nil, domain.WrapError(domain.ErrUpstream, "ollama embed", fmt.Errorf("empty embedding result"))
	}
	return response.Embeddings[0], nil
}

// Completer asks /api/generate for a schema-constrained JSON reply.
type Completer struct {
	client *Client
}

func NewCompleter(client *Client) *Completer {
	return &Completer{client: client}
}

func (c *Completer) Model() string {
	return c.client.genModel
}

func (c *Completer) CompleteJSON(ctx context.Context, req domain.CompletionRequest) (string, error) {
	var format any = "json"
	if req.Schema != nil {
		format = req.Schema
	}
	reqBody := map[string]any{
		"model":  c.client.genModel,
		"prompt": req.Prompt,
		"stream": false,
		"format": format,
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := c.client.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}
