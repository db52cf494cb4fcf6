package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
)

const DefaultBaseURL = "https://api.openai.com"

type Client struct {
	baseURL    string
	apiKey     string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, apiKey, genModel, embedModel string, executor *resilience.Executor) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 90 * time.Second},
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
		"input": text,
	}
	var response struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := e.client.postJSON(ctx, "/v1/embeddings", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Data) == 0 || len(response.Data[0].Embedding) == 0 {
		return nil, domain.WrapError(domain.ErrUpstream, "openai embed", fmt.Errorf("empty embedding result"))
	}
	return response.Data[0].Embedding, nil
}

// Completer calls the Responses API with a json_schema text format.
type Completer struct {
	client *Client
}

func NewCompleter(client *Client) *Completer {
	return &Completer{client: client}
}

func (c *Completer) Model() string {
	return c.client.genModel
}

type responsesOutput struct {
	Type    string `json:"type"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *Completer) CompleteJSON(ctx context.Context, req domain.CompletionRequest) (string, error) {
	format := map[string]any{"type": "json_object"}
	if req.Schema != nil {
		format = map[string]any{
			"type":   "json_schema",
			"name":   req.SchemaName,
			"schema": req.Schema,
			"strict": false,
		}
	}
	request := map[string]any{
		"model": c.client.genModel,
		"input": req.Prompt,
		"text":  map[string]any{"format": format},
	}

	var response struct {
		Output []responsesOutput `json:"output"`
	}
	if err := c.client.postJSON(ctx, "/v1/responses", request, &response, "responses"); err != nil {
		return "", err
	}

	text := firstOutputText(response.Output)
	if text == "" {
		return "", domain.WrapError(domain.ErrUpstream, "openai responses", fmt.Errorf("no output text"))
	}
	return text, nil
}

// firstOutputText skips reasoning items and returns the first message text.
func firstOutputText(items []responsesOutput) string {
	for _, item := range items {
		if item.Type != "" && item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type != "" && part.Type != "output_text" {
				continue
			}
			if text := strings.TrimSpace(part.Text); text != "" {
				return text
			}
		}
	}
	return ""
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	err = c.executor.Execute(ctx, "openai."+operation, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create %s request: %w", operation, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("openai %s request: %w", operation, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return resilience.NewStatusError("openai", operation, resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
		return nil
	}, resilience.ClassifyHTTPError)
	return resilience.WrapUpstream("openai "+operation, err, resilience.ClassifyHTTPError)
}
