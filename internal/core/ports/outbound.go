package ports

import (
	"context"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// Embedder builds a query vector for retrieval.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// HybridIndex performs one ranked vector+lexical search call.
type HybridIndex interface {
	SearchHybrid(ctx context.Context, query domain.HybridQuery) ([]domain.CandidateChunk, error)
}

// Completer returns the raw JSON text produced by the completion service.
type Completer interface {
	CompleteJSON(ctx context.Context, req domain.CompletionRequest) (string, error)
	Model() string
}

// IdentityResolver extracts a best-effort caller identifier from an
// Authorization header value. ok is false when no valid identifier is present.
type IdentityResolver interface {
	Resolve(ctx context.Context, authorization string) (id string, ok bool)
}

// RateLimiter admits or rejects one request for key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// QAObserver receives pipeline outcomes for metrics.
type QAObserver interface {
	ObserveRetrievalCall(variant string, candidates int, err error)
	ObserveAnswer(retryReason domain.RetryReason, fallbackUsed bool, latencySeconds float64)
}
