package ports

import (
	"context"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// QuestionAnswerer is the inbound contract for grounded question answering.
// Degraded outcomes are returned as responses, only invalid input is an error.
type QuestionAnswerer interface {
	Ask(ctx context.Context, req domain.QARequest) (*domain.QAResponse, error)
}
