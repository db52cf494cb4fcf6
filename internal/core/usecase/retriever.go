package usecase

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
)

const (
	minCandidateTopN    = 4
	rewriteCandidateMul = 0.7
)

type RetrievalOptions struct {
	CandidateTopN  int
	VectorWeight   float64
	LexicalWeight  float64
	RewriteEnabled bool
	CallTimeout    time.Duration
}

func DefaultRetrievalOptions() RetrievalOptions {
	return RetrievalOptions{
		CandidateTopN: 28,
		VectorWeight:  0.74,
		LexicalWeight: 0.26,
		CallTimeout:   20 * time.Second,
	}
}

// HybridRetriever issues ranked-search calls for one query variant. Failures
// are logged and contribute an empty result.
type HybridRetriever struct {
	index    ports.HybridIndex
	opts     RetrievalOptions
	logger   *slog.Logger
	observer ports.QAObserver
}

func NewHybridRetriever(index ports.HybridIndex, opts RetrievalOptions, logger *slog.Logger, observer ports.QAObserver) *HybridRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &HybridRetriever{index: index, opts: opts, logger: logger, observer: observer}
}

func (r *HybridRetriever) baseTopN() int {
	return max(minCandidateTopN, r.opts.CandidateTopN)
}

// Retrieve runs the base call for queryText and, when enabled, the mechanical
// rewrite call, returning at most baseTopN candidates by fused score.
func (r *HybridRetriever) Retrieve(ctx context.Context, variant, queryText string, embedding []float32) []domain.CandidateChunk {
	ctx, span := tracer.Start(ctx, "qa.retrieve")
	defer span.End()
	span.SetAttributes(attribute.String("qa.variant", variant))

	baseTopN := r.baseTopN()
	base, err := r.search(ctx, variant, queryText, embedding, baseTopN)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "base retrieval failed")
		return []domain.CandidateChunk{}
	}

	groups := [][]domain.CandidateChunk{base}
	if rewrite := RewriteQuery(queryText); r.opts.RewriteEnabled && rewrite != "" && rewrite != queryText {
		rewriteTopN := max(minCandidateTopN, int(float64(baseTopN)*rewriteCandidateMul))
		rewritten, err := r.search(ctx, variant+"_rewrite", rewrite, embedding, rewriteTopN)
		if err == nil {
			groups = append(groups, rewritten)
		}
	}

	merged := trimCandidates(MergeCandidates(groups...), baseTopN)
	span.SetAttributes(attribute.Int("qa.candidates", len(merged)))
	return merged
}

func (r *HybridRetriever) search(ctx context.Context, variant, text string, embedding []float32, count int) ([]domain.CandidateChunk, error) {
	if r.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.CallTimeout)
		defer cancel()
	}

	rows, err := r.index.SearchHybrid(ctx, domain.HybridQuery{
		Text:           text,
		Embedding:      embedding,
		CandidateCount: count,
		VectorWeight:   r.opts.VectorWeight,
		LexicalWeight:  r.opts.LexicalWeight,
	})
	r.observer.ObserveRetrievalCall(variant, len(rows), err)
	if err != nil {
		r.logger.WarnContext(ctx, "retrieval_call_failed",
			"variant", variant,
			"failure", domain.ClassifyFailure(err),
			"error", err.Error(),
		)
		return nil, err
	}
	return rows, nil
}
