package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
)

const (
	minQuestionRunes  = 2
	maxEmbeddingRunes = 4000
	widenMinAccepted  = 2

	confidenceEvidenceOnly = 0.3
	confidenceInsufficient = 0.3
	confidenceTopicGuide   = 0.35
	confidenceWeakContext  = 0.45

	messageEvidenceOnly = "LLM 또는 인용 검증 실패로 근거만 반환합니다."
	messageWeakContext  = "검색 근거가 약해 답변을 생성하지 않습니다."
)

var tracer = otel.Tracer("github.com/kirillkom/knowledge-qa/internal/core/usecase")

type QAOptions struct {
	Retrieval           RetrievalOptions
	Thresholds          Thresholds
	GenerationTopK      int
	AssessmentTopK      int
	WeakContextPolicy   WeakContextPolicy
	SectionBoostEnabled bool
}

func DefaultQAOptions() QAOptions {
	return QAOptions{
		Retrieval:         DefaultRetrievalOptions(),
		Thresholds:        DefaultThresholds(),
		GenerationTopK:    6,
		AssessmentTopK:    10,
		WeakContextPolicy: WeakContextAnswer,
	}
}

// QAUseCase orchestrates retrieval, gating and constrained generation for one
// question at a time. It holds no per-request state.
type QAUseCase struct {
	embedder  ports.Embedder
	retriever *HybridRetriever
	generator *GenerationAdapter
	ladder    Ladder
	opts      QAOptions
	logger    *slog.Logger
	observer  ports.QAObserver
	now       func() time.Time
}

func NewQAUseCase(
	embedder ports.Embedder,
	index ports.HybridIndex,
	completer ports.Completer,
	opts QAOptions,
	logger *slog.Logger,
	observer ports.QAObserver,
) *QAUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	if opts.GenerationTopK <= 0 {
		opts.GenerationTopK = 6
	}
	if opts.AssessmentTopK < opts.GenerationTopK {
		opts.AssessmentTopK = max(10, opts.GenerationTopK)
	}
	return &QAUseCase{
		embedder:  embedder,
		retriever: NewHybridRetriever(index, opts.Retrieval, logger, observer),
		generator: NewGenerationAdapter(completer),
		ladder:    NewLadder(opts.Thresholds, opts.WeakContextPolicy),
		opts:      opts,
		logger:    logger,
		observer:  observer,
		now:       time.Now,
	}
}

// pipelineState is everything gathered for one question before a response is built.
type pipelineState struct {
	question       string
	requestID      string
	startedAt      time.Time
	reranked       []domain.RerankedCandidate
	quality        domain.ContextQuality
	evidence       []domain.Evidence
	citations      []domain.Citation
	ladderIn       LadderInput
	generation     domain.Generation
	retrievalCalls int
	widened        bool
}

func (u *QAUseCase) Ask(ctx context.Context, req domain.QARequest) (*domain.QAResponse, error) {
	question := strings.TrimSpace(req.Question)
	if utf8.RuneCountInString(question) < minQuestionRunes {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ask", errors.New("question is too short"))
	}

	state := &pipelineState{
		question:  question,
		requestID: req.RequestID,
		startedAt: u.now(),
		evidence:  []domain.Evidence{},
		citations: []domain.Citation{},
	}
	if state.requestID == "" {
		state.requestID = uuid.NewString()
	}

	ctx, span := tracer.Start(ctx, "qa.ask")
	defer span.End()
	span.SetAttributes(attribute.String("qa.request_id", state.requestID))

	embedding, err := u.embed(ctx, question)
	if err != nil {
		state.ladderIn.EmbeddingFailed = true
		return u.finish(ctx, state, u.ladder.Decide(state.ladderIn), req.CallerID)
	}

	u.retrieve(ctx, state, embedding)

	state.quality = AssessContext(state.reranked, u.opts.Thresholds)
	state.evidence = BuildEvidence(state.reranked)
	state.citations = BuildCitations(state.reranked)
	state.ladderIn = LadderInput{
		TopicRelated:  HasTopicOverlap(question, state.reranked),
		EvidenceCount: len(state.evidence),
		Quality:       state.quality,
		SectionBoost:  u.opts.SectionBoostEnabled && hasSectionCluster(state.reranked),
	}

	outcome := u.ladder.Decide(state.ladderIn)
	if outcome.Kind == OutcomeNormal {
		generation, genErr := u.generate(ctx, question, headCandidates(state.reranked, u.opts.GenerationTopK))
		state.generation = generation
		state.ladderIn.GenerationAttempted = true
		state.ladderIn.GenerationErr = genErr
		state.ladderIn.CitationsValid = genErr == nil && HasParagraphAttribution(generation.Answer)
		outcome = u.ladder.Decide(state.ladderIn)
	}

	return u.finish(ctx, state, outcome, req.CallerID)
}

func (u *QAUseCase) embed(ctx context.Context, question string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "qa.embed")
	defer span.End()

	ctx, cancel := u.callContext(ctx)
	defer cancel()

	vector, err := u.embedder.EmbedQuery(ctx, truncateRunes(question, maxEmbeddingRunes))
	if err == nil && len(vector) == 0 {
		err = errors.New("empty embedding")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		u.logger.WarnContext(ctx, "embedding_failed",
			"failure", domain.ClassifyFailure(err),
			"error", err.Error(),
		)
		return nil, err
	}
	return vector, nil
}

// retrieve runs the literal and expanded calls concurrently, then widens with
// the broadened query when too few candidates clear the acceptance bar.
func (u *QAUseCase) retrieve(ctx context.Context, state *pipelineState, embedding []float32) {
	plan := ExpandQuery(state.question)

	var literal, expanded []domain.CandidateChunk
	var g errgroup.Group
	g.Go(func() error {
		literal = u.retriever.Retrieve(ctx, "literal", plan.Question, embedding)
		return nil
	})
	g.Go(func() error {
		expanded = u.retriever.Retrieve(ctx, "expanded", plan.Expanded, embedding)
		return nil
	})
	_ = g.Wait()
	state.retrievalCalls = 2

	merged := MergeCandidates(literal, expanded)
	state.reranked = Rerank(state.question, merged, u.opts.AssessmentTopK)

	if countAtLeast(state.reranked, u.opts.Thresholds.WidenAccept) < widenMinAccepted {
		broadened := u.retriever.Retrieve(ctx, "broadened", plan.Broadened, embedding)
		merged = MergeCandidates(merged, broadened)
		state.reranked = Rerank(state.question, merged, u.opts.AssessmentTopK)
		state.retrievalCalls++
		state.widened = true
	}
}

func (u *QAUseCase) generate(ctx context.Context, question string, shortlist []domain.RerankedCandidate) (domain.Generation, error) {
	ctx, span := tracer.Start(ctx, "qa.generate")
	defer span.End()

	ctx, cancel := u.callContext(ctx)
	defer cancel()

	generation, err := u.generator.Generate(ctx, question, shortlist)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		u.logger.WarnContext(ctx, "generation_failed",
			"failure", domain.ClassifyFailure(err),
			"error", err.Error(),
		)
	}
	return generation, err
}

func (u *QAUseCase) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.opts.Retrieval.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, u.opts.Retrieval.CallTimeout)
}

func (u *QAUseCase) finish(ctx context.Context, state *pipelineState, outcome Outcome, callerID string) (*domain.QAResponse, error) {
	resp, err := u.buildResponse(state, outcome)
	if err != nil {
		return nil, err
	}

	resp.Meta.LatencyMs = u.now().Sub(state.startedAt).Milliseconds()
	u.observer.ObserveAnswer(resp.Meta.RetryReason, resp.Meta.FallbackUsed, float64(resp.Meta.LatencyMs)/1000)
	u.logger.InfoContext(ctx, "qa_completed",
		"request_id", state.requestID,
		"caller_id", callerID,
		"outcome", string(outcome.Kind),
		"retry_reason", string(outcome.Reason),
		"retrieval_calls", state.retrievalCalls,
		"widened", state.widened,
		"candidates", len(state.reranked),
		"top1", state.quality.Top1,
		"top3_avg", state.quality.Top3Avg,
		"latency_ms", resp.Meta.LatencyMs,
	)
	return resp, nil
}

func (u *QAUseCase) buildResponse(state *pipelineState, outcome Outcome) (*domain.QAResponse, error) {
	meta := domain.ResponseMeta{
		RequestID:   state.requestID,
		ModelUsed:   u.generator.Model(),
		Ambiguity:   true,
		RetryReason: outcome.Reason,
	}

	switch outcome.Kind {
	case OutcomeEvidenceOnly:
		meta.FallbackUsed = true
		meta.Confidence = confidenceEvidenceOnly
		return &domain.QAResponse{
			Data: domain.AnswerData{
				Evidence:  state.evidence,
				Citations: []domain.Citation{},
				Code:      domain.CodeDegradedEvidenceOnly,
				Message:   messageEvidenceOnly,
			},
			Meta: meta,
		}, nil

	case OutcomeTopicGuide:
		answer, err := RenderTopicGuide(state.question, state.reranked)
		if err != nil {
			return nil, err
		}
		meta.FallbackUsed = true
		meta.Confidence = confidenceTopicGuide
		return &domain.QAResponse{
			Data: domain.AnswerData{Answer: answer, Evidence: state.evidence, Citations: state.citations},
			Meta: meta,
		}, nil

	case OutcomeInsufficientContext:
		answer, err := RenderInsufficientContext(u.opts.Thresholds.WidenAccept)
		if err != nil {
			return nil, err
		}
		meta.FallbackUsed = true
		meta.Confidence = confidenceInsufficient
		return &domain.QAResponse{
			Data: domain.AnswerData{Answer: answer, Evidence: state.evidence, Citations: state.citations},
			Meta: meta,
		}, nil

	case OutcomeWeakContext:
		meta.Confidence = confidenceWeakContext
		return &domain.QAResponse{
			Data: domain.AnswerData{
				Evidence:  state.evidence,
				Citations: state.citations,
				Code:      domain.CodeWeakContext,
				Message:   messageWeakContext,
			},
			Meta: meta,
		}, nil
	}

	gen := state.generation
	evidence := state.evidence
	if len(gen.Evidence) > 0 {
		evidence = headEvidence(gen.Evidence)
	}
	citations := state.citations
	if len(gen.Citations) > 0 {
		citations = headCitations(gen.Citations)
	}
	meta.Confidence = gen.Confidence
	meta.Ambiguity = gen.Ambiguity || (state.quality.Weak && !state.ladderIn.SectionBoost)
	return &domain.QAResponse{
		Data: domain.AnswerData{Answer: gen.Answer, Evidence: evidence, Citations: citations},
		Meta: meta,
	}, nil
}

func headEvidence(items []domain.Evidence) []domain.Evidence {
	if len(items) > maxEvidenceItems {
		return items[:maxEvidenceItems]
	}
	return items
}

func headCitations(items []domain.Citation) []domain.Citation {
	if len(items) > maxEvidenceItems {
		return items[:maxEvidenceItems]
	}
	return items
}

type noopObserver struct{}

func (noopObserver) ObserveRetrievalCall(string, int, error)            {}
func (noopObserver) ObserveAnswer(domain.RetryReason, bool, float64) {}
