package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

const testQuestion = "react 상태관리 전략 알려줘"

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
	input  string
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.calls++
	f.input = text
	return f.vector, f.err
}

type fakeIndex struct {
	mu      sync.Mutex
	rows    []domain.CandidateChunk
	err     error
	queries []domain.HybridQuery
}

func (f *fakeIndex) SearchHybrid(_ context.Context, q domain.HybridQuery) ([]domain.CandidateChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.CandidateChunk, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeIndex) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.queries))
	for _, q := range f.queries {
		out = append(out, q.Text)
	}
	return out
}

func strongRows() []domain.CandidateChunk {
	return []domain.CandidateChunk{
		{ID: "c1", DocumentID: "doc-1", Title: "React 가이드", Content: "react 상태관리 전략 정리", FusedScore: 0.85},
		{ID: "c2", DocumentID: "doc-2", Title: "상태관리 노트", Content: "react 상태관리 전략 비교", FusedScore: 0.8},
		{ID: "c3", DocumentID: "doc-3", Title: "전략 메모", Content: "react 전략", FusedScore: 0.75},
	}
}

func withFused(rows []domain.CandidateChunk, scores ...float64) []domain.CandidateChunk {
	for i := range rows {
		rows[i].FusedScore = scores[i]
	}
	return rows
}

func newTestUseCase(embedder *fakeEmbedder, index *fakeIndex, completer *fakeCompleter, opts QAOptions) *QAUseCase {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewQAUseCase(embedder, index, completer, opts, logger, nil)
}

func TestAskNormalPath(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2}}
	index := &fakeIndex{rows: strongRows()}
	completer := &fakeCompleter{raw: validGenerationJSON}
	uc := newTestUseCase(embedder, index, completer, DefaultQAOptions())

	resp, err := uc.Ask(context.Background(), domain.QARequest{Question: "  " + testQuestion + " ", RequestID: "req-1"})
	require.NoError(t, err)

	assert.Equal(t, testQuestion, embedder.input)
	assert.Equal(t, 1, completer.calls)
	assert.Len(t, index.queries, 2, "strong context must not trigger widening")
	assert.ElementsMatch(t, []string{testQuestion, ExpandQuery(testQuestion).Expanded}, index.texts())
	for _, q := range index.queries {
		assert.Equal(t, 28, q.CandidateCount)
		assert.InDelta(t, 0.74, q.VectorWeight, 1e-9)
		assert.InDelta(t, 0.26, q.LexicalWeight, 1e-9)
	}
	assert.Contains(t, completer.last.Prompt, "[ID:1] key=doc-1")

	assert.Equal(t, "req-1", resp.Meta.RequestID)
	assert.Equal(t, "test-model", resp.Meta.ModelUsed)
	assert.False(t, resp.Meta.FallbackUsed)
	assert.Equal(t, domain.RetryReasonNone, resp.Meta.RetryReason)
	assert.InDelta(t, 0.82, resp.Meta.Confidence, 1e-9)
	assert.False(t, resp.Meta.Ambiguity)
	assert.True(t, HasParagraphAttribution(resp.Data.Answer))
	require.Len(t, resp.Data.Evidence, 1)
	assert.Equal(t, "s1", resp.Data.Evidence[0].SegmentID)
	assert.Empty(t, resp.Data.Code)
}

func TestAskNormalPathFallsBackToRetrievalEvidence(t *testing.T) {
	raw := `{"answer":"요약 (출처: React 가이드)","evidence":[],"citations":[],"confidence":0.7,"ambiguity":true}`
	uc := newTestUseCase(&fakeEmbedder{vector: []float32{1}}, &fakeIndex{rows: strongRows()}, &fakeCompleter{raw: raw}, DefaultQAOptions())

	resp, err := uc.Ask(context.Background(), domain.QARequest{Question: testQuestion})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Meta.RequestID)
	assert.True(t, resp.Meta.Ambiguity)
	require.Len(t, resp.Data.Evidence, 3)
	assert.Equal(t, "doc-1", resp.Data.Evidence[0].ID)
	require.Len(t, resp.Data.Citations, 3)
	assert.Equal(t, "React 가이드", resp.Data.Citations[0].Title)
}

func TestAskRejectsShortQuestion(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{1}}
	uc := newTestUseCase(embedder, &fakeIndex{}, &fakeCompleter{}, DefaultQAOptions())

	_, err := uc.Ask(context.Background(), domain.QARequest{Question: " a "})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
	assert.Zero(t, embedder.calls)
}

func TestAskEmbeddingFailureReturnsEmptyEvidence(t *testing.T) {
	for name, embedder := range map[string]*fakeEmbedder{
		"error":  {err: errors.New("provider down")},
		"vector": {vector: nil},
	} {
		t.Run(name, func(t *testing.T) {
			index := &fakeIndex{rows: strongRows()}
			completer := &fakeCompleter{raw: validGenerationJSON}
			uc := newTestUseCase(embedder, index, completer, DefaultQAOptions())

			resp, err := uc.Ask(context.Background(), domain.QARequest{Question: testQuestion})
			require.NoError(t, err)
			assert.Equal(t, domain.RetryReasonRetrievalUnavailable, resp.Meta.RetryReason)
			assert.True(t, resp.Meta.FallbackUsed)
			assert.InDelta(t, 0.3, resp.Meta.Confidence, 1e-9)
			assert.Equal(t, domain.CodeDegradedEvidenceOnly, resp.Data.Code)
			assert.NotNil(t, resp.Data.Evidence)
			assert.Empty(t, resp.Data.Evidence)
			assert.Empty(t, index.queries)
			assert.Zero(t, completer.calls)
		})
	}
}

func TestAskTopicMismatchReturnsGuide(t *testing.T) {
	rows := []domain.CandidateChunk{
		{ID: "k1", DocumentID: "doc-k", Title: "Kubernetes 운영", Content: "cluster autoscaling", FusedScore: 0.95},
		{ID: "k2", DocumentID: "doc-g", Title: "Go 동시성", Content: "goroutine channel", FusedScore: 0.94},
		{ID: "k3", DocumentID: "doc-c", Title: "요리", Content: "김치찌개 레시피", FusedScore: 0.93},
	}
	completer := &fakeCompleter{raw: validGenerationJSON}
	uc := newTestUseCase(&fakeEmbedder{vector: []float32{1}}, &fakeIndex{rows: rows}, completer, DefaultQAOptions())

	resp, err := uc.Ask(context.Background(), domain.QARequest{Question: testQuestion})
	require.NoError(t, err)
	assert.Equal(t, domain.RetryReasonTopicMismatch, resp.Meta.RetryReason)
	assert.True(t, resp.Meta.FallbackUsed)
	assert.InDelta(t, 0.35, resp.Meta.Confidence, 1e-9)
	assert.Contains(t, resp.Data.Answer, `"Kubernetes 운영", "Go 동시성", "요리"`)
	assert.Len(t, resp.Data.Evidence, 3)
	assert.Len(t, resp.Data.Citations, 3)
	assert.Zero(t, completer.calls)
}

func TestAskWidensAndReportsInsufficientContext(t *testing.T) {
	index := &fakeIndex{rows: withFused(strongRows(), 0.4, 0.4, 0.4)}
	completer := &fakeCompleter{raw: validGenerationJSON}
	uc := newTestUseCase(&fakeEmbedder{vector: []float32{1}}, index, completer, DefaultQAOptions())

	resp, err := uc.Ask(context.Background(), domain.QARequest{Question: testQuestion})
	require.NoError(t, err)

	texts := index.texts()
	require.Len(t, texts, 3)
	assert.Equal(t, ExpandQuery(testQuestion).Broadened, texts[2], "broadened call must come last")
	assert.Equal(t, domain.RetryReasonInsufficientContext, resp.Meta.RetryReason)
	assert.True(t, resp.Meta.FallbackUsed)
	assert.True(t, strings.HasPrefix(resp.Data.Answer, "핵심 요약:\n"))
	assert.Len(t, resp.Data.Evidence, 3)
	assert.Zero(t, completer.calls)
}

func TestAskEvidenceBelowMinimumIsInsufficient(t *testing.T) {
	opts := DefaultQAOptions()
	opts.Thresholds.MinEvidence = 4
	completer := &fakeCompleter{raw: validGenerationJSON}
	uc := newTestUseCase(&fakeEmbedder{vector: []float32{1}}, &fakeIndex{rows: strongRows()}, completer, opts)

	resp, err := uc.Ask(context.Background(), domain.QARequest{Question: testQuestion})
	require.NoError(t, err)
	assert.Equal(t, domain.RetryReasonInsufficientContext, resp.Meta.RetryReason)
	assert.Len(t, resp.Data.Evidence, 3)
	assert.Zero(t, completer.calls)
}

func TestAskUpstreamFailureReturnsEvidenceOnly(t *testing.T) {
	completer := &fakeCompleter{err: domain.WrapError(domain.ErrTemporary, "complete", errors.New("503"))}
	uc := newTestUseCase(&fakeEmbedder{vector: []float32{1}}, &fakeIndex{rows: strongRows()}, completer, DefaultQAOptions())

	resp, err := uc.Ask(context.Background(), domain.QARequest{Question: testQuestion})
	require.NoError(t, err)
	assert.Equal(t, domain.RetryReasonUpstreamFailed, resp.Meta.RetryReason)
	assert.True(t, resp.Meta.FallbackUsed)
	assert.Equal(t, domain.CodeDegradedEvidenceOnly, resp.Data.Code)
	assert.Empty(t, resp.Data.Answer)
	assert.Len(t, resp.Data.Evidence, 3)
	assert.NotNil(t, resp.Data.Citations)
	assert.Empty(t, resp.Data.Citations)
}

func TestAskMalformedGenerationIsUpstreamFailure(t *testing.T) {
	completer := &fakeCompleter{raw: `{"answer":"요약 (출처: 문서)"}`}
	uc := newTestUseCase(&fakeEmbedder{vector: []float32{1}}, &fakeIndex{rows: strongRows()}, completer, DefaultQAOptions())

	resp, err := uc.Ask(context.Background(), domain.QARequest{Question: testQuestion})
	require.NoError(t, err)
	assert.Equal(t, domain.RetryReasonUpstreamFailed, resp.Meta.RetryReason)
}

func TestAskMissingAttributionIsCitationFailure(t *testing.T) {
	raw := `{"answer":"요약 (출처: 문서)\n\n출처 없는 문단","evidence":[],"citations":[],"confidence":0.9,"ambiguity":false}`
	uc := newTestUseCase(&fakeEmbedder{vector: []float32{1}}, &fakeIndex{rows: strongRows()}, &fakeCompleter{raw: raw}, DefaultQAOptions())

	resp, err := uc.Ask(context.Background(), domain.QARequest{Question: testQuestion})
	require.NoError(t, err)
	assert.Equal(t, domain.RetryReasonCitationMissing, resp.Meta.RetryReason)
	assert.True(t, resp.Meta.FallbackUsed)
	assert.Empty(t, resp.Data.Answer)
	assert.Len(t, resp.Data.Evidence, 3)
}

func TestAskRetrievalFailureIsNotFatal(t *testing.T) {
	index := &fakeIndex{err: errors.New("connection refused")}
	uc := newTestUseCase(&fakeEmbedder{vector: []float32{1}}, index, &fakeCompleter{raw: validGenerationJSON}, DefaultQAOptions())

	resp, err := uc.Ask(context.Background(), domain.QARequest{Question: testQuestion})
	require.NoError(t, err)
	assert.Len(t, index.queries, 3)
	assert.Equal(t, domain.RetryReasonTopicMismatch, resp.Meta.RetryReason)
	assert.Empty(t, resp.Data.Evidence)
}

func weakRows() []domain.CandidateChunk {
	return []domain.CandidateChunk{
		{ID: "c1", DocumentID: "doc-1", SegmentID: "s1", Title: "React 가이드", Content: "react 상태관리 전략 정리", FusedScore: 0.75},
		{ID: "c2", DocumentID: "doc-1", SegmentID: "s1", Title: "상태관리 노트", Content: "react 상태관리 전략 비교", FusedScore: 0.6},
		{ID: "c3", DocumentID: "doc-3", Title: "전략 메모", Content: "react", FusedScore: 0.5},
	}
}

func TestAskWeakContextPolicies(t *testing.T) {
	opts := DefaultQAOptions()
	opts.WeakContextPolicy = WeakContextAbstain
	completer := &fakeCompleter{raw: validGenerationJSON}
	uc := newTestUseCase(&fakeEmbedder{vector: []float32{1}}, &fakeIndex{rows: weakRows()}, completer, opts)

	resp, err := uc.Ask(context.Background(), domain.QARequest{Question: testQuestion})
	require.NoError(t, err)
	assert.Equal(t, domain.RetryReasonWeakContext, resp.Meta.RetryReason)
	assert.Equal(t, domain.CodeWeakContext, resp.Data.Code)
	assert.False(t, resp.Meta.FallbackUsed)
	assert.InDelta(t, 0.45, resp.Meta.Confidence, 1e-9)
	assert.Zero(t, completer.calls)

	opts.SectionBoostEnabled = true
	uc = newTestUseCase(&fakeEmbedder{vector: []float32{1}}, &fakeIndex{rows: weakRows()}, completer, opts)
	resp, err = uc.Ask(context.Background(), domain.QARequest{Question: testQuestion})
	require.NoError(t, err)
	assert.Equal(t, domain.RetryReasonNone, resp.Meta.RetryReason)
	assert.False(t, resp.Meta.Ambiguity)
	assert.Equal(t, 1, completer.calls)

	opts = DefaultQAOptions()
	uc = newTestUseCase(&fakeEmbedder{vector: []float32{1}}, &fakeIndex{rows: weakRows()}, completer, opts)
	resp, err = uc.Ask(context.Background(), domain.QARequest{Question: testQuestion})
	require.NoError(t, err)
	assert.Equal(t, domain.RetryReasonNone, resp.Meta.RetryReason)
	assert.True(t, resp.Meta.Ambiguity, "weak answers are flagged ambiguous")
}

func TestAskEmbeddingInputIsCapped(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("skip")}
	uc := newTestUseCase(embedder, &fakeIndex{}, &fakeCompleter{}, DefaultQAOptions())

	_, err := uc.Ask(context.Background(), domain.QARequest{Question: strings.Repeat("가", 5000)})
	require.NoError(t, err)
	assert.Equal(t, maxEmbeddingRunes, len([]rune(embedder.input)))
}
