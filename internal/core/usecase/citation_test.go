package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

const validGenerationJSON = `{
  "answer": "핵심 요약:\n요약 (출처: React 가이드)\n\n저장된 지식 기반 분석:\n분석 (출처: React 가이드)",
  "evidence": [{"id": "doc-1", "title": "React 가이드", "snippet": "react", "segmentId": "s1"}],
  "citations": [{"id": "doc-1", "title": "React 가이드", "quote": "react"}],
  "confidence": 0.82,
  "ambiguity": false
}`

func TestHasParagraphAttributionIsAllOrNothing(t *testing.T) {
	attributed := []string{
		"핵심 요약:\n하나 (출처: 문서A)",
		"저장된 지식 기반 분석:\n둘 (출처: 문서B)",
		"실행 관점 정리:\n셋 (출처:문서C)",
		"추가 통찰:\n넷 (출처: 문서D)",
		"다섯 (출처: 문서E)",
	}
	assert.True(t, HasParagraphAttribution(strings.Join(attributed, "\n\n")))

	withGap := append(append([]string{}, attributed...), "출처가 없는 문단")
	assert.False(t, HasParagraphAttribution(strings.Join(withGap, "\n\n")))
}

func TestHasParagraphAttributionEdgeCases(t *testing.T) {
	assert.False(t, HasParagraphAttribution(""))
	assert.False(t, HasParagraphAttribution("  \n\n \n\n"))
	assert.False(t, HasParagraphAttribution("문단 (출처:)"))
	assert.False(t, HasParagraphAttribution("문단 (출처: 문서A) 뒤에 텍스트"))
	assert.True(t, HasParagraphAttribution("하나 (출처: 문서A)\r\n\r\n둘 (출처: 문서B)  "))
	assert.True(t, HasParagraphAttribution("하나 (출처: 문서A)\n\n\n\n둘 (출처: 문서B)"))
}

func TestParseGenerationAcceptsValidPayload(t *testing.T) {
	gen, err := ParseGeneration("```json\n" + validGenerationJSON + "\n```")
	require.NoError(t, err)
	assert.InDelta(t, 0.82, gen.Confidence, 1e-9)
	assert.False(t, gen.Ambiguity)
	require.Len(t, gen.Evidence, 1)
	assert.Equal(t, "s1", gen.Evidence[0].SegmentID)
	require.Len(t, gen.Citations, 1)
	assert.True(t, HasParagraphAttribution(gen.Answer))
}

func TestParseGenerationRejectsMalformedPayloads(t *testing.T) {
	tests := map[string]string{
		"not json":           "model refused",
		"missing answer":     `{"evidence":[],"citations":[],"confidence":0.5,"ambiguity":false}`,
		"answer wrong type":  `{"answer":1,"evidence":[],"citations":[],"confidence":0.5,"ambiguity":false}`,
		"null evidence":      `{"answer":"a","evidence":null,"citations":[],"confidence":0.5,"ambiguity":false}`,
		"missing citations":  `{"answer":"a","evidence":[],"confidence":0.5,"ambiguity":false}`,
		"missing confidence": `{"answer":"a","evidence":[],"citations":[],"ambiguity":false}`,
		"missing ambiguity":  `{"answer":"a","evidence":[],"citations":[],"confidence":0.5}`,
		"confidence range":   `{"answer":"a","evidence":[],"citations":[],"confidence":1.5,"ambiguity":false}`,
		"incomplete item":    `{"answer":"a","evidence":[{"id":"x","title":"t"}],"citations":[],"confidence":0.5,"ambiguity":false}`,
		"incomplete quote":   `{"answer":"a","evidence":[],"citations":[{"id":"x","title":"t"}],"confidence":0.5,"ambiguity":false}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGeneration(raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, errMalformedPayload)
		})
	}
}

func TestBuildCitationPromptRendersContext(t *testing.T) {
	candidates := docs([2]string{"React 가이드", strings.Repeat("r", 1200)}, [2]string{"", "짧은 내용"})
	candidates[0].DocumentID = "doc-1"
	candidates[1].DocumentID = "doc-2"

	prompt := BuildCitationPrompt("react 상태관리 방법", candidates)
	assert.Contains(t, prompt, "[ID:1] key=doc-1\nTITLE: React 가이드\nCONTENT: "+strings.Repeat("r", 1000)+"\n\n[ID:2]")
	assert.NotContains(t, prompt, strings.Repeat("r", 1001))
	assert.Contains(t, prompt, "[ID:2] key=doc-2\nTITLE: -\nCONTENT: 짧은 내용")
	assert.Contains(t, prompt, "question keywords: react, 상태관리, 방법")
	assert.Contains(t, prompt, "expanded keywords: react, 상태관리, 방법, 프론트엔드, state, store")
	assert.Contains(t, prompt, "핵심 요약 / 저장된 지식 기반 분석 / 실행 관점 정리 / 추가 통찰")
	assert.Contains(t, prompt, "(출처: 문서명)")

	empty := BuildCitationPrompt("?!", nil)
	assert.Contains(t, empty, "context:\n(empty)")
	assert.Contains(t, empty, "question keywords: (none)")
}

type fakeCompleter struct {
	raw   string
	err   error
	calls int
	last  domain.CompletionRequest
}

func (f *fakeCompleter) CompleteJSON(_ context.Context, req domain.CompletionRequest) (string, error) {
	f.calls++
	f.last = req
	return f.raw, f.err
}

func (f *fakeCompleter) Model() string { return "test-model" }

func TestGenerationAdapterWrapsFailuresAsUpstream(t *testing.T) {
	adapter := NewGenerationAdapter(&fakeCompleter{err: errors.New("boom")})
	_, err := adapter.Generate(context.Background(), "question", nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrUpstream))

	adapter = NewGenerationAdapter(&fakeCompleter{raw: `{"answer":"x"}`})
	_, err = adapter.Generate(context.Background(), "question", nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrUpstream))
}

func TestGenerationAdapterSendsSchema(t *testing.T) {
	completer := &fakeCompleter{raw: validGenerationJSON}
	gen, err := NewGenerationAdapter(completer).Generate(context.Background(), "react 상태관리", nil)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", gen.Evidence[0].ID)
	assert.Equal(t, "qa_result", completer.last.SchemaName)
	assert.Equal(t, []string{"answer", "evidence", "citations", "confidence", "ambiguity"}, completer.last.Schema["required"])
}
