package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
)

const (
	generationSchemaName = "qa_result"
	promptContentRunes   = 1000
)

var (
	paragraphSeparator  = regexp.MustCompile(`\n{2,}`)
	attributionSuffix   = regexp.MustCompile(`\(출처:\s*[^)]+\)$`)
	errMalformedPayload = errors.New("malformed generation payload")
)

// GenerationSchema is the JSON schema the completion service must satisfy.
func GenerationSchema() map[string]any {
	str := map[string]any{"type": "string"}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": true,
		"properties": map[string]any{
			"answer": str,
			"evidence": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": true,
					"properties": map[string]any{
						"id": str, "title": str, "snippet": str, "segmentId": str,
					},
					"required": []string{"id", "title", "snippet"},
				},
			},
			"citations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": true,
					"properties": map[string]any{
						"id": str, "title": str, "quote": str,
					},
					"required": []string{"id", "title", "quote"},
				},
			},
			"confidence": map[string]any{"type": "number"},
			"ambiguity":  map[string]any{"type": "boolean"},
		},
		"required": []string{"answer", "evidence", "citations", "confidence", "ambiguity"},
	}
}

// BuildCitationPrompt renders the grounded-answer instructions and the numbered
// context block for the generation shortlist.
func BuildCitationPrompt(question string, candidates []domain.RerankedCandidate) string {
	blocks := make([]string, 0, len(candidates))
	for i, c := range candidates {
		title := c.Title
		if title == "" {
			title = "-"
		}
		blocks = append(blocks, fmt.Sprintf("[ID:%d] key=%s\nTITLE: %s\nCONTENT: %s",
			i+1, c.DocumentID, title, truncateRunes(c.Content, promptContentRunes)))
	}
	contextBlock := strings.Join(blocks, "\n\n")
	if contextBlock == "" {
		contextBlock = "(empty)"
	}

	keywords := ExtractKeywords(question, 3, 6)
	expanded := ExpandKeywords(keywords)

	lines := []string{
		"당신은 개인 지식 베이스의 근거 기반 RAG 답변기입니다. 반드시 JSON으로만 답하십시오.",
		"",
		"출력 스키마:",
		"- answer: string",
		"- evidence: [{id,title,snippet,segmentId?}]",
		"- citations: [{id,title,quote}]",
		"- confidence: number(0~1)",
		"- ambiguity: boolean",
		"",
		"강제 규칙:",
		"1) 답변 형식은 반드시 아래 4개 섹션을 고정한다: 핵심 요약 / 저장된 지식 기반 분석 / 실행 관점 정리 / 추가 통찰.",
		"2) 각 주요 문단 끝에는 반드시 (출처: 문서명) 형식으로 근거를 붙인다.",
		"3) 근거가 약하면 임의추론하지 말고 \"해석\"이라고 명시한다.",
		"4) 문서가 약하게 연결되어도 2개 이상이면 weak_context 요약을 시도한다.",
		"5) evidence/citations는 실제 사용한 context에서만 뽑고, citations.quote는 짧은 인용문이어야 한다.",
		"6) 답변 길이는 최소 500자 이상, 평균 1000자 수준의 밀도를 유지한다.",
		"",
		"question keywords: " + joinOrNone(keywords),
		"expanded keywords: " + joinOrNone(expanded),
		"question:\n" + question,
		"",
		"context:\n" + contextBlock,
	}
	return strings.Join(lines, "\n")
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "(none)"
	}
	return strings.Join(values, ", ")
}

// HasParagraphAttribution reports whether every non-empty paragraph of answer
// ends with a source attribution. An empty answer fails.
func HasParagraphAttribution(answer string) bool {
	answer = strings.ReplaceAll(answer, "\r\n", "\n")
	paragraphs := 0
	for _, p := range paragraphSeparator.Split(answer, -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		paragraphs++
		if !attributionSuffix.MatchString(p) {
			return false
		}
	}
	return paragraphs > 0
}

type rawEvidence struct {
	ID        *string `json:"id"`
	Title     *string `json:"title"`
	Snippet   *string `json:"snippet"`
	SegmentID string  `json:"segmentId"`
}

type rawCitation struct {
	ID    *string `json:"id"`
	Title *string `json:"title"`
	Quote *string `json:"quote"`
}

type rawGeneration struct {
	Answer     *string        `json:"answer"`
	Evidence   *[]rawEvidence `json:"evidence"`
	Citations  *[]rawCitation `json:"citations"`
	Confidence *float64       `json:"confidence"`
	Ambiguity  *bool          `json:"ambiguity"`
}

// ParseGeneration validates the completion payload shape. Any missing field or
// wrong type is reported as a malformed payload.
func ParseGeneration(raw string) (domain.Generation, error) {
	var payload rawGeneration
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		return domain.Generation{}, fmt.Errorf("%w: %v", errMalformedPayload, err)
	}
	switch {
	case payload.Answer == nil:
		return domain.Generation{}, fmt.Errorf("%w: answer missing", errMalformedPayload)
	case payload.Evidence == nil:
		return domain.Generation{}, fmt.Errorf("%w: evidence missing", errMalformedPayload)
	case payload.Citations == nil:
		return domain.Generation{}, fmt.Errorf("%w: citations missing", errMalformedPayload)
	case payload.Confidence == nil:
		return domain.Generation{}, fmt.Errorf("%w: confidence missing", errMalformedPayload)
	case payload.Ambiguity == nil:
		return domain.Generation{}, fmt.Errorf("%w: ambiguity missing", errMalformedPayload)
	}

	confidence := *payload.Confidence
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return domain.Generation{}, fmt.Errorf("%w: confidence %v out of range", errMalformedPayload, confidence)
	}

	evidence := make([]domain.Evidence, 0, len(*payload.Evidence))
	for i, item := range *payload.Evidence {
		if item.ID == nil || item.Title == nil || item.Snippet == nil {
			return domain.Generation{}, fmt.Errorf("%w: evidence[%d] incomplete", errMalformedPayload, i)
		}
		evidence = append(evidence, domain.Evidence{
			ID: *item.ID, Title: *item.Title, Snippet: *item.Snippet, SegmentID: item.SegmentID,
		})
	}

	citations := make([]domain.Citation, 0, len(*payload.Citations))
	for i, item := range *payload.Citations {
		if item.ID == nil || item.Title == nil || item.Quote == nil {
			return domain.Generation{}, fmt.Errorf("%w: citations[%d] incomplete", errMalformedPayload, i)
		}
		citations = append(citations, domain.Citation{ID: *item.ID, Title: *item.Title, Quote: *item.Quote})
	}

	return domain.Generation{
		Answer:     *payload.Answer,
		Evidence:   evidence,
		Citations:  citations,
		Confidence: confidence,
		Ambiguity:  *payload.Ambiguity,
	}, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

// GenerationAdapter sends the citation prompt to the completion service and
// validates the returned payload shape.
type GenerationAdapter struct {
	completer ports.Completer
}

func NewGenerationAdapter(completer ports.Completer) *GenerationAdapter {
	return &GenerationAdapter{completer: completer}
}

func (a *GenerationAdapter) Model() string {
	return a.completer.Model()
}

func (a *GenerationAdapter) Generate(ctx context.Context, question string, shortlist []domain.RerankedCandidate) (domain.Generation, error) {
	raw, err := a.completer.CompleteJSON(ctx, domain.CompletionRequest{
		Prompt:     BuildCitationPrompt(question, shortlist),
		SchemaName: generationSchemaName,
		Schema:     GenerationSchema(),
	})
	if err != nil {
		return domain.Generation{}, domain.WrapError(domain.ErrUpstream, "complete answer", err)
	}
	generation, err := ParseGeneration(raw)
	if err != nil {
		return domain.Generation{}, domain.WrapError(domain.ErrUpstream, "parse answer", err)
	}
	return generation, nil
}
