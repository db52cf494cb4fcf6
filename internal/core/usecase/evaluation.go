package usecase

import "github.com/kirillkom/knowledge-qa/internal/core/domain"

type Expectation string

const (
	ExpectShouldAnswer Expectation = "should_answer"
	ExpectWeakOrRefuse Expectation = "weak_or_refuse"
	ExpectMustRefuse   Expectation = "must_refuse"
)

type EvalMode string

const (
	EvalModeNormal      EvalMode = "normal"
	EvalModeRefusal     EvalMode = "refusal"
	EvalModeWeakContext EvalMode = "weak_context"
	EvalModeDegraded    EvalMode = "degraded"
)

// EvalScenario is a synthetic retrieval outcome used to check gating behavior
// offline, without any collaborator calls.
type EvalScenario struct {
	ID            int         `yaml:"id"`
	Description   string      `yaml:"description"`
	Expectation   Expectation `yaml:"expectation"`
	RerankScores  []float64   `yaml:"rerank_scores"`
	EvidenceCount int         `yaml:"evidence_count"`
	CitationOK    bool        `yaml:"citation_ok"`
	SectionBoost  bool        `yaml:"same_doc_section_boost"`
}

type EvalResult struct {
	Scenario      EvalScenario
	Mode          EvalMode
	Quality       domain.ContextQuality
	Hallucination bool
}

// Evaluate classifies a scenario the way the runtime ladder would if every
// weak context were abstained from.
func Evaluate(s EvalScenario, th Thresholds) EvalResult {
	candidates := make([]domain.RerankedCandidate, 0, len(s.RerankScores))
	for _, score := range s.RerankScores {
		candidates = append(candidates, domain.RerankedCandidate{RerankScore: score})
	}
	quality := AssessContext(candidates, th)

	mode := EvalModeNormal
	switch {
	case s.EvidenceCount < th.MinEvidence || quality.Insufficient:
		mode = EvalModeRefusal
	case quality.Weak && !s.SectionBoost:
		mode = EvalModeWeakContext
	case !s.CitationOK:
		mode = EvalModeDegraded
	}

	hallucination := mode == EvalModeNormal &&
		(s.Expectation == ExpectMustRefuse ||
			(s.Expectation == ExpectWeakOrRefuse && quality.Top3Avg < th.Answerable))

	return EvalResult{Scenario: s, Mode: mode, Quality: quality, Hallucination: hallucination}
}

type EvalSummary struct {
	Results        []EvalResult
	ModeCounts     map[EvalMode]int
	Hallucinations int
}

func EvaluateAll(scenarios []EvalScenario, th Thresholds) EvalSummary {
	summary := EvalSummary{
		Results:    make([]EvalResult, 0, len(scenarios)),
		ModeCounts: map[EvalMode]int{},
	}
	for _, s := range scenarios {
		r := Evaluate(s, th)
		summary.Results = append(summary.Results, r)
		summary.ModeCounts[r.Mode]++
		if r.Hallucination {
			summary.Hallucinations++
		}
	}
	return summary
}

// ModeRatio returns the percentage of results in mode.
func (s EvalSummary) ModeRatio(mode EvalMode) float64 {
	if len(s.Results) == 0 {
		return 0
	}
	return float64(s.ModeCounts[mode]) / float64(len(s.Results)) * 100
}

func DefaultEvalScenarios() []EvalScenario {
	return []EvalScenario{
		{ID: 1, Description: "정확히 존재하는 노트 기반 질문", Expectation: ExpectShouldAnswer,
			RerankScores: []float64{0.88, 0.83, 0.79, 0.72}, EvidenceCount: 3, CitationOK: true},
		{ID: 2, Description: "부분적으로만 존재하는 질문", Expectation: ExpectWeakOrRefuse,
			RerankScores: []float64{0.74, 0.64, 0.61, 0.52}, EvidenceCount: 2, CitationOK: true, SectionBoost: true},
		{ID: 3, Description: "비슷하지만 실제로는 없는 질문", Expectation: ExpectWeakOrRefuse,
			RerankScores: []float64{0.69, 0.66, 0.64, 0.57}, EvidenceCount: 2, CitationOK: true},
		{ID: 4, Description: "완전히 존재하지 않는 질문", Expectation: ExpectMustRefuse,
			RerankScores: []float64{0.42, 0.3, 0.21}, EvidenceCount: 0},
		{ID: 5, Description: "키워드가 애매한 질문", Expectation: ExpectWeakOrRefuse,
			RerankScores: []float64{0.71, 0.67, 0.64, 0.58}, EvidenceCount: 2, CitationOK: true, SectionBoost: true},
		{ID: 6, Description: "노트에 단어는 있지만 의미는 다른 질문", Expectation: ExpectMustRefuse,
			RerankScores: []float64{0.69, 0.63, 0.57, 0.55}, EvidenceCount: 2, CitationOK: true},
	}
}
