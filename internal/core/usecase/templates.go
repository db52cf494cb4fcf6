package usecase

import (
	"strings"
	"text/template"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

const (
	topicGuideCandidates = 6
	topicGuideMaxTopics  = 3
	defaultTopicName     = "저장 문서 주제"
)

var topicGuideTemplate = template.Must(template.New("topic_guide").Parse(
	`질문 "{{.Question}}"과 직접적으로 맞는 근거는 아직 약합니다.
대신 현재 저장 문서에서 가까운 주제 후보는 {{range $i, $t := .Topics}}{{if $i}}, {{end}}"{{$t}}"{{end}} 입니다.
원하시면 위 주제 중 하나를 지정해 다시 질문해 주세요. 예: "첫 번째 주제로 실행 계획 정리해줘"
(출처: 저장 문서 인덱스)`))

var insufficientContextTemplate = template.Must(template.New("insufficient_context").Parse(
	`핵심 요약:
현재 저장된 지식 범위에서 질문과 직접적으로 맞닿는 근거가 충분하지 않습니다. 다만 완전히 무관하다고 단정하지 않고, 연관 주제 후보를 중심으로 재질문을 권장합니다. (출처: 저장 문서 인덱스)

저장된 지식 기반 분석:
원 질문 + 확장 질문 + 보강 질문까지 다중 검색을 수행했지만 유사도 {{printf "%.2f" .AcceptScore}} 이상 후보가 충분히 모이지 않았습니다. 따라서 지금은 확정형 답변보다 주제 범위를 좁혀 재탐색하는 것이 정확합니다. (출처: 검색 결과 상위 문서)

실행 관점 정리:
- 핵심 키워드를 1~2개 구체화하기
- 관련 문서 1개 이상 추가 저장하기
- 질문을 하위 주제로 분할해 재질문하기 (출처: 검색 결과 상위 문서)

추가 통찰:
해석: 현재 질의는 저장 지식과의 결속도가 낮습니다. 문서가 보강되면 답변 품질이 빠르게 개선될 가능성이 큽니다. (출처: 검색 결과 상위 문서)`))

type topicGuideView struct {
	Question string
	Topics   []string
}

type insufficientContextView struct {
	AcceptScore float64
}

// RenderTopicGuide suggests up to three distinct titles from the top candidates.
func RenderTopicGuide(question string, candidates []domain.RerankedCandidate) (string, error) {
	head := headCandidates(candidates, topicGuideCandidates)
	titles := make([]string, 0, len(head))
	for _, c := range head {
		titles = append(titles, c.Title)
	}
	topics := headStrings(uniqueStrings(titles), topicGuideMaxTopics)
	if len(topics) == 0 {
		topics = []string{defaultTopicName}
	}
	return render(topicGuideTemplate, topicGuideView{Question: question, Topics: topics})
}

func RenderInsufficientContext(acceptScore float64) (string, error) {
	return render(insufficientContextTemplate, insufficientContextView{AcceptScore: acceptScore})
}

func render(tmpl *template.Template, view any) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, view); err != nil {
		return "", err
	}
	return b.String(), nil
}
