package usecase

import (
	"regexp"
	"strings"
)

const (
	maxExpandedKeywords     = 14
	expandedQueryKeywords   = 8
	broadenedQueryKeywords  = 4
	rewriteQueryTokenBudget = 6
)

var stopwords = map[string]struct{}{
	"그리고": {}, "하지만": {}, "그러나": {}, "또한": {}, "대한": {}, "관련": {}, "위해": {},
	"에서": {}, "으로": {}, "에게": {}, "저는": {}, "제가": {}, "그냥": {}, "정리": {},
	"what": {}, "how": {}, "why": {}, "when": {}, "where": {}, "which": {},
	"about": {}, "with": {}, "from": {}, "into": {}, "that": {}, "this": {},
}

// relatedTerms is a fixed fan-out table used only to widen retrieval recall.
var relatedTerms = map[string][]string{
	"ai":    {"인공지능", "llm", "rag"},
	"인공지능":  {"ai", "llm", "rag"},
	"llm":   {"대형언어모델", "ai", "rag"},
	"rag":   {"검색증강생성", "retrieval", "llm"},
	"프론트엔드": {"frontend", "react", "상태관리"},
	"react": {"프론트엔드", "상태관리"},
	"스타트업":  {"pmf", "투자", "전략"},
	"pmf":   {"product market fit", "스타트업"},
	"상태관리":  {"state", "react", "store"},
}

var coreConceptTerms = []string{"핵심", "개념", "요약"}

var rewritePunctuation = regexp.MustCompile(`[?.,!]`)

// QueryPlan holds every query variant derived from one question.
type QueryPlan struct {
	Question         string
	Keywords         []string
	ExpandedKeywords []string
	Expanded         string
	Broadened        string
}

func ExpandQuery(question string) QueryPlan {
	keywords := ExtractKeywords(question, 3, 6)
	expanded := ExpandKeywords(keywords)
	return QueryPlan{
		Question:         question,
		Keywords:         keywords,
		ExpandedKeywords: expanded,
		Expanded:         BuildExpandedQuery(question, expanded),
		Broadened:        BuildBroadenedQuery(expanded),
	}
}

// ExtractKeywords returns up to maxCount distinct non-stopword tokens. When fewer
// than minCount remain, stopword tokens are appended in question order.
func ExtractKeywords(question string, minCount, maxCount int) []string {
	tokens := tokenize(question)
	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := stopwords[token]; ok {
			continue
		}
		filtered = append(filtered, token)
	}

	keywords := uniqueStrings(filtered)
	if len(keywords) < minCount {
		keywords = uniqueStrings(append(keywords, tokens...))
	}
	return headStrings(keywords, maxCount)
}

func ExpandKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords)*2)
	out = append(out, keywords...)
	for _, keyword := range keywords {
		out = append(out, relatedTerms[keyword]...)
	}
	return headStrings(uniqueStrings(out), maxExpandedKeywords)
}

func BuildExpandedQuery(question string, expandedKeywords []string) string {
	parts := headStrings(expandedKeywords, expandedQueryKeywords)
	return strings.TrimSpace(question + " " + strings.Join(parts, " "))
}

// BuildBroadenedQuery is the last-resort widening query. It deliberately omits
// the literal question.
func BuildBroadenedQuery(expandedKeywords []string) string {
	parts := append([]string{}, headStrings(expandedKeywords, broadenedQueryKeywords)...)
	parts = append(parts, coreConceptTerms...)
	return strings.Join(parts, " ")
}

// RewriteQuery is the mechanical rewrite used by the optional extra retrieval call.
func RewriteQuery(question string) string {
	cleaned := strings.Fields(rewritePunctuation.ReplaceAllString(question, " "))
	kept := make([]string, 0, rewriteQueryTokenBudget)
	for _, token := range cleaned {
		if len([]rune(token)) <= 1 {
			continue
		}
		kept = append(kept, token)
		if len(kept) == rewriteQueryTokenBudget {
			break
		}
	}
	return strings.Join(kept, " ")
}

func headStrings(values []string, n int) []string {
	if n < 0 {
		n = 0
	}
	if len(values) <= n {
		return values
	}
	return values[:n]
}
