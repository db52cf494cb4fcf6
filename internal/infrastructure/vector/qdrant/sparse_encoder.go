package qdrant

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"
)

type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

const (
	queryBM25K     = 1.2
	maxSparseTerms = 256
)

// encodeSparseQuery must hash tokens the same way the ingestion side did,
// otherwise sparse hits silently vanish.
func encodeSparseQuery(query string) sparseVector {
	termFreq := make(map[uint32]float64, 32)
	for _, token := range tokenizeTerms(query) {
		termFreq[hashToken(token)]++
	}
	return termFreqToSparse(termFreq, queryBM25K)
}

func termFreqToSparse(tf map[uint32]float64, k float64) sparseVector {
	if len(tf) == 0 {
		return sparseVector{}
	}
	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	if len(indices) > maxSparseTerms {
		indices = indices[:maxSparseTerms]
	}

	values := make([]float32, 0, len(indices))
	for _, idx := range indices {
		tfValue := tf[idx]
		weight := (tfValue * (k + 1.0)) / (tfValue + k)
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			weight = 0
		}
		values = append(values, float32(weight))
	}

	return sparseVector{Indices: indices, Values: values}
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum32()
	if sum == 0 {
		return 1
	}
	return sum
}

// tokenizeTerms splits on anything that is not an ASCII letter, digit or
// Hangul syllable.
func tokenizeTerms(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || (r >= 0xAC00 && r <= 0xD7A3) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
