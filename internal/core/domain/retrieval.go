package domain

// CandidateChunk is one fragment returned by the hybrid index for a single query variant.
// FusedScore is computed by the index and is never recomputed by the pipeline.
type CandidateChunk struct {
	ID           string  `json:"id"`
	DocumentID   string  `json:"document_id"`
	SegmentID    string  `json:"segment_id,omitempty"`
	Title        string  `json:"title"`
	Content      string  `json:"content"`
	VectorScore  float64 `json:"vector_score"`
	LexicalScore float64 `json:"lexical_score"`
	FusedScore   float64 `json:"final_score"`
}

type RerankedCandidate struct {
	CandidateChunk
	TokenScore  float64 `json:"token_score"`
	RerankScore float64 `json:"rerank_score"`
}

// HybridQuery is a single ranked-search call against the hybrid index.
type HybridQuery struct {
	Text           string
	Embedding      []float32
	CandidateCount int
	VectorWeight   float64
	LexicalWeight  float64
}

type ContextQuality struct {
	Top1         float64 `json:"top1"`
	Top3Avg      float64 `json:"top3_avg"`
	Insufficient bool    `json:"insufficient"`
	Weak         bool    `json:"weak"`
}
