package domain

type RetryReason string

const (
	RetryReasonNone                 RetryReason = ""
	RetryReasonRetrievalUnavailable RetryReason = "retrieval_unavailable"
	RetryReasonTopicMismatch        RetryReason = "topic_mismatch"
	RetryReasonInsufficientContext  RetryReason = "insufficient_context_after_multisearch"
	RetryReasonWeakContext          RetryReason = "weak_context"
	RetryReasonUpstreamFailed       RetryReason = "upstream_failed"
	RetryReasonCitationMissing      RetryReason = "citation_missing"
)

const (
	CodeDegradedEvidenceOnly = "DEGRADED_EVIDENCE_ONLY"
	CodeWeakContext          = "WEAK_CONTEXT"
)

type QARequest struct {
	Question  string `json:"question"`
	RequestID string `json:"-"`
	CallerID  string `json:"-"`
}

type Evidence struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	SegmentID string `json:"segmentId,omitempty"`
}

type Citation struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Quote string `json:"quote"`
}

// Generation is a completion payload that passed shape validation.
type Generation struct {
	Answer     string     `json:"answer"`
	Evidence   []Evidence `json:"evidence"`
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"`
	Ambiguity  bool       `json:"ambiguity"`
}

type AnswerData struct {
	Answer    string     `json:"answer"`
	Evidence  []Evidence `json:"evidence"`
	Citations []Citation `json:"citations"`
	Code      string     `json:"code,omitempty"`
	Message   string     `json:"message,omitempty"`
}

type ResponseMeta struct {
	RequestID    string      `json:"requestId"`
	ModelUsed    string      `json:"modelUsed"`
	FallbackUsed bool        `json:"fallbackUsed"`
	Confidence   float64     `json:"confidence"`
	Ambiguity    bool        `json:"ambiguity"`
	RetryReason  RetryReason `json:"retryReason,omitempty"`
	LatencyMs    int64       `json:"latencyMs"`
}

// QAResponse is the 200-level envelope returned for every answerable request,
// degraded or not.
type QAResponse struct {
	Data AnswerData   `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}
