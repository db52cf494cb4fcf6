package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

type OutcomeKind string

const (
	OutcomeNormal              OutcomeKind = "normal"
	OutcomeTopicGuide          OutcomeKind = "topic_guide"
	OutcomeInsufficientContext OutcomeKind = "insufficient_context"
	OutcomeWeakContext         OutcomeKind = "weak_context"
	OutcomeEvidenceOnly        OutcomeKind = "evidence_only"
)

// Outcome is the path selected by the degrade ladder.
type Outcome struct {
	Kind   OutcomeKind
	Reason domain.RetryReason
}

// WeakContextPolicy decides what happens to contexts that are answerable but weak.
type WeakContextPolicy string

const (
	WeakContextAnswer  WeakContextPolicy = "answer"
	WeakContextAbstain WeakContextPolicy = "abstain"
)

func ParseWeakContextPolicy(raw string) (WeakContextPolicy, error) {
	switch policy := WeakContextPolicy(strings.ToLower(strings.TrimSpace(raw))); policy {
	case "", WeakContextAnswer:
		return WeakContextAnswer, nil
	case WeakContextAbstain:
		return WeakContextAbstain, nil
	default:
		return "", fmt.Errorf("unknown weak context policy %q", raw)
	}
}

// LadderInput carries every signal the ladder inspects. Generation fields are
// only consulted once GenerationAttempted is set.
type LadderInput struct {
	EmbeddingFailed     bool
	TopicRelated        bool
	EvidenceCount       int
	Quality             domain.ContextQuality
	SectionBoost        bool
	GenerationAttempted bool
	GenerationErr       error
	CitationsValid      bool
}

type guard struct {
	matches func(Ladder, LadderInput) bool
	outcome Outcome
}

// ladderGuards is evaluated top to bottom; the first match wins.
var ladderGuards = []guard{
	{
		matches: func(_ Ladder, in LadderInput) bool { return in.EmbeddingFailed },
		outcome: Outcome{Kind: OutcomeEvidenceOnly, Reason: domain.RetryReasonRetrievalUnavailable},
	},
	{
		matches: func(_ Ladder, in LadderInput) bool { return !in.TopicRelated },
		outcome: Outcome{Kind: OutcomeTopicGuide, Reason: domain.RetryReasonTopicMismatch},
	},
	{
		matches: func(l Ladder, in LadderInput) bool {
			return in.EvidenceCount < l.thresholds.MinEvidence || in.Quality.Insufficient
		},
		outcome: Outcome{Kind: OutcomeInsufficientContext, Reason: domain.RetryReasonInsufficientContext},
	},
	{
		matches: func(l Ladder, in LadderInput) bool {
			return l.policy == WeakContextAbstain && in.Quality.Weak && !in.SectionBoost
		},
		outcome: Outcome{Kind: OutcomeWeakContext, Reason: domain.RetryReasonWeakContext},
	},
	{
		matches: func(_ Ladder, in LadderInput) bool { return in.GenerationAttempted && in.GenerationErr != nil },
		outcome: Outcome{Kind: OutcomeEvidenceOnly, Reason: domain.RetryReasonUpstreamFailed},
	},
	{
		matches: func(_ Ladder, in LadderInput) bool { return in.GenerationAttempted && !in.CitationsValid },
		outcome: Outcome{Kind: OutcomeEvidenceOnly, Reason: domain.RetryReasonCitationMissing},
	},
}

type Ladder struct {
	thresholds Thresholds
	policy     WeakContextPolicy
}

func NewLadder(thresholds Thresholds, policy WeakContextPolicy) Ladder {
	if policy == "" {
		policy = WeakContextAnswer
	}
	return Ladder{thresholds: thresholds, policy: policy}
}

// Decide returns the first matching guard's outcome, or Normal. Before
// generation a Normal outcome means the completion service may be called.
func (l Ladder) Decide(in LadderInput) Outcome {
	for _, g := range ladderGuards {
		if g.matches(l, in) {
			return g.outcome
		}
	}
	return Outcome{Kind: OutcomeNormal}
}
