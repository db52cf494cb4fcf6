package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// QAMetrics implements ports.QAObserver.
type QAMetrics struct {
	service string

	retrievalCalls      *prometheus.CounterVec
	retrievalCandidates *prometheus.HistogramVec
	answersTotal        *prometheus.CounterVec
	answerDuration      *prometheus.HistogramVec
}

func NewQAMetrics(service string, registerer prometheus.Registerer) *QAMetrics {
	retrievalCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "qa",
			Name:      "retrieval_calls_total",
			Help:      "Hybrid index calls by query variant and failure class.",
		},
		[]string{"service", "variant", "failure"},
	)
	retrievalCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "qa",
			Name:      "retrieval_candidates",
			Help:      "Candidates returned per successful hybrid index call.",
			Buckets:   []float64{0, 1, 2, 4, 8, 12, 20, 28, 40},
		},
		[]string{"service", "variant"},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "qa",
			Name:      "answers_total",
			Help:      "Answered questions by degrade reason.",
		},
		[]string{"service", "retry_reason", "fallback"},
	)
	answerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "qa",
			Name:      "answer_duration_seconds",
			Help:      "End-to-end pipeline latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"service", "retry_reason"},
	)

	registerer.MustRegister(retrievalCalls, retrievalCandidates, answersTotal, answerDuration)

	return &QAMetrics{
		service:             service,
		retrievalCalls:      retrievalCalls,
		retrievalCandidates: retrievalCandidates,
		answersTotal:        answersTotal,
		answerDuration:      answerDuration,
	}
}

func (m *QAMetrics) ObserveRetrievalCall(variant string, candidates int, err error) {
	m.retrievalCalls.WithLabelValues(m.service, variant, domain.ClassifyFailure(err)).Inc()
	if err == nil {
		m.retrievalCandidates.WithLabelValues(m.service, variant).Observe(float64(candidates))
	}
}

func (m *QAMetrics) ObserveAnswer(retryReason domain.RetryReason, fallbackUsed bool, latencySeconds float64) {
	reason := string(retryReason)
	if reason == "" {
		reason = "none"
	}
	fallback := "false"
	if fallbackUsed {
		fallback = "true"
	}
	m.answersTotal.WithLabelValues(m.service, reason, fallback).Inc()
	m.answerDuration.WithLabelValues(m.service, reason).Observe(latencySeconds)
}
