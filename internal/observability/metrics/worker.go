package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	questionsTotal    *prometheus.CounterVec
	questionDuration  *prometheus.HistogramVec
	questionsInFlight prometheus.Gauge
	queueLag          *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	questionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "questions_total",
			Help:      "Total questions handled by status or failure class.",
		},
		[]string{"service", "status"},
	)
	questionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "question_duration_seconds",
			Help:      "Question handling duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	questionsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "questions_in_flight",
			Help:      "Number of questions being answered.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between publishing a question and a worker picking it up.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"service"},
	)

	registry.MustRegister(questionsTotal, questionDuration, questionsInFlight, queueLag)

	return &WorkerMetrics{
		registry:        registry,
		questionsTotal:    questionsTotal,
		questionDuration: questionDuration,
		questionsInFlight: questionsInFlight,
		queueLag:        queueLag,
	}
}

// Registry lets pipeline metrics share the worker scrape endpoint.
func (m *WorkerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartQuestion() {
	m.questionsInFlight.Inc()
}

func (m *WorkerMetrics) FinishQuestion(service string, duration time.Duration, err error) {
	m.questionsInFlight.Dec()

	status := "success"
	if err != nil {
		status = domain.ClassifyFailure(err)
	}

	m.questionsTotal.WithLabelValues(service, status).Inc()
	m.questionDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
