// Package metrics exposes prometheus instruments for the pipeline. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quizgen"

type Metrics struct {
	EmbeddingRequests  *prometheus.CounterVec
	QuestionsGenerated *prometheus.CounterVec
	GenerationFailures *prometheus.CounterVec
	LLMLatency         *prometheus.HistogramVec
	QuestionsDiscarded prometheus.Counter
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EmbeddingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding calls by model and outcome.",
		}, []string{"model", "outcome"}),
		QuestionsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_generated_total",
			Help:      "Validated questions by question type.",
		}, []string{"type"}),
		GenerationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Failed single-type generations by type and error kind.",
		}, []string{"type", "kind"}),
		LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM invocation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"model"}),
		QuestionsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_discarded_total",
			Help:      "Candidate questions dropped by validation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.EmbeddingRequests, m.QuestionsGenerated, m.GenerationFailures, m.LLMLatency, m.QuestionsDiscarded)
	}
	return m
}

func (m *Metrics) ObserveEmbedding(model string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EmbeddingRequests.WithLabelValues(model, outcome).Inc()
}

func (m *Metrics) AddQuestions(questionType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.QuestionsGenerated.WithLabelValues(questionType).Add(float64(n))
}

func (m *Metrics) ObserveFailure(questionType, kind string) {
	if m == nil {
		return
	}
	m.GenerationFailures.WithLabelValues(questionType, kind).Inc()
}

func (m *Metrics) ObserveLLM(model string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMLatency.WithLabelValues(model).Observe(d.Seconds())
}

func (m *Metrics) AddDiscarded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.QuestionsDiscarded.Add(float64(n))
}
