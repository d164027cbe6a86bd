package observability

import (
	"net/http"
	"time"

	"github.com/ent0n29/proctor/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. It also
// serves as the observer of every interview attempt.
type Metrics struct {
	ActiveAttempts       prometheus.Gauge
	PhaseTransitions     *prometheus.CounterVec
	Violations           *prometheus.CounterVec
	Submissions          *prometheus.CounterVec
	TranscriptionLatency prometheus.Histogram
	Finalizations        *prometheus.CounterVec
	WSMessages           *prometheus.CounterVec
	ProviderErrors       *prometheus.CounterVec

	registry *prometheus.Registry
	latency  *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		ActiveAttempts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_attempts",
			Help:      "Number of interview attempts that have not ended.",
		}),
		PhaseTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Interview phase transitions by source and target phase.",
		}, []string{"from", "to"}),
		Violations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_violations_total",
			Help:      "Integrity violations by category.",
		}, []string{"category"}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_submissions_total",
			Help:      "Answer submissions by result (ok, auto, error).",
		}, []string{"result"}),
		TranscriptionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_ms",
			Help:      "Latency from recording stop to transcript in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 3000, 5000, 8000, 15000},
		}),
		Finalizations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalizations_total",
			Help:      "Completion calls by interview status and result.",
		}, []string{"status", "result"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		registry: reg,
		latency:  newLatencyWindow(256),
	}
}

func (m *Metrics) PhaseChanged(from, to domain.Phase) {
	if from == "" {
		from = "none"
	}
	m.PhaseTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) Violation(category domain.Category) {
	m.Violations.WithLabelValues(string(category)).Inc()
}

func (m *Metrics) Submission(result string, latency time.Duration) {
	m.Submissions.WithLabelValues(result).Inc()
	m.latency.Observe(OpSubmitAnswer, latency)
	if result == "error" {
		m.ProviderErrors.WithLabelValues("backend", OpSubmitAnswer).Inc()
	}
}

func (m *Metrics) Transcription(latency time.Duration, err error) {
	m.TranscriptionLatency.Observe(float64(latency.Milliseconds()))
	m.latency.Observe(OpTranscription, latency)
	if err != nil {
		m.ProviderErrors.WithLabelValues("backend", OpTranscription).Inc()
	}
}

func (m *Metrics) Finalized(status domain.Status, latency time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		m.ProviderErrors.WithLabelValues("backend", OpCompleteInterview).Inc()
	}
	m.Finalizations.WithLabelValues(string(status), result).Inc()
	m.latency.Observe(OpCompleteInterview, latency)
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// SnapshotLatency summarizes recent backend operation latencies.
func (m *Metrics) SnapshotLatency() LatencySnapshot {
	return m.latency.Snapshot()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
