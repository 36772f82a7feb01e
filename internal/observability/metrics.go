package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Each
// instance owns its registry so several servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry
	window   *StageWindow

	StageLatency    *prometheus.HistogramVec
	TurnOutcomes    *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	ProviderErrors  *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	Transcodes      *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		window:   NewStageWindow(256),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_ms",
			Help:      "Voice turn stage latency in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}, []string{"stage"}),
		TurnOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Voice turns by outcome and failing stage.",
		}, []string{"outcome", "stage"}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Message appends that were not applied, by role.",
		}, []string{"role"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		Transcodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcodes_total",
			Help:      "Audio normalizations by result (passthrough, transcoded, failed).",
		}, []string{"result"}),
	}
}

// ObserveStage records a stage duration in the histogram and in the rolling
// window served by the latency endpoint.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.window.ObserveLatency(stage, ms)
}

func (m *Metrics) ObserveTurn(outcome, stage string) {
	if m == nil {
		return
	}
	m.TurnOutcomes.WithLabelValues(outcome, stage).Inc()
	m.window.ObserveTurn(outcome, stage)
}

func (m *Metrics) ObservePersistFailure(role string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(role).Inc()
	m.window.ObservePersistFailure(role)
}

func (m *Metrics) ObserveProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObserveTranscode(result string) {
	if m == nil {
		return
	}
	m.Transcodes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(route, method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, status).Inc()
}

// LatencySnapshot returns rolling per-stage percentiles and failure counts.
func (m *Metrics) LatencySnapshot() LatencySnapshot {
	return m.window.Snapshot()
}

func (m *Metrics) ResetLatency() {
	m.window.Reset()
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
