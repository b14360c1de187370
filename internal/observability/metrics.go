// Package observability holds the bot's Prometheus instruments and the
// ops HTTP server that exposes them.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the bot. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry       *prometheus.Registry
	Events         *prometheus.CounterVec
	PolicyDrops    *prometheus.CounterVec
	Routes         *prometheus.CounterVec
	ModuleFailures *prometheus.CounterVec
	StorageErrors  *prometheus.CounterVec
	LLMLatency     prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events by outcome.",
		}, []string{"outcome"}),
		PolicyDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_drops_total",
			Help:      "Events dropped by a policy stage.",
		}, []string{"stage"}),
		Routes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Routing decisions by target module and tier.",
		}, []string{"module", "tier"}),
		ModuleFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_failures_total",
			Help:      "Module process failures by module.",
		}, []string{"module"}),
		StorageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Context store failures by operation.",
		}, []string{"op"}),
		LLMLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_ms",
			Help:      "LLM completion latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
	}
}

func (m *Metrics) IncEvent(outcome string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncPolicyDrop(stage string) {
	if m == nil {
		return
	}
	m.PolicyDrops.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncRoute(module, tier string) {
	if m == nil {
		return
	}
	m.Routes.WithLabelValues(module, tier).Inc()
}

func (m *Metrics) IncModuleFailure(module string) {
	if m == nil {
		return
	}
	m.ModuleFailures.WithLabelValues(module).Inc()
}

func (m *Metrics) IncStorageError(op string) {
	if m == nil {
		return
	}
	m.StorageErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveLLMLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.LLMLatency.Observe(float64(d.Milliseconds()))
}

// Handler serves the instruments in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
