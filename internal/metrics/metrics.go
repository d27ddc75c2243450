// Package metrics exposes Prometheus counters for access decisions and
// catalog pushes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on a private registry so tests can build
// as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	// Access decisions by outcome: grant, deny, error, bypass
	AccessDecisions *prometheus.CounterVec

	// Remote API failures by error kind
	APIErrors *prometheus.CounterVec

	// Catalog pushes by result: pushed, unchanged, deactivated, failed
	ResourcePushes *prometheus.CounterVec

	// Access API round-trip latency, bypasses excluded
	AccessLatency prometheus.Histogram
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		AccessDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imoneza_access_decisions_total",
			Help: "Access decisions made by the gateway by outcome",
		}, []string{"outcome"}),

		APIErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imoneza_api_errors_total",
			Help: "Failed iMoneza API calls by error kind",
		}, []string{"kind"}),

		ResourcePushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imoneza_resource_pushes_total",
			Help: "Resource pushes to the Management API by result",
		}, []string{"result"}),

		AccessLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "imoneza_access_check_duration_seconds",
			Help:    "Duration of Access API checks",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncrementDecision records an access decision.
func (m *Metrics) IncrementDecision(outcome string) {
	if m != nil {
		m.AccessDecisions.WithLabelValues(outcome).Inc()
	}
}

// IncrementAPIError records a failed remote call.
func (m *Metrics) IncrementAPIError(kind string) {
	if m != nil {
		m.APIErrors.WithLabelValues(kind).Inc()
	}
}

// IncrementPush records a catalog push result.
func (m *Metrics) IncrementPush(result string) {
	if m != nil {
		m.ResourcePushes.WithLabelValues(result).Inc()
	}
}

// ObserveAccessLatency records the duration of one access check.
func (m *Metrics) ObserveAccessLatency(d time.Duration) {
	if m != nil {
		m.AccessLatency.Observe(d.Seconds())
	}
}
