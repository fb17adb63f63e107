// Package metrics exposes HostStats and backend connection counts as
// Prometheus collectors on the management listener's /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters/gauges updated by the connection pipeline.
type Metrics struct {
	OpenRequests      *prometheus.GaugeVec
	CompletedRequests *prometheus.CounterVec
	BytesSent         *prometheus.CounterVec
	BytesReceived     *prometheus.CounterVec
	LimitedRequests   prometheus.Counter
	BackendConns      *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New registers a fresh set of collectors on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		OpenRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mantridproxy",
			Name:      "open_requests",
			Help:      "In-flight requests per matched host.",
		}, []string{"host"}),
		CompletedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mantridproxy",
			Name:      "completed_requests_total",
			Help:      "Completed requests per matched host.",
		}, []string{"host"}),
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mantridproxy",
			Name:      "bytes_sent_total",
			Help:      "Bytes sent to clients per matched host.",
		}, []string{"host"}),
		BytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mantridproxy",
			Name:      "bytes_received_total",
			Help:      "Bytes received from clients per matched host.",
		}, []string{"host"}),
		LimitedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantridproxy",
			Name:      "rate_limited_requests_total",
			Help:      "Requests that exceeded the per-token rate limit.",
		}),
		BackendConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mantridproxy",
			Name:      "backend_connections",
			Help:      "Active connections per backend address.",
		}, []string{"backend"}),
	}

	registry.MustRegister(m.OpenRequests, m.CompletedRequests, m.BytesSent, m.BytesReceived, m.LimitedRequests, m.BackendConns)
	return m
}

// Handler returns the HTTP handler to mount at /metrics, serving exactly
// the collectors registered on this Metrics' registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
