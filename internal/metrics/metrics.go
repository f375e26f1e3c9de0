// Package metrics holds the Prometheus collectors of the download service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	requests    *prometheus.CounterVec
	reused      *prometheus.CounterVec
	queueDepth  prometheus.Gauge
}

// New registers every collector on its own registry so several instances can coexist.
func New(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_transitions_total",
			Help:      "Download process status transitions by resulting status.",
		},
		[]string{"status"},
	)
	m.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_requests_total",
			Help:      "Download request items by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	m.reused = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_reuse_total",
			Help:      "Existing processes reused instead of starting a new transfer.",
		},
		[]string{"kind"},
	)
	m.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "download_queue_depth",
			Help:      "Transfers waiting for a worker.",
		},
	)

	m.registry.MustRegister(m.transitions, m.requests, m.reused, m.queueDepth)
	return m
}

func (m *Metrics) RecordTransition(status string) {
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRequest(operation, outcome string) {
	m.requests.WithLabelValues(operation, outcome).Inc()
}

// RecordReuse counts a reuse; kind is "retried" or "attached".
func (m *Metrics) RecordReuse(kind string) {
	m.reused.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
