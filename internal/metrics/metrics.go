// Package metrics provides Prometheus metrics for the canal.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Each instance owns its registry so
// multiple instances (e.g. in tests) never collide.
type Metrics struct {
	InboundTotal   *prometheus.CounterVec
	ForwardedTotal *prometheus.CounterVec
	SlackAPIErrors *prometheus.CounterVec
	ThreadsActive  prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		InboundTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canal_inbound_events_total",
				Help: "Inbound Slack events by source and result.",
			},
			[]string{"source", "result"},
		),
		ForwardedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canal_forwarded_events_total",
				Help: "Assistant events forwarded to Slack by kind.",
			},
			[]string{"kind"},
		),
		SlackAPIErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canal_slack_api_errors_total",
				Help: "Slack Web API call failures by operation.",
			},
			[]string{"op"},
		),
		ThreadsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "canal_threads_active",
				Help: "Thread states currently attached in this process.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.InboundTotal)
	reg.MustRegister(m.ForwardedTotal)
	reg.MustRegister(m.SlackAPIErrors)
	reg.MustRegister(m.ThreadsActive)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordInbound increments the inbound event counter.
func (m *Metrics) RecordInbound(source, result string) {
	m.InboundTotal.WithLabelValues(source, result).Inc()
}

// RecordForwarded increments the forwarded event counter.
func (m *Metrics) RecordForwarded(kind string) {
	m.ForwardedTotal.WithLabelValues(kind).Inc()
}

// RecordSlackAPIError increments the Slack API error counter.
func (m *Metrics) RecordSlackAPIError(op string) {
	m.SlackAPIErrors.WithLabelValues(op).Inc()
}
