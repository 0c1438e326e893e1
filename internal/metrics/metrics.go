// Package metrics holds the Prometheus collectors exported by the testmaster server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all testmaster collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	EventsIngested         *prometheus.CounterVec
	EventsDropped          *prometheus.CounterVec
	RunsStarted            prometheus.Counter
	RunsCompleted          prometheus.Counter
	StreamClients          prometheus.Gauge
	HistoryReconstructions *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "testmaster_events_ingested_total",
			Help: "Lifecycle events applied to the result ledger",
		}, []string{"message_type"}),

		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "testmaster_events_dropped_total",
			Help: "Events rejected at ingestion",
		}, []string{"reason"}),

		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "testmaster_runs_started_total",
			Help: "Runs started on the executor",
		}),

		RunsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "testmaster_runs_completed_total",
			Help: "Run-complete signals received",
		}),

		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "testmaster_stream_clients",
			Help: "Connected websocket clients",
		}),

		HistoryReconstructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "testmaster_history_reconstructions_total",
			Help: "Historical record reconstructions by outcome",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.EventsIngested,
		m.EventsDropped,
		m.RunsStarted,
		m.RunsCompleted,
		m.StreamClients,
		m.HistoryReconstructions,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Ingested(messageType string) {
	if m != nil {
		m.EventsIngested.WithLabelValues(messageType).Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.EventsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RunStarted() {
	if m != nil {
		m.RunsStarted.Inc()
	}
}

func (m *Metrics) RunCompleted() {
	if m != nil {
		m.RunsCompleted.Inc()
	}
}

func (m *Metrics) ClientConnected() {
	if m != nil {
		m.StreamClients.Inc()
	}
}

func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.StreamClients.Dec()
	}
}

func (m *Metrics) Reconstructed(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.HistoryReconstructions.WithLabelValues(outcome).Inc()
}
