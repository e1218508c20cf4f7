// Package metrics exposes the sync engine's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contact_sync"

// Metrics holds every collector on a private registry
type Metrics struct {
	registry *prometheus.Registry

	EventsReceived       *prometheus.CounterVec
	ReconciliationMisses prometheus.Counter
	DuplicateMessages    prometheus.Counter
	Mutations            *prometheus.CounterVec
	OutboundMessages     *prometheus.CounterVec
	Resyncs              *prometheus.CounterVec
	Contacts             prometheus.Gauge
	ConnectionState      *prometheus.GaugeVec
	ReconnectAttempts    prometheus.Gauge
	Subscriptions        prometheus.Gauge
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Push events dispatched, by event name and origin.",
		}, []string{"event", "origin"}),
		ReconciliationMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_misses_total",
			Help:      "Inbound events that matched no known contact.",
		}),
		DuplicateMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_messages_total",
			Help:      "Inbound messages dropped as duplicates.",
		}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Optimistic contact mutations, by result.",
		}, []string{"result"}),
		OutboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Messages sent by this process, by result.",
		}, []string{"result"}),
		Resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resyncs_total",
			Help:      "Bulk reloads, by result.",
		}, []string{"result"}),
		Contacts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "contacts",
			Help:      "Contacts in the working set.",
		}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current push connection state.",
		}, []string{"state"}),
		ReconnectAttempts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts",
			Help:      "Consecutive reconnection attempts.",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Open detail views holding a contact subscription.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EventsReceived,
		m.ReconciliationMisses,
		m.DuplicateMessages,
		m.Mutations,
		m.OutboundMessages,
		m.Resyncs,
		m.Contacts,
		m.ConnectionState,
		m.ReconnectAttempts,
		m.Subscriptions,
	)
	return m
}

// SetConnectionState marks state as the only active connection state
func (m *Metrics) SetConnectionState(state string, attempts int) {
	m.ConnectionState.Reset()
	m.ConnectionState.WithLabelValues(state).Set(1)
	m.ReconnectAttempts.Set(float64(attempts))
}

// Handler serves the registry in the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
