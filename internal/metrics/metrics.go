package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RelayMetrics holds the counters and gauges the relay updates.
type RelayMetrics struct {
	ActiveConnections   *prometheus.GaugeVec
	EventsSent          *prometheus.CounterVec
	MessagesDropped     *prometheus.CounterVec
	Commands            prometheus.Counter
	ConnectionsRejected *prometheus.CounterVec
	SlowClientsEvicted  *prometheus.CounterVec
}

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of registered connections per channel.",
		}, []string{"channel"}),
		EventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_sent_total",
			Help:      "Events queued for delivery, per event name.",
		}, []string{"event"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Events dropped because the target queue was full or closed.",
		}, []string{"event"}),
		Commands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands received from management connections.",
		}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "WebSocket connections refused before upgrade.",
		}, []string{"reason"}),
		SlowClientsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_clients_evicted_total",
			Help:      "Connections closed because their outbound queue overflowed.",
		}, []string{"channel"}),
	}

	reg.MustRegister(m.ActiveConnections, m.EventsSent, m.MessagesDropped, m.Commands, m.ConnectionsRejected, m.SlowClientsEvicted)
	return m
}
