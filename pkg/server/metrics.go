package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. Each server owns its own
// registry so several servers can run in one process (tests do).
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive    prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec
	commandsTotal     *prometheus.CounterVec
	commandErrors     *prometheus.CounterVec
	mailboxDelivered  prometheus.Counter
	handshakeFailures *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomchat_sessions_active",
			Help: "Authenticated sessions currently connected.",
		}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_connections_total",
			Help: "Accepted connections by transport.",
		}, []string{"transport"}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_commands_total",
			Help: "Commands dispatched after the handshake, by keyword.",
		}, []string{"command"}),
		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_command_errors_total",
			Help: "Commands answered with ERRO, by keyword.",
		}, []string{"command"}),
		mailboxDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_mailbox_delivered_total",
			Help: "Mailbox entries written to clients.",
		}),
		handshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_handshake_failures_total",
			Help: "Rejected handshake steps by reason.",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		m.sessionsActive,
		m.connectionsTotal,
		m.commandsTotal,
		m.commandErrors,
		m.mailboxDelivered,
		m.handshakeFailures,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) RecordActiveSessions(n int) {
	m.sessionsActive.Set(float64(n))
}

func (m *Metrics) RecordConnection(transport string) {
	m.connectionsTotal.WithLabelValues(transport).Inc()
}

func (m *Metrics) RecordCommand(command string) {
	m.commandsTotal.WithLabelValues(commandLabel(command)).Inc()
}

func (m *Metrics) RecordCommandError(command string) {
	m.commandErrors.WithLabelValues(commandLabel(command)).Inc()
}

func (m *Metrics) RecordMailboxDelivered(n int) {
	m.mailboxDelivered.Add(float64(n))
}

func (m *Metrics) RecordHandshakeFailure(reason string) {
	m.handshakeFailures.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// commandLabel keeps label cardinality bounded: unparseable lines all count
// under one label.
func commandLabel(keyword string) string {
	if keyword == "" {
		return "unrecognized"
	}
	return keyword
}
