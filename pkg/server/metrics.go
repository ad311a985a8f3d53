package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. Each server instance
// carries its own registry so that tests can run several servers in one
// process without collector collisions.
type Metrics struct {
	registry *prometheus.Registry

	activeConnections prometheus.Gauge
	onlineUsers       prometheus.Gauge
	connectionsTotal  prometheus.Counter
	disconnectsTotal  prometheus.Counter
	requestsTotal     *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	pushesDelivered   prometheus.Counter
	pushesDropped     prometheus.Counter
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "courier_active_connections",
			Help: "Number of live client connections.",
		}),
		onlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "courier_online_users",
			Help: "Number of authenticated users with a live session.",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "courier_connections_total",
			Help: "Total client connections accepted.",
		}),
		disconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "courier_disconnects_total",
			Help: "Total client connections closed.",
		}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_requests_total",
			Help: "Total requests processed, by action.",
		}, []string{"action"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_request_errors_total",
			Help: "Total error responses, by action.",
		}, []string{"action"}),
		pushesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "courier_pushes_delivered_total",
			Help: "Total new_message notifications written to a live recipient.",
		}),
		pushesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "courier_pushes_dropped_total",
			Help: "Total new_message notifications dropped on write failure.",
		}),
	}
}

// Handler returns an HTTP handler exposing this server's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordActiveConnections(n int) { m.activeConnections.Set(float64(n)) }
func (m *Metrics) RecordOnlineUsers(n int)       { m.onlineUsers.Set(float64(n)) }
func (m *Metrics) RecordConnectionOpened()       { m.connectionsTotal.Inc() }
func (m *Metrics) RecordConnectionClosed()       { m.disconnectsTotal.Inc() }

func (m *Metrics) RecordRequest(action string) {
	m.requestsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordRequestError(action string) {
	m.errorsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordPushDelivered() { m.pushesDelivered.Inc() }
func (m *Metrics) RecordPushDropped()   { m.pushesDropped.Inc() }
