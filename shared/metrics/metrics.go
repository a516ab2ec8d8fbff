package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the realtime plane
type Metrics struct {
	// Connection metrics
	ConnectionsActive   prometheus.Gauge
	ConnectionsTotal    prometheus.Counter
	ConnectionsReplaced prometheus.Counter

	// Frame metrics
	FramesTotal    *prometheus.CounterVec
	FramesRejected *prometheus.CounterVec

	// Delivery metrics
	DeliveriesTotal *prometheus.CounterVec

	// Heartbeat metrics
	HeartbeatEvictions prometheus.Counter

	// Event publishing metrics
	EventsPublished *prometheus.CounterVec

	// Error metrics
	ErrorsTotal     *prometheus.CounterVec
	PanicsRecovered prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics(namespace, service string) *Metrics {
	return &Metrics{
		ConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: service,
				Name:      "ws_connections_active",
				Help:      "Number of currently registered websocket connections",
			},
		),
		ConnectionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: service,
				Name:      "ws_connections_total",
				Help:      "Total number of accepted websocket connections",
			},
		),
		ConnectionsReplaced: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: service,
				Name:      "ws_connections_replaced_total",
				Help:      "Connections superseded by a reconnect for the same user",
			},
		),
		FramesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: service,
				Name:      "ws_frames_total",
				Help:      "Inbound frames by envelope type",
			},
			[]string{"type"},
		),
		FramesRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: service,
				Name:      "ws_frames_rejected_total",
				Help:      "Inbound frames rejected before dispatch",
			},
			[]string{"reason"},
		),
		DeliveriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: service,
				Name:      "ws_deliveries_total",
				Help:      "Push delivery attempts by result",
			},
			[]string{"event", "result"},
		),
		HeartbeatEvictions: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: service,
				Name:      "ws_heartbeat_evictions_total",
				Help:      "Connections evicted by the heartbeat monitor",
			},
		),
		EventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: service,
				Name:      "amqp_events_published_total",
				Help:      "Domain events published to AMQP by result",
			},
			[]string{"event", "result"},
		),
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: service,
				Name:      "errors_total",
				Help:      "Errors by component",
			},
			[]string{"component"},
		),
		PanicsRecovered: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: service,
				Name:      "panics_recovered_total",
				Help:      "Panics recovered at the dispatch boundary",
			},
		),
	}
}

// Handler returns the HTTP handler serving the metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
