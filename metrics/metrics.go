// Package metrics holds the Prometheus collectors for live room connections.
//
// A nil *Metrics is valid and records nothing, so packages can be used
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "blive"

type Metrics struct {
	replies           *prometheus.CounterVec
	events            *prometheus.CounterVec
	decodeErrors      prometheus.Counter
	classifyErrors    *prometheus.CounterVec
	heartbeatsSent    prometheus.Counter
	activeConnections prometheus.Gauge
	connectionsEnded  *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		replies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Leaf frames decoded from the relay, by reply kind",
		}, []string{"kind"}),

		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Live events dispatched to the handler, by kind",
		}, []string{"kind"}),

		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Transport messages that failed frame decoding",
		}),

		classifyErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classify_errors_total",
			Help:      "Replies that failed classification, by reason",
		}, []string{"reason"}),

		heartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat frames written to the relay",
		}),

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Room connections currently open",
		}),

		connectionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_ended_total",
			Help:      "Room connections that ended, by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) Reply(kind string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(kind).Inc()
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) ClassifyError(reason string) {
	if m == nil {
		return
	}
	m.classifyErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) HeartbeatSent() {
	if m == nil {
		return
	}
	m.heartbeatsSent.Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

// ConnectionClosed records the end of a connection; err nil counts as "ok".
func (m *Metrics) ConnectionClosed(err error) {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.connectionsEnded.WithLabelValues(result).Inc()
}
