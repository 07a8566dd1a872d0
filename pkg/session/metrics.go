package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes session lifecycle counters. A nil *Metrics disables
// collection.
type Metrics struct {
	ConnectAttempts  prometheus.Counter
	Reconnects       prometheus.Counter
	StateTransitions *prometheus.CounterVec
	StopStatuses     *prometheus.CounterVec
}

// NewMetrics registers the session collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meetkit",
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Connection pipeline attempts, including reconnects.",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meetkit",
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled after a failure.",
		}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meetkit",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Session state machine transitions.",
		}, []string{"from", "to"}),
		StopStatuses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meetkit",
			Subsystem: "session",
			Name:      "stops_total",
			Help:      "Session stops, by final status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) connectAttempt() {
	if m != nil && m.ConnectAttempts != nil {
		m.ConnectAttempts.Inc()
	}
}

func (m *Metrics) reconnectScheduled() {
	if m != nil && m.Reconnects != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) transition(from, to string) {
	if m != nil && m.StateTransitions != nil {
		m.StateTransitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) stopped(st string) {
	if m != nil && m.StopStatuses != nil {
		m.StopStatuses.WithLabelValues(st).Inc()
	}
}
