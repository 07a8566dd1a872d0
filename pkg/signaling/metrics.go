package signaling

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes signaling transport counters. All fields are optional:
// a nil *Metrics disables collection.
type Metrics struct {
	FramesSent     *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec
	SendFailures   prometheus.Counter
	Reconnects     prometheus.Counter
}

// NewMetrics registers the signaling collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meetkit",
			Subsystem: "signaling",
			Name:      "frames_sent_total",
			Help:      "Signaling frames sent, by frame type.",
		}, []string{"type"}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meetkit",
			Subsystem: "signaling",
			Name:      "frames_received_total",
			Help:      "Signaling frames received, by frame type.",
		}, []string{"type"}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meetkit",
			Subsystem: "signaling",
			Name:      "send_failures_total",
			Help:      "Frame sends that failed at the transport.",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meetkit",
			Subsystem: "signaling",
			Name:      "connects_total",
			Help:      "Websocket connections established.",
		}),
	}
}

func (m *Metrics) frameSent(t FrameType) {
	if m != nil && m.FramesSent != nil {
		m.FramesSent.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) frameReceived(t FrameType) {
	if m != nil && m.FramesReceived != nil {
		m.FramesReceived.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) sendFailed() {
	if m != nil && m.SendFailures != nil {
		m.SendFailures.Inc()
	}
}

func (m *Metrics) connected() {
	if m != nil && m.Reconnects != nil {
		m.Reconnects.Inc()
	}
}
