package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the chat core's instrumentation. A nil *Metrics is valid and
// turns every recording call into a no-op, which keeps unit tests quiet.
type Metrics struct {
	connectionsLive    prometheus.Gauge
	connectionsTotal   *prometheus.CounterVec
	evictionsTotal     prometheus.Counter
	broadcastDelivered prometheus.Counter
	broadcastDropped   prometheus.Counter
	messagesAppended   prometheus.Counter
	framesRejected     *prometheus.CounterVec
}

// NewMetrics registers the chat collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connectionsLive: f.NewGauge(prometheus.GaugeOpts{
			Name: "mithas_chat_connections_live",
			Help: "Live websocket chat connections.",
		}),
		connectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mithas_chat_connections_total",
			Help: "Admitted chat connections, by whether they replaced a prior handle.",
		}, []string{"replaced"}),
		evictionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "mithas_chat_evictions_total",
			Help: "Connections removed from the registry.",
		}),
		broadcastDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "mithas_chat_broadcast_delivered_total",
			Help: "Events enqueued to live recipients.",
		}),
		broadcastDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "mithas_chat_broadcast_dropped_total",
			Help: "Events dropped because a recipient was unreachable.",
		}),
		messagesAppended: f.NewCounter(prometheus.CounterOpts{
			Name: "mithas_chat_messages_appended_total",
			Help: "Messages persisted to the message log.",
		}),
		framesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mithas_chat_frames_rejected_total",
			Help: "Inbound frames that were not processed, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) ConnAdmitted(replaced bool) {
	if m == nil {
		return
	}
	m.connectionsLive.Inc()
	if replaced {
		// The replaced handle leaves the registry without a separate evict.
		m.connectionsLive.Dec()
		m.connectionsTotal.WithLabelValues("true").Inc()
		return
	}
	m.connectionsTotal.WithLabelValues("false").Inc()
}

func (m *Metrics) ConnEvicted() {
	if m == nil {
		return
	}
	m.connectionsLive.Dec()
	m.evictionsTotal.Inc()
}

func (m *Metrics) BroadcastDelivered() {
	if m == nil {
		return
	}
	m.broadcastDelivered.Inc()
}

func (m *Metrics) BroadcastDropped() {
	if m == nil {
		return
	}
	m.broadcastDropped.Inc()
}

func (m *Metrics) MessageAppended() {
	if m == nil {
		return
	}
	m.messagesAppended.Inc()
}

func (m *Metrics) FrameRejected(reason string) {
	if m == nil {
		return
	}
	m.framesRejected.WithLabelValues(reason).Inc()
}
