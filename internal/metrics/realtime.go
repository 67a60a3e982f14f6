package metrics

import "github.com/prometheus/client_golang/prometheus"

// Drop reasons recorded on the dropped events counter.
const (
	DropReasonLagging   = "lagging"
	DropReasonQueueFull = "queue_full"
	DropReasonClosed    = "publisher_closed"
)

// RealtimeMetrics holds Prometheus metrics for live connections and comment fanout.
// All methods are safe on a nil receiver so components can run without metrics.
type RealtimeMetrics struct {
	ActiveConnections prometheus.Gauge
	ActiveRooms       prometheus.Gauge
	EventsDelivered   prometheus.Counter
	EventsDropped     *prometheus.CounterVec
	PublishFailures   prometheus.Counter
}

// NewRealtimeMetrics creates and registers realtime metrics on the given registry.
func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	m := &RealtimeMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "active_connections",
			Help:      "Number of live client connections.",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "active_rooms",
			Help:      "Number of posts with at least one subscribed connection.",
		}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_delivered_total",
			Help:      "Total number of events handed to connections.",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_dropped_total",
			Help:      "Total number of events not delivered, by reason.",
		}, []string{"reason"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "publish_failures_total",
			Help:      "Total number of fanout attempts that failed.",
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.ActiveRooms, m.EventsDelivered, m.EventsDropped, m.PublishFailures)
	return m
}

func (m *RealtimeMetrics) ConnectionOpened() {
	if m != nil {
		m.ActiveConnections.Inc()
	}
}

func (m *RealtimeMetrics) ConnectionClosed() {
	if m != nil {
		m.ActiveConnections.Dec()
	}
}

func (m *RealtimeMetrics) RoomOpened() {
	if m != nil {
		m.ActiveRooms.Inc()
	}
}

func (m *RealtimeMetrics) RoomClosed() {
	if m != nil {
		m.ActiveRooms.Dec()
	}
}

func (m *RealtimeMetrics) Delivered(count int) {
	if m != nil && count > 0 {
		m.EventsDelivered.Add(float64(count))
	}
}

func (m *RealtimeMetrics) Dropped(reason string) {
	if m != nil {
		m.EventsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *RealtimeMetrics) PublishFailed() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}
