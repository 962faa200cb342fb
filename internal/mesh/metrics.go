package mesh

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the mesh core. A nil *Metrics
// disables recording.
type Metrics struct {
	packetsReceived   *prometheus.CounterVec // packets by port
	eventsPublished   *prometheus.CounterVec // events by kind
	subscriberFaults  *prometheus.CounterVec // recovered faults by subscriber
	eventQueueDropped prometheus.Counter     // events dropped on a full queue
	connected         prometheus.Gauge       // 1 while the link is up
	reconnectAttempts prometheus.Counter     // auto-reconnect attempts
	acks              *prometheus.CounterVec // resolved sends by result
	pendingSends      prometheus.Gauge       // outstanding direct messages
	traceroutes       *prometheus.CounterVec // traceroutes by outcome
}

// NewMetrics creates the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "radio",
			Name:      "packets_received_total",
			Help:      "Packets received from the mesh by port",
		}, []string{"port"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Events published to the bus by kind",
		}, []string{"kind"}),

		subscriberFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "bus",
			Name:      "subscriber_faults_total",
			Help:      "Subscriber errors and panics recovered by the bus",
		}, []string{"subscriber"}),

		eventQueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "bus",
			Name:      "events_dropped_total",
			Help:      "Events dropped because the dispatch queue was full",
		}),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshbridge",
			Subsystem: "link",
			Name:      "connected",
			Help:      "Link state (1=connected, 0=disconnected)",
		}),

		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "link",
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnect attempts",
		}),

		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "messages",
			Name:      "acks_total",
			Help:      "Direct message deliveries resolved by result",
		}, []string{"result"}),

		pendingSends: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshbridge",
			Subsystem: "messages",
			Name:      "pending_acks",
			Help:      "Direct messages awaiting acknowledgment",
		}),

		traceroutes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "traceroute",
			Name:      "requests_total",
			Help:      "Traceroute requests by outcome",
		}, []string{"outcome"}),
	}
}

// Register adds every collector to reg. Already registered collectors are
// tolerated so that tests can share the default registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.packetsReceived, m.eventsPublished, m.subscriberFaults, m.eventQueueDropped,
		m.connected, m.reconnectAttempts, m.acks, m.pendingSends, m.traceroutes,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

func (m *Metrics) packet(port string) {
	if m != nil {
		m.packetsReceived.WithLabelValues(port).Inc()
	}
}

func (m *Metrics) published(kind Kind) {
	if m != nil {
		m.eventsPublished.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) subscriberFault(name string) {
	if m != nil {
		m.subscriberFaults.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.eventQueueDropped.Inc()
	}
}

func (m *Metrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) reconnectAttempt() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}

func (m *Metrics) ack(success bool) {
	if m == nil {
		return
	}
	if success {
		m.acks.WithLabelValues("delivered").Inc()
	} else {
		m.acks.WithLabelValues("failed").Inc()
	}
}

func (m *Metrics) setPending(n int) {
	if m != nil {
		m.pendingSends.Set(float64(n))
	}
}

func (m *Metrics) traceroute(outcome string) {
	if m != nil {
		m.traceroutes.WithLabelValues(outcome).Inc()
	}
}
