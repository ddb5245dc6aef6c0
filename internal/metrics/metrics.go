// Package metrics exposes the network engine's prometheus collectors. A nil
// *Metrics is valid and records nothing, which keeps tests free of
// registries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nova"

type Metrics struct {
	connections    prometheus.Gauge
	accepted       prometheus.Counter
	disconnects    *prometheus.CounterVec
	bytesRead      prometheus.Counter
	bytesWritten   prometheus.Counter
	packetsIn      *prometheus.CounterVec
	packetsOut     *prometheus.CounterVec
	protocolErrors *prometheus.CounterVec
	groups         prometheus.Counter
	groupTasks     prometheus.Histogram
	pollDuration   prometheus.Histogram
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "connections",
			Help:      "Number of connected clients.",
		}),
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "accepted_total",
			Help:      "Total number of accepted connections.",
		}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "disconnects_total",
			Help:      "Total number of disconnects by reason.",
		}, []string{"reason"}),
		bytesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "read_bytes_total",
			Help:      "Total number of bytes read from clients.",
		}),
		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "written_bytes_total",
			Help:      "Total number of bytes written to clients.",
		}),
		packetsIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "decoded_packets_total",
			Help:      "Total number of decoded packets by name.",
		}, []string{"packet"}),
		packetsOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "encoded_packets_total",
			Help:      "Total number of encoded packets by name.",
		}, []string{"packet"}),
		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "errors_total",
			Help:      "Total number of fatal protocol errors by kind.",
		}, []string{"kind"}),
		groups: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "work_groups_total",
			Help:      "Total number of work groups submitted to the executor.",
		}),
		groupTasks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "tasks_per_poll",
			Help:      "Number of propagation tasks queued by one reactor iteration.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		pollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "poll_duration_seconds",
			Help:      "Time spent handling the readiness of one reactor iteration.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
	}
}

func (m *Metrics) Connected() {
	if m == nil {
		return
	}
	m.accepted.Inc()
	m.connections.Inc()
}

func (m *Metrics) Disconnected(reason string) {
	if m == nil {
		return
	}
	m.connections.Dec()
	m.disconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) Read(n int) {
	if m == nil {
		return
	}
	m.bytesRead.Add(float64(n))
}

func (m *Metrics) Written(n int) {
	if m == nil {
		return
	}
	m.bytesWritten.Add(float64(n))
}

func (m *Metrics) Decoded(packet string) {
	if m == nil {
		return
	}
	m.packetsIn.WithLabelValues(packet).Inc()
}

func (m *Metrics) Encoded(packet string) {
	if m == nil {
		return
	}
	m.packetsOut.WithLabelValues(packet).Inc()
}

func (m *Metrics) ProtocolError(kind string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(kind).Inc()
}

// Polled records one reactor iteration.
func (m *Metrics) Polled(took time.Duration, tasks, groups int) {
	if m == nil {
		return
	}
	m.pollDuration.Observe(took.Seconds())
	if tasks > 0 {
		m.groupTasks.Observe(float64(tasks))
		m.groups.Add(float64(groups))
	}
}
