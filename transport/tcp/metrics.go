package tcp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// connMetrics exposes a Connection's accounting fields as a
// prometheus.Collector: gauges and counters per connection, labeled by
// connection id (conn_id) so concurrent connections are distinguishable
// in a scrape.
type connMetrics struct {
	unackedBytes      prometheus.Gauge
	sentBytes         prometheus.Counter
	expiredSegments   prometheus.Counter
	writeQueueDepth   prometheus.Gauge
	unackedQueueDepth prometheus.Gauge
}

func (m *connMetrics) init(c *Connection) {
	// The conn_id label is the xid NewConn attaches to the log entry; a
	// Connection built without one falls back to its remote address.
	id := string(c.remoteAddr)
	if v, ok := c.log.Data["conn_id"].(string); ok {
		id = v
	}
	labels := prometheus.Labels{"conn_id": id}

	m.unackedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "tcpsend",
		Name:        "unacked_bytes",
		Help:        "Bytes transmitted and not yet acknowledged.",
		ConstLabels: labels,
	})
	m.sentBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "tcpsend",
		Name:        "sent_bytes_total",
		Help:        "Cumulative bytes handed to the driver.",
		ConstLabels: labels,
	})
	m.expiredSegments = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "tcpsend",
		Name:        "expired_segments_total",
		Help:        "Segments dropped after exceeding MaxRtx retransmissions.",
		ConstLabels: labels,
	})
	m.writeQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "tcpsend",
		Name:        "write_queue_depth",
		Help:        "Segments awaiting first transmission or retransmission.",
		ConstLabels: labels,
	})
	m.unackedQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "tcpsend",
		Name:        "unacked_queue_depth",
		Help:        "Segments transmitted and awaiting acknowledgement.",
		ConstLabels: labels,
	})
}

// Describe implements prometheus.Collector.
func (m *connMetrics) Describe(descs chan<- *prometheus.Desc) {
	m.unackedBytes.Describe(descs)
	m.sentBytes.Describe(descs)
	m.expiredSegments.Describe(descs)
	m.writeQueueDepth.Describe(descs)
	m.unackedQueueDepth.Describe(descs)
}

// Collect implements prometheus.Collector.
func (m *connMetrics) Collect(metrics chan<- prometheus.Metric) {
	m.unackedBytes.Collect(metrics)
	m.sentBytes.Collect(metrics)
	m.expiredSegments.Collect(metrics)
	m.writeQueueDepth.Collect(metrics)
	m.unackedQueueDepth.Collect(metrics)
}

// Collector returns a prometheus.Collector exposing this connection's
// accounting fields for registration with a prometheus.Registry.
func (c *Connection) Collector() prometheus.Collector {
	return &c.metrics
}
