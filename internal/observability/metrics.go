package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Buffer metrics
	Deliveries     *prometheus.CounterVec
	Takes          *prometheus.CounterVec
	PendingSlots   *prometheus.GaugeVec
	ProducerWait   *prometheus.HistogramVec
	TransportState *prometheus.GaugeVec

	// Transport metrics
	FramesReceived     *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	PartitionsAssigned *prometheus.GaugeVec

	// Recorder metrics
	ArchiveBatches  *prometheus.CounterVec
	ArchiveSize     *prometheus.HistogramVec
	ArchiveDuration *prometheus.HistogramVec
	StorageErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Buffer metrics
		Deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portbuffer_deliveries_total",
				Help: "Total number of frames handed to the buffer, by outcome",
			},
			[]string{"port", "status"},
		),
		Takes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portbuffer_takes_total",
				Help: "Total number of consumer takes, by outcome",
			},
			[]string{"port", "outcome"},
		),
		PendingSlots: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "portbuffer_pending_messages",
				Help: "Messages waiting to be taken",
			},
			[]string{"port"},
		),
		ProducerWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portbuffer_producer_wait_seconds",
				Help:    "Time a producer spent blocked waiting for a free slot",
				Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"port"},
		),
		TransportState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "portbuffer_transport_attached",
				Help: "1 while the buffer is attached to a live transport",
			},
			[]string{"port"},
		),

		// Transport metrics
		FramesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_frames_received_total",
				Help: "Total number of Kafka messages handed to a port",
			},
			[]string{"topic", "partition"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),
		PartitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_partitions_assigned",
				Help: "Number of partitions currently assigned to this consumer",
			},
			[]string{"topic"},
		),

		// Recorder metrics
		ArchiveBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_batches_total",
				Help: "Total number of sample batches archived",
			},
			[]string{"port", "sink", "format", "status"},
		),
		ArchiveSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recorder_batch_size_bytes",
				Help:    "Size of encoded sample batches",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB
			},
			[]string{"port", "format"},
		),
		ArchiveDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recorder_write_duration_seconds",
				Help:    "Duration of encode plus sink write",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"port"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "error_type"},
		),
	}
}

// IncDeliveries increments the deliveries counter.
func (m *Metrics) IncDeliveries(port, status string) {
	m.Deliveries.WithLabelValues(port, status).Inc()
}

// IncTakes increments the takes counter.
func (m *Metrics) IncTakes(port, outcome string) {
	m.Takes.WithLabelValues(port, outcome).Inc()
}

// SetPendingMessages sets the pending messages gauge.
func (m *Metrics) SetPendingMessages(port string, count float64) {
	m.PendingSlots.WithLabelValues(port).Set(count)
}

// ObserveProducerWait observes producer blocking time.
func (m *Metrics) ObserveProducerWait(port string, seconds float64) {
	m.ProducerWait.WithLabelValues(port).Observe(seconds)
}

// SetTransportAttached records whether the port has a live transport.
func (m *Metrics) SetTransportAttached(port string, attached bool) {
	value := 0.0
	if attached {
		value = 1.0
	}
	m.TransportState.WithLabelValues(port).Set(value)
}

// IncFramesReceived increments the frames received counter.
func (m *Metrics) IncFramesReceived(topic string, partition int32) {
	m.FramesReceived.WithLabelValues(topic, strconv.Itoa(int(partition))).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count float64) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(count)
}

// IncArchiveBatches increments the archived batches counter.
func (m *Metrics) IncArchiveBatches(port, sink, format, status string) {
	m.ArchiveBatches.WithLabelValues(port, sink, format, status).Inc()
}

// ObserveArchiveSize observes encoded batch size.
func (m *Metrics) ObserveArchiveSize(port, format string, size float64) {
	m.ArchiveSize.WithLabelValues(port, format).Observe(size)
}

// ObserveArchiveDuration observes batch write duration.
func (m *Metrics) ObserveArchiveDuration(port string, seconds float64) {
	m.ArchiveDuration.WithLabelValues(port).Observe(seconds)
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}
