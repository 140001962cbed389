// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesReceived tracks frames forwarded to the decoder by the
	// receiver, per node role.
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_frames_received_total",
			Help: "Frames forwarded to the decoder after gap tracking",
		},
		[]string{"role"},
	)

	// DatagramsDropped tracks malformed or unrecoverably-late datagrams
	// dropped by the receiver.
	DatagramsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_datagrams_dropped_total",
			Help: "Datagrams dropped by the receiver",
		},
		[]string{"reason"},
	)

	// MissingSetSize is the current cardinality of the receiver's gap
	// set.
	MissingSetSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_missing_set_size",
			Help: "Current number of sequences the receiver considers missing",
		},
	)

	// FramesRecovered tracks frames injected into the decode queue by
	// the recovery client.
	FramesRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_frames_recovered_total",
			Help: "Frames recovered via the retransmission channel",
		},
	)

	// RecoveryRequests tracks recovery round trips and their outcome.
	RecoveryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_recovery_requests_total",
			Help: "Recovery client round trips by outcome",
		},
		[]string{"outcome"},
	)

	// RingSize is the current number of batches retained in the sender's
	// ring buffer.
	RingSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_ring_size",
			Help: "Current number of batches retained in the ring buffer",
		},
	)

	// HistorySize is the current number of decoded records retained.
	HistorySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_history_size",
			Help: "Current number of decoded records retained in history",
		},
	)

	// SubscriberCount is the current number of live streaming
	// subscriptions on the broker.
	SubscriberCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_subscriber_count",
			Help: "Current number of live broker subscriptions",
		},
	)

	// SequenceGap tracks the magnitude of each detected gap, for
	// operators diagnosing link quality.
	SequenceGap = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_sequence_gap_size",
			Help:    "Size of gaps detected between consecutive batch sequences",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)
