// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolwatch_records_ingested_total",
			Help: "Total number of activity records read from sources",
		},
		[]string{"level"},
	)

	PollErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "toolwatch_poll_errors_total",
			Help: "Total number of failed source reads",
		},
	)

	SequencesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolwatch_sequences_detected_total",
			Help: "Total number of suspicious sequences reported",
		},
		[]string{"type"},
	)

	// Delivery metrics
	DeliverySent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "toolwatch_delivery_sent_total",
			Help: "Total number of records delivered to the sink",
		},
	)

	DeliveryFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "toolwatch_delivery_failed_total",
			Help: "Total number of records in failed delivery batches",
		},
	)

	DeliveryDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "toolwatch_delivery_dropped_total",
			Help: "Total number of records dropped because the buffer was full",
		},
	)

	DeliveryBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolwatch_delivery_buffer_size",
			Help: "Records waiting for delivery",
		},
	)

	DeliveryFlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolwatch_delivery_flush_duration_seconds",
			Help:    "Sink call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"status"},
	)

	// Alert metrics
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolwatch_alerts_total",
			Help: "Total number of alert notifications attempted",
		},
		[]string{"status"},
	)

	// Fanout metrics
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolwatch_subscribers",
			Help: "Currently connected live subscribers",
		},
	)

	FanoutDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "toolwatch_fanout_dropped_total",
			Help: "Events dropped for slow subscribers",
		},
	)
)
