// Package telemetry holds the process-wide Prometheus collectors and the
// /metrics handler.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "depthwatch"

var (
	// Book and feed.
	DepthUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "depth_updates_total",
			Help:      "Depth updates processed by outcome",
		},
		[]string{"symbol", "outcome"},
	)
	Resyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "resyncs_total",
			Help:      "Book resyncs by result",
		},
		[]string{"symbol", "result"},
	)
	DroppedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "dropped_events_total",
			Help:      "Stream events dropped because a consumer buffer was full",
		},
		[]string{"symbol", "stream"},
	)
	MalformedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "malformed_messages_total",
			Help:      "Upstream messages that failed to decode",
		},
		[]string{"stream"},
	)
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "active",
			Help:      "Currently tracked symbols",
		},
	)

	// Persistence.
	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Time-series writes by record kind and result",
		},
		[]string{"kind", "result"},
	)
	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "decode_failures_total",
			Help:      "Stored records skipped because they failed to decode",
		},
		[]string{"kind"},
	)
	SweptRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "swept_records_total",
			Help:      "Records deleted by the retention sweeper",
		},
		[]string{"kind"},
	)

	// Query surface.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Query latency by operation",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .2, .5, 1, 2.5},
		},
		[]string{"op"},
	)
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		},
		[]string{"method", "path", "status"},
	)
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP handler latency by route",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path"},
	)
	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "anomalies_total",
			Help:      "Anomalies detected by type and severity",
		},
		[]string{"type", "severity"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
