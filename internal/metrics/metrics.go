// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - Realtime channel connection lifecycle
// - Annotation CRUD calls and cache state
// - Domain event bus throughput
// - Feature conversion output per layer
// - Operational API latency

var (
	// Realtime Connection Metrics
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connection_state",
			Help: "Realtime connection state (0=idle, 1=connecting, 2=connected, 3=backoff, 4=disconnected)",
		},
	)

	ConnectionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_connection_attempts_total",
			Help: "Total number of connection attempts",
		},
		[]string{"trigger"}, // "manual", "retry", "visibility"
	)

	ConnectionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_connection_failures_total",
			Help: "Total number of connection failures by category",
		},
		[]string{"category"}, // "dial", "drop"
	)

	ConnectionEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_received_total",
			Help: "Total number of push events received by event name",
		},
		[]string{"event"},
	)

	ConnectionMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_messages_dropped_total",
			Help: "Total number of inbound messages dropped (malformed envelope)",
		},
	)

	// Annotation Store Metrics
	StoreRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_requests_total",
			Help: "Total number of remote CRUD requests",
		},
		[]string{"operation", "result"}, // operation: "load", "create", "update", "delete", "bulk_delete"; result: "success", "failure"
	)

	StoreRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_request_duration_seconds",
			Help:    "Remote CRUD request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_cache_entries",
			Help: "Current number of cached annotation records",
		},
	)

	StoreDeltasApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_deltas_applied_total",
			Help: "Total number of cache mutations applied",
		},
		[]string{"operation", "source"}, // source: "local", "remote"
	)

	StoreRecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_records_skipped_total",
			Help: "Total number of records skipped during feature conversion",
		},
		[]string{"reason"}, // "payload", "geometry"
	)

	// Feature Conversion Metrics
	LayerFeatures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "layer_features",
			Help: "Current number of rendered features per layer",
		},
		[]string{"layer"}, // "poi", "line", "area", "polygon"
	)

	ConversionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feature_conversion_duration_seconds",
			Help:    "Duration of full feature collection conversion in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	// Event Bus Metrics
	BusMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_published_total",
			Help: "Total number of domain events published to the bus",
		},
		[]string{"topic"},
	)

	BusMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_consumed_total",
			Help: "Total number of domain events consumed from the bus",
		},
		[]string{"topic"},
	)

	// Bridge Metrics
	BridgeReloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_sync_reloads_total",
			Help: "Total number of debounced full reloads triggered by sync activity",
		},
	)

	BridgeSignalsAbsorbed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_sync_signals_absorbed_total",
			Help: "Total number of sync activity signals absorbed into a pending reload",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// NATS Mirror Metrics
	MirrorMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_messages_published_total",
			Help: "Total number of domain events mirrored to NATS",
		},
		[]string{"topic"},
	)

	MirrorPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_publish_errors_total",
			Help: "Total number of mirror publish failures",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordStoreRequest records a remote CRUD call metric.
func RecordStoreRequest(operation string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	StoreRequests.WithLabelValues(operation, result).Inc()
	StoreRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAPIRequest records an operational API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// SetLayerFeatureCounts updates the per-layer feature gauges after a conversion.
func SetLayerFeatureCounts(poi, line, area, polygon int) {
	LayerFeatures.WithLabelValues("poi").Set(float64(poi))
	LayerFeatures.WithLabelValues("line").Set(float64(line))
	LayerFeatures.WithLabelValues("area").Set(float64(area))
	LayerFeatures.WithLabelValues("polygon").Set(float64(polygon))
}
