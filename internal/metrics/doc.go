// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

/*
Package metrics provides Prometheus metrics collection and export for observability.

This package implements application instrumentation using the Prometheus client
library, exposing metrics for monitoring sync behavior, errors, and system health.

# Overview

The package provides metrics for:
  - Realtime connection lifecycle (state, attempts, failures by category)
  - Annotation CRUD calls against the remote backend
  - Cache state and applied deltas (local vs. remote channel)
  - Feature conversion output per rendered layer
  - Domain event bus throughput
  - Circuit breaker state transitions
  - Operational API latency

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8974/metrics

# Usage Example

	import "github.com/overlayd/overlayd/internal/metrics"

	start := time.Now()
	err := client.Create(ctx, payload)
	metrics.RecordStoreRequest("create", time.Since(start), err)

	metrics.StoreDeltasApplied.WithLabelValues("update", "remote").Inc()
	metrics.StoreCacheSize.Set(float64(len(cache)))

Example PromQL queries:

	# CRUD failure rate
	sum(rate(store_requests_total{result="failure"}[5m]))
	  / sum(rate(store_requests_total[5m]))

	# Reconnect pressure by failure category
	rate(realtime_connection_failures_total[5m])

	# Features currently rendered per layer
	layer_features

# Thread Safety

All metric recording functions are thread-safe and designed for concurrent use
from multiple goroutines. The Prometheus client library handles synchronization
internally.

# Cardinality Management

Label values are drawn from small fixed sets (operation names, layer names,
failure categories); no user- or record-derived values are ever used as labels.
*/
package metrics
