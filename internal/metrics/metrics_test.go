// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestRecordStoreRequest tests CRUD metric recording.
func TestRecordStoreRequest(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		duration  time.Duration
		err       error
		result    string
	}{
		{
			name:      "successful load",
			operation: "load",
			duration:  10 * time.Millisecond,
			err:       nil,
			result:    "success",
		},
		{
			name:      "failed create",
			operation: "create",
			duration:  100 * time.Millisecond,
			err:       errors.New("connection refused"),
			result:    "failure",
		},
		{
			name:      "successful bulk delete",
			operation: "bulk_delete",
			duration:  5 * time.Millisecond,
			err:       nil,
			result:    "success",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(StoreRequests.WithLabelValues(tt.operation, tt.result))

			RecordStoreRequest(tt.operation, tt.duration, tt.err)

			after := testutil.ToFloat64(StoreRequests.WithLabelValues(tt.operation, tt.result))
			if after != before+1 {
				t.Errorf("expected counter %s/%s to increment by 1, got %f -> %f",
					tt.operation, tt.result, before, after)
			}
		})
	}
}

// TestRecordAPIRequest verifies the request counter increments with labels.
func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/layers", "200"))

	RecordAPIRequest("GET", "/api/v1/layers", "200", 25*time.Millisecond)

	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/layers", "200"))
	if after != before+1 {
		t.Errorf("expected api_requests_total to increment by 1, got %f -> %f", before, after)
	}
}

// TestSetLayerFeatureCounts verifies all four layer gauges are set.
func TestSetLayerFeatureCounts(t *testing.T) {
	SetLayerFeatureCounts(3, 1, 4, 2)

	checks := map[string]float64{
		"poi":     3,
		"line":    1,
		"area":    4,
		"polygon": 2,
	}
	for layer, want := range checks {
		got := testutil.ToFloat64(LayerFeatures.WithLabelValues(layer))
		if got != want {
			t.Errorf("layer %s: expected gauge %f, got %f", layer, want, got)
		}
	}
}

// TestGaugesAreSettable exercises the connection and cache gauges.
func TestGaugesAreSettable(t *testing.T) {
	ConnectionState.Set(2)
	if got := testutil.ToFloat64(ConnectionState); got != 2 {
		t.Errorf("expected connection state 2, got %f", got)
	}

	StoreCacheSize.Set(42)
	if got := testutil.ToFloat64(StoreCacheSize); got != 42 {
		t.Errorf("expected cache size 42, got %f", got)
	}
}

// TestCounterVecsDoNotPanic exercises labeled counters with valid label sets.
func TestCounterVecsDoNotPanic(t *testing.T) {
	ConnectionFailures.WithLabelValues("dial").Inc()
	ConnectionFailures.WithLabelValues("drop").Inc()
	ConnectionAttempts.WithLabelValues("manual").Inc()
	ConnectionEventsReceived.WithLabelValues("annotation_update").Inc()
	StoreDeltasApplied.WithLabelValues("delete", "remote").Inc()
	StoreRecordsSkipped.WithLabelValues("geometry").Inc()
	BusMessagesPublished.WithLabelValues("ANNOTATION_UPDATED").Inc()
	BusMessagesConsumed.WithLabelValues("LOCATION_UPDATED").Inc()
	CircuitBreakerRequests.WithLabelValues("annotation-api", "rejected").Inc()
}
