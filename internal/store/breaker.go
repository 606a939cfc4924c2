// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/overlayd/overlayd/internal/auth"
	"github.com/overlayd/overlayd/internal/config"
	"github.com/overlayd/overlayd/internal/logging"
	"github.com/overlayd/overlayd/internal/metrics"
	"github.com/overlayd/overlayd/internal/models"
)

// breakerName labels the annotation backend breaker in metrics.
const breakerName = "annotation-api"

var _ Backend = (*BreakerClient)(nil)

// BreakerClient wraps Client with a circuit breaker so a dead backend
// fails fast instead of stacking up timeouts. CRUD calls are never
// retried here; the breaker only decides whether a call goes out at
// all.
//
// The breaker runs on real time. Tests should exercise the wrapped
// Client directly rather than wait out breaker windows.
type BreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[any]
	name   string
}

// NewBreakerClient creates an annotation backend client with circuit
// breaker protection. The circuit opens after a 60% failure rate over
// at least 10 requests; 4xx responses count as successes because the
// backend answered.
func NewBreakerClient(cfg config.BackendConfig, tokens auth.TokenProvider) *BreakerClient {
	client := NewClient(cfg, tokens)

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("Opening annotation backend circuit")
				return true
			}
			return false
		},

		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError
			}
			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := breakerStateString(from)
			toStr := breakerStateString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).
				Msg("Annotation backend circuit state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &BreakerClient{client: client, cb: cb, name: breakerName}
}

// List retrieves the annotation set with circuit breaker protection.
func (b *BreakerClient) List(ctx context.Context) ([]models.Annotation, error) {
	result, err := b.execute(func() (any, error) {
		return b.client.List(ctx)
	})
	if err != nil {
		return nil, err
	}
	annotations, ok := result.([]models.Annotation)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return annotations, nil
}

// Create stores a new annotation with circuit breaker protection.
func (b *BreakerClient) Create(ctx context.Context, typ models.AnnotationType, data models.Payload) (*models.Annotation, error) {
	return castResult[models.Annotation](b.execute(func() (any, error) {
		return b.client.Create(ctx, typ, data)
	}))
}

// Update modifies one annotation with circuit breaker protection.
func (b *BreakerClient) Update(ctx context.Context, id string, changed models.Payload) (*models.Annotation, error) {
	return castResult[models.Annotation](b.execute(func() (any, error) {
		return b.client.Update(ctx, id, changed)
	}))
}

// Delete removes one annotation with circuit breaker protection.
func (b *BreakerClient) Delete(ctx context.Context, id string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.client.Delete(ctx, id)
	})
	return err
}

// BulkDelete removes a batch of annotations with circuit breaker
// protection.
func (b *BreakerClient) BulkDelete(ctx context.Context, ids []string) (*models.BulkDeleteResult, error) {
	return castResult[models.BulkDeleteResult](b.execute(func() (any, error) {
		return b.client.BulkDelete(ctx, ids)
	}))
}

// execute runs one backend call through the breaker and records the
// outcome.
func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("Annotation backend request rejected by circuit breaker")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	return result, nil
}

// castResult type-casts a breaker result with error checking.
func castResult[T any](result any, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := result.(*T)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
