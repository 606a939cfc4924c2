// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

// Package events carries the in-process domain event bus. Transport
// events arriving over the realtime channel are translated into the
// topics below and fanned out to every subscriber; topic names are
// deliberately decoupled from the wire event names so a transport
// rename never ripples through the store.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/overlayd/overlayd/internal/metrics"
)

// Domain event topics. Payload shapes mirror the corresponding push
// events: Annotation, DeletePayload, BulkDeleteRequest, Location.
const (
	TopicAnnotationUpdated     = "ANNOTATION_UPDATED"
	TopicAnnotationDeleted     = "ANNOTATION_DELETED"
	TopicAnnotationBulkDeleted = "ANNOTATION_BULK_DELETED"
	TopicLocationUpdated       = "LOCATION_UPDATED"
)

// Topics lists every domain event topic, in a stable order.
func Topics() []string {
	return []string{
		TopicAnnotationUpdated,
		TopicAnnotationDeleted,
		TopicAnnotationBulkDeleted,
		TopicLocationUpdated,
	}
}

// Bus is an in-process pub/sub fabric over Watermill's gochannel
// transport. Every subscriber of a topic receives every message
// published after it subscribed; nothing is persisted.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.RWMutex
	closed bool
}

// NewBus creates the bus. The output buffer absorbs short consumer
// stalls without blocking publishers.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			NewLoggerAdapter("bus"),
		),
	}
}

// Publish serializes payload as JSON and publishes it on topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	b.mu.RUnlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}

	msg := message.NewMessage(uuid.New().String(), data)
	msg.SetContext(ctx)

	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}

	metrics.BusMessagesPublished.WithLabelValues(topic).Inc()
	return nil
}

// Subscribe returns a channel of messages for topic. The channel
// closes when ctx is canceled or the bus closes. Consumers must Ack
// or Nack every message.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return ch, nil
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return b.pubsub.Close()
}
