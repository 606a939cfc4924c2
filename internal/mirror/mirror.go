// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

//go:build nats

// Package mirror republishes the in-process domain events onto NATS
// JetStream subjects, so out-of-process consumers can follow the
// annotation stream without speaking the backend's push protocol.
//
// The mirror is an opt-in extra: it requires the nats build tag and
// NATS_ENABLED=true. The in-process bus is authoritative either way;
// a mirror outage never affects the local cache.
package mirror

import (
	"context"
	"fmt"
	"strings"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/overlayd/overlayd/internal/config"
	"github.com/overlayd/overlayd/internal/events"
	"github.com/overlayd/overlayd/internal/logging"
	"github.com/overlayd/overlayd/internal/metrics"
)

// Subscriber is the inbound side of the domain event bus.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Mirror consumes every domain event topic and republishes each
// message onto a NATS subject derived from the topic name.
type Mirror struct {
	cfg       config.NATSConfig
	bus       Subscriber
	publisher message.Publisher
}

// New creates the mirror and its underlying Watermill NATS publisher.
// The connection retries on failure and reconnects automatically;
// JetStream tracks message UUIDs for deduplication.
func New(cfg config.NATSConfig, bus Subscriber) (*Mirror, error) {
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS mirror disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS mirror reconnected")
		}),
	}

	publisher, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
		},
	}, events.NewLoggerAdapter("mirror"))
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS mirror publisher: %w", err)
	}

	return &Mirror{cfg: cfg, bus: bus, publisher: publisher}, nil
}

// Serve implements suture.Service: it consumes every domain topic
// until ctx is canceled. Publish failures are logged and the message
// acked anyway; the mirror is best-effort by design and must never
// stall the in-process bus.
func (m *Mirror) Serve(ctx context.Context) error {
	defer func() {
		if err := m.publisher.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close NATS mirror publisher")
		}
	}()

	type feed struct {
		topic   string
		subject string
		ch      <-chan *message.Message
	}

	feeds := make([]feed, 0, len(events.Topics()))
	for _, topic := range events.Topics() {
		ch, err := m.bus.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("mirror failed to subscribe to %s: %w", topic, err)
		}
		feeds = append(feeds, feed{topic: topic, subject: m.subjectFor(topic), ch: ch})
	}

	logging.Info().Str("url", m.cfg.URL).Str("prefix", m.cfg.SubjectPrefix).
		Msg("Domain event mirror publishing to NATS")

	// One goroutine per feed keeps slow subjects from blocking each
	// other; all stop when ctx cancels and the bus closes the feeds.
	errCh := make(chan error, len(feeds))
	for _, f := range feeds {
		go func(f feed) {
			for msg := range f.ch {
				m.republish(f.topic, f.subject, msg)
			}
			errCh <- nil
		}(f)
	}

	for range feeds {
		<-errCh
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logs.
func (m *Mirror) String() string {
	return "nats-mirror"
}

func (m *Mirror) republish(topic, subject string, msg *message.Message) {
	defer msg.Ack()

	out := message.NewMessage(msg.UUID, msg.Payload)
	if err := m.publisher.Publish(subject, out); err != nil {
		metrics.MirrorPublishErrors.Inc()
		logging.Warn().Err(err).Str("topic", topic).Str("subject", subject).
			Msg("Failed to mirror domain event to NATS")
		return
	}
	metrics.MirrorMessagesPublished.WithLabelValues(topic).Inc()
}

// subjectFor derives the NATS subject for a domain topic, e.g.
// ANNOTATION_UPDATED -> overlayd.events.annotation.updated.
func (m *Mirror) subjectFor(topic string) string {
	prefix := m.cfg.SubjectPrefix
	if prefix == "" {
		prefix = "overlayd.events"
	}
	return prefix + "." + strings.ReplaceAll(strings.ToLower(topic), "_", ".")
}
