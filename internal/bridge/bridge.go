// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

// Package bridge translates realtime transport events into domain
// events on the internal bus.
//
// The mapping is one to one for annotation and location events; sync
// activity is the exception. Relevant sync activity signals that bulk
// changes landed on the backend, so instead of forwarding each signal
// the bridge coalesces a burst into a single debounced full reload
// through the pull path.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/overlayd/overlayd/internal/events"
	"github.com/overlayd/overlayd/internal/logging"
	"github.com/overlayd/overlayd/internal/metrics"
	"github.com/overlayd/overlayd/internal/models"
	"github.com/overlayd/overlayd/internal/realtime"
)

// EventSource is the slice of the connection manager the bridge
// needs: a subscription registry that survives reconnects, plus the
// current channel state so Serve can bind eagerly when it starts
// after the channel already connected.
type EventSource interface {
	On(event string, handler realtime.Handler) realtime.Subscription
	Off(sub realtime.Subscription)
	State() realtime.State
}

// Publisher is the outbound side of the domain event bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Reloader refreshes the annotation cache through the pull path.
type Reloader func(ctx context.Context) error

// Bridge owns the wire-to-domain event wiring. Wire listeners are
// bound as a set when the channel connects and unbound as a set when
// it drops, so a half-wired bridge is never observable.
type Bridge struct {
	source        EventSource
	bus           Publisher
	reload        Reloader
	debounce      time.Duration
	loadOnConnect bool

	mu          sync.Mutex
	wired       []realtime.Subscription
	reloadTimer *time.Timer
	baseCtx     context.Context
}

// New creates a bridge. debounce bounds how often coalesced sync
// activity may trigger a reload; loadOnConnect additionally requests
// a reload whenever the channel (re)connects.
func New(source EventSource, bus Publisher, reload Reloader, debounce time.Duration, loadOnConnect bool) *Bridge {
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Bridge{
		source:        source,
		bus:           bus,
		reload:        reload,
		debounce:      debounce,
		loadOnConnect: loadOnConnect,
		baseCtx:       context.Background(),
	}
}

// Serve registers the lifecycle listeners and holds until ctx is
// canceled, then unwires everything.
func (b *Bridge) Serve(ctx context.Context) error {
	b.mu.Lock()
	b.baseCtx = ctx
	b.mu.Unlock()

	connSub := b.source.On(realtime.EventConnected, b.handleConnected)
	dropSub := b.source.On(realtime.EventDisconnected, b.handleDisconnected)

	// The channel may have connected before these listeners existed.
	// handleConnected is idempotent, so racing a live connected event
	// here is harmless.
	if b.source.State() == realtime.StateConnected {
		b.handleConnected(nil)
	}

	<-ctx.Done()

	b.source.Off(connSub)
	b.source.Off(dropSub)
	b.teardown()
	return ctx.Err()
}

// handleConnected binds the wire listener set. Binding is idempotent
// so a duplicate connected event cannot double-register.
func (b *Bridge) handleConnected(json.RawMessage) {
	b.mu.Lock()
	if len(b.wired) == 0 {
		b.wired = []realtime.Subscription{
			b.source.On(realtime.EventAnnotationUpdate, b.forward(events.TopicAnnotationUpdated)),
			b.source.On(realtime.EventAnnotationDelete, b.forward(events.TopicAnnotationDeleted)),
			b.source.On(realtime.EventAnnotationBulkDelete, b.forward(events.TopicAnnotationBulkDeleted)),
			b.source.On(realtime.EventLocationUpdate, b.forward(events.TopicLocationUpdated)),
			b.source.On(realtime.EventSyncActivity, b.handleSyncActivity),
		}
		logging.Info().Int("listeners", len(b.wired)).Msg("Realtime listeners bound")
	}
	b.mu.Unlock()

	if b.loadOnConnect {
		b.requestReload()
	}
}

// handleDisconnected unbinds the wire listener set. A pending reload
// timer keeps running: the pull path works without the push channel.
func (b *Bridge) handleDisconnected(json.RawMessage) {
	b.mu.Lock()
	wired := b.wired
	b.wired = nil
	b.mu.Unlock()

	for _, sub := range wired {
		b.source.Off(sub)
	}
	if len(wired) > 0 {
		logging.Info().Int("listeners", len(wired)).Msg("Realtime listeners unbound")
	}
}

// forward returns a handler that republishes the raw wire payload on
// the given bus topic unchanged.
func (b *Bridge) forward(topic string) realtime.Handler {
	return func(data json.RawMessage) {
		if err := b.bus.Publish(b.serveContext(), topic, data); err != nil {
			logging.Error().Err(err).Str("topic", topic).Msg("Failed to publish realtime event")
		}
	}
}

// handleSyncActivity filters activity signals and coalesces relevant
// ones into a debounced reload.
func (b *Bridge) handleSyncActivity(data json.RawMessage) {
	var activity models.SyncActivity
	if err := json.Unmarshal(data, &activity); err != nil {
		logging.Warn().Err(err).Msg("Undecodable sync activity payload")
		return
	}
	if !activity.RelevantToMap() {
		logging.Debug().Str("type", activity.Type).Msg("Ignoring unrelated sync activity")
		return
	}
	b.requestReload()
}

// requestReload arms the debounce timer. Signals arriving while the
// timer is armed are absorbed, so a burst produces exactly one
// reload and continuous signals cannot starve it.
func (b *Bridge) requestReload() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.reloadTimer != nil {
		metrics.BridgeSignalsAbsorbed.Inc()
		return
	}
	b.reloadTimer = time.AfterFunc(b.debounce, b.fireReload)
}

func (b *Bridge) fireReload() {
	b.mu.Lock()
	b.reloadTimer = nil
	ctx := b.baseCtx
	b.mu.Unlock()

	metrics.BridgeReloads.Inc()
	logging.Debug().Msg("Coalesced sync activity, reloading annotations")
	if err := b.reload(ctx); err != nil {
		logging.Error().Err(err).Msg("Debounced annotation reload failed")
	}
}

func (b *Bridge) serveContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.baseCtx
}

func (b *Bridge) teardown() {
	b.mu.Lock()
	wired := b.wired
	b.wired = nil
	if b.reloadTimer != nil {
		b.reloadTimer.Stop()
		b.reloadTimer = nil
	}
	b.mu.Unlock()

	for _, sub := range wired {
		b.source.Off(sub)
	}
}
