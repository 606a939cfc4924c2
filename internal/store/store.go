// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

// Package store keeps the authoritative local copy of the shared
// annotation set.
//
// The cache is a map keyed by annotation id. Every mutation goes to
// the backend first and applies locally only what the backend
// confirmed: creates insert the returned record, updates merge the
// returned fields over the existing ones, deletes remove exactly the
// confirmed ids. Remote deltas arriving over the event bus reuse the
// same mutation paths, so a record converges to the same state no
// matter which side touched it last.
//
// CRUD calls fail fast. There is no retry and no optimistic local
// write; a failed load clears the cache so viewers see an empty map
// rather than a stale one.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/overlayd/overlayd/internal/events"
	"github.com/overlayd/overlayd/internal/logging"
	"github.com/overlayd/overlayd/internal/metrics"
	"github.com/overlayd/overlayd/internal/models"
	"github.com/overlayd/overlayd/internal/render"
)

// Subscriber is the inbound side of the domain event bus.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Store caches the annotation set and keeps the renderer in sync
// after every mutation.
type Store struct {
	backend  Backend
	bus      Subscriber
	renderer render.Renderer

	mu    sync.RWMutex
	cache map[string]models.Annotation

	loaded atomic.Bool

	// publishMu serializes renderer pushes so layer state stays
	// monotonic under concurrent mutations.
	publishMu sync.Mutex

	locations *LocationIndex
}

// New creates a store. renderer may be nil when no layer output is
// wired, for example in tests.
func New(backend Backend, bus Subscriber, renderer render.Renderer) *Store {
	return &Store{
		backend:   backend,
		bus:       bus,
		renderer:  renderer,
		cache:     make(map[string]models.Annotation),
		locations: NewLocationIndex(),
	}
}

// Load fetches the full annotation set and replaces the cache with
// it. On failure the cache is cleared, not left stale: an empty map
// is the fail-safe state.
func (s *Store) Load(ctx context.Context) error {
	start := time.Now()
	annotations, err := s.backend.List(ctx)
	metrics.RecordStoreRequest("load", time.Since(start), err)
	defer s.loaded.Store(true)
	if err != nil {
		s.mu.Lock()
		s.cache = make(map[string]models.Annotation)
		s.mu.Unlock()
		metrics.StoreCacheSize.Set(0)
		s.republish()
		logging.Error().Err(err).Msg("Annotation load failed, cache cleared")
		return fmt.Errorf("failed to load annotations: %w", err)
	}

	cache := make(map[string]models.Annotation, len(annotations))
	for _, ann := range annotations {
		if ann.ID == "" {
			metrics.StoreRecordsSkipped.WithLabelValues("identity").Inc()
			logging.Warn().Str("type", string(ann.Type)).Msg("Skipping annotation without id")
			continue
		}
		cache[ann.ID] = ann
	}

	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	metrics.StoreCacheSize.Set(float64(len(cache)))
	s.republish()

	logging.Info().Int("count", len(cache)).Msg("Annotations loaded")
	return nil
}

// Create stores a new annotation on the backend and inserts the
// record the backend returned. Nothing is inserted optimistically;
// the server-assigned record is the only thing that enters the
// cache.
func (s *Store) Create(ctx context.Context, typ models.AnnotationType, data models.Payload) (*models.Annotation, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("invalid annotation type %q", typ)
	}

	start := time.Now()
	created, err := s.backend.Create(ctx, typ, data)
	metrics.RecordStoreRequest("create", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to create annotation: %w", err)
	}
	if created == nil || created.ID == "" {
		return nil, errors.New("backend returned created annotation without id")
	}

	s.mu.Lock()
	s.cache[created.ID] = *created
	size := len(s.cache)
	s.mu.Unlock()
	metrics.StoreCacheSize.Set(float64(size))
	metrics.StoreDeltasApplied.WithLabelValues("create", "local").Inc()
	s.republish()

	return created, nil
}

// Update sends only the changed data fields to the backend and merges
// what came back over the cached record field by field, so fields the
// response omits keep their current values. An id the cache does not
// know is inserted fresh.
func (s *Store) Update(ctx context.Context, id string, changed models.Payload) (*models.Annotation, error) {
	start := time.Now()
	returned, err := s.backend.Update(ctx, id, changed)
	metrics.RecordStoreRequest("update", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to update annotation: %w", err)
	}
	if returned == nil || returned.ID == "" {
		return nil, errors.New("backend returned updated annotation without id")
	}

	merged := s.applyUpsert(*returned)
	metrics.StoreDeltasApplied.WithLabelValues("update", "local").Inc()
	s.republish()

	return &merged, nil
}

// Delete removes one annotation. Deleting an id the backend no longer
// has still succeeds; the operation is idempotent on both sides.
func (s *Store) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.backend.Delete(ctx, id)
	if err != nil && IsNotFound(err) {
		err = nil
	}
	metrics.RecordStoreRequest("delete", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to delete annotation: %w", err)
	}

	s.removeIDs([]string{id})
	metrics.StoreDeltasApplied.WithLabelValues("delete", "local").Inc()
	s.republish()
	return nil
}

// BulkDelete removes a batch and applies exactly what the backend
// confirmed. Partial success is surfaced, not hidden: the result
// carries the confirmed ids, which may be fewer than requested.
func (s *Store) BulkDelete(ctx context.Context, ids []string) (*models.BulkDeleteResult, error) {
	if len(ids) == 0 {
		return &models.BulkDeleteResult{AnnotationIDs: []string{}}, nil
	}

	start := time.Now()
	result, err := s.backend.BulkDelete(ctx, ids)
	metrics.RecordStoreRequest("bulk_delete", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to bulk delete annotations: %w", err)
	}

	s.removeIDs(result.AnnotationIDs)
	metrics.StoreDeltasApplied.WithLabelValues("bulk_delete", "local").Inc()
	s.republish()

	if result.DeletedCount != len(ids) {
		logging.Warn().Int("requested", len(ids)).Int("deleted", result.DeletedCount).
			Msg("Bulk delete confirmed fewer annotations than requested")
	}
	return result, nil
}

// Find returns one cached annotation by id.
func (s *Store) Find(id string) (models.Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ann, ok := s.cache[id]
	return ann, ok
}

// All returns the cached annotations ordered by id.
func (s *Store) All() []models.Annotation {
	s.mu.RLock()
	out := make([]models.Annotation, 0, len(s.cache))
	for _, ann := range s.cache {
		out = append(out, ann)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of cached annotations.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// Locations returns the live position index.
func (s *Store) Locations() *LocationIndex {
	return s.locations
}

// LiveLocations returns a snapshot of the tracked live positions.
func (s *Store) LiveLocations() []models.Location {
	return s.locations.All()
}

// Ready reports whether at least one load attempt has completed. The
// fail-safe empty state after a failed load still counts as ready.
func (s *Store) Ready() bool {
	return s.loaded.Load()
}

// FeatureCollections converts the cached set into per-layer GeoJSON.
func (s *Store) FeatureCollections() render.Collections {
	return render.Build(s.All())
}

// Run consumes remote deltas from the event bus until ctx is
// canceled. Remote mutations flow through the same cache logic as
// local CRUD.
func (s *Store) Run(ctx context.Context) error {
	updates, err := s.bus.Subscribe(ctx, events.TopicAnnotationUpdated)
	if err != nil {
		return err
	}
	deletes, err := s.bus.Subscribe(ctx, events.TopicAnnotationDeleted)
	if err != nil {
		return err
	}
	bulkDeletes, err := s.bus.Subscribe(ctx, events.TopicAnnotationBulkDeleted)
	if err != nil {
		return err
	}
	locations, err := s.bus.Subscribe(ctx, events.TopicLocationUpdated)
	if err != nil {
		return err
	}

	logging.Info().Msg("Annotation store consuming domain events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-updates:
			if !ok {
				return nil
			}
			s.consumeUpdate(msg)
		case msg, ok := <-deletes:
			if !ok {
				return nil
			}
			s.consumeDelete(msg)
		case msg, ok := <-bulkDeletes:
			if !ok {
				return nil
			}
			s.consumeBulkDelete(msg)
		case msg, ok := <-locations:
			if !ok {
				return nil
			}
			s.consumeLocation(msg)
		}
	}
}

func (s *Store) consumeUpdate(msg *message.Message) {
	defer msg.Ack()
	metrics.BusMessagesConsumed.WithLabelValues(events.TopicAnnotationUpdated).Inc()

	var ann models.Annotation
	if err := json.Unmarshal(msg.Payload, &ann); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Undecodable annotation update event")
		return
	}
	if ann.ID == "" {
		logging.Warn().Str("message_id", msg.UUID).Msg("Annotation update event without id")
		return
	}

	s.applyUpsert(ann)
	metrics.StoreDeltasApplied.WithLabelValues("update", "remote").Inc()
	s.republish()
}

func (s *Store) consumeDelete(msg *message.Message) {
	defer msg.Ack()
	metrics.BusMessagesConsumed.WithLabelValues(events.TopicAnnotationDeleted).Inc()

	var payload models.DeletePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Undecodable annotation delete event")
		return
	}
	if payload.ID == "" {
		logging.Warn().Str("message_id", msg.UUID).Msg("Annotation delete event without id")
		return
	}

	s.removeIDs([]string{payload.ID})
	metrics.StoreDeltasApplied.WithLabelValues("delete", "remote").Inc()
	s.republish()
}

func (s *Store) consumeBulkDelete(msg *message.Message) {
	defer msg.Ack()
	metrics.BusMessagesConsumed.WithLabelValues(events.TopicAnnotationBulkDeleted).Inc()

	var result models.BulkDeleteResult
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Undecodable bulk delete event")
		return
	}

	s.removeIDs(result.AnnotationIDs)
	metrics.StoreDeltasApplied.WithLabelValues("bulk_delete", "remote").Inc()
	s.republish()
}

func (s *Store) consumeLocation(msg *message.Message) {
	defer msg.Ack()
	metrics.BusMessagesConsumed.WithLabelValues(events.TopicLocationUpdated).Inc()

	var loc models.Location
	if err := json.Unmarshal(msg.Payload, &loc); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Undecodable location event")
		return
	}

	if !s.locations.Update(loc) {
		logging.Warn().Str("user_id", loc.UserID).Msg("Skipping location without identity or valid coordinate")
		return
	}
	metrics.StoreDeltasApplied.WithLabelValues("location", "remote").Inc()
}

// applyUpsert merges an incoming record over the cached one, or
// inserts it when the id is unknown. The data payloads merge at field
// granularity; record metadata follows the incoming values where
// present.
func (s *Store) applyUpsert(incoming models.Annotation) models.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cache[incoming.ID]
	if !ok {
		s.cache[incoming.ID] = incoming
		metrics.StoreCacheSize.Set(float64(len(s.cache)))
		return incoming
	}

	merged := existing
	merged.Data = models.MergePayloads(existing.Data, incoming.Data)
	if incoming.Type != "" {
		merged.Type = incoming.Type
	}
	if incoming.OwnerID != "" {
		merged.OwnerID = incoming.OwnerID
	}
	if incoming.TeamID != "" {
		merged.TeamID = incoming.TeamID
	}
	if !incoming.CreatedAt.IsZero() {
		merged.CreatedAt = incoming.CreatedAt
	}

	s.cache[incoming.ID] = merged
	return merged
}

// removeIDs deletes the given ids from the cache and returns how many
// were actually present.
func (s *Store) removeIDs(ids []string) int {
	s.mu.Lock()
	removed := 0
	for _, id := range ids {
		if _, ok := s.cache[id]; ok {
			delete(s.cache, id)
			removed++
		}
	}
	size := len(s.cache)
	s.mu.Unlock()

	metrics.StoreCacheSize.Set(float64(size))
	return removed
}

// republish rebuilds the layer collections and pushes them to the
// renderer.
func (s *Store) republish() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	collections := render.Build(s.All())
	poi, line, area, polygon := collections.Counts()
	metrics.SetLayerFeatureCounts(poi, line, area, polygon)

	if s.renderer == nil {
		return
	}
	if err := collections.Apply(s.renderer); err != nil {
		logging.Error().Err(err).Msg("Failed to push layer data to renderer")
	}
}
