// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/overlayd/overlayd/internal/events"
	"github.com/overlayd/overlayd/internal/geo"
	"github.com/overlayd/overlayd/internal/models"
)

// fakeBackend lets each test script the backend's behavior.
type fakeBackend struct {
	listFn   func(ctx context.Context) ([]models.Annotation, error)
	createFn func(ctx context.Context, typ models.AnnotationType, data models.Payload) (*models.Annotation, error)
	updateFn func(ctx context.Context, id string, changed models.Payload) (*models.Annotation, error)
	deleteFn func(ctx context.Context, id string) error
	bulkFn   func(ctx context.Context, ids []string) (*models.BulkDeleteResult, error)
}

func (f *fakeBackend) List(ctx context.Context) ([]models.Annotation, error) {
	if f.listFn == nil {
		return nil, errors.New("unexpected List call")
	}
	return f.listFn(ctx)
}

func (f *fakeBackend) Create(ctx context.Context, typ models.AnnotationType, data models.Payload) (*models.Annotation, error) {
	if f.createFn == nil {
		return nil, errors.New("unexpected Create call")
	}
	return f.createFn(ctx, typ, data)
}

func (f *fakeBackend) Update(ctx context.Context, id string, changed models.Payload) (*models.Annotation, error) {
	if f.updateFn == nil {
		return nil, errors.New("unexpected Update call")
	}
	return f.updateFn(ctx, id, changed)
}

func (f *fakeBackend) Delete(ctx context.Context, id string) error {
	if f.deleteFn == nil {
		return errors.New("unexpected Delete call")
	}
	return f.deleteFn(ctx, id)
}

func (f *fakeBackend) BulkDelete(ctx context.Context, ids []string) (*models.BulkDeleteResult, error) {
	if f.bulkFn == nil {
		return nil, errors.New("unexpected BulkDelete call")
	}
	return f.bulkFn(ctx, ids)
}

// recordingRenderer captures layer pushes.
type recordingRenderer struct {
	mu    sync.Mutex
	calls map[string]int
	last  map[string]*geojson.FeatureCollection
}

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{
		calls: make(map[string]int),
		last:  make(map[string]*geojson.FeatureCollection),
	}
}

func (r *recordingRenderer) SetData(sourceID string, fc *geojson.FeatureCollection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[sourceID]++
	r.last[sourceID] = fc
	return nil
}

func (r *recordingRenderer) featureCount(sourceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	fc := r.last[sourceID]
	if fc == nil {
		return -1
	}
	return len(fc.Features)
}

func mustPayload(t *testing.T, data models.AnnotationData) models.Payload {
	t.Helper()
	payload, err := models.NewPayload(data)
	if err != nil {
		t.Fatalf("NewPayload() error: %v", err)
	}
	return payload
}

func poiAnnotation(t *testing.T, id string, lat, lng float64, color, label string) models.Annotation {
	t.Helper()
	position := geo.NewCoordinate(lat, lng)
	return models.Annotation{
		ID:   id,
		Type: models.TypePOI,
		Data: mustPayload(t, models.AnnotationData{Position: &position, Color: color, Label: label}),
	}
}

func TestStoreLoadReplacesCache(t *testing.T) {
	backend := &fakeBackend{}
	backend.listFn = func(context.Context) ([]models.Annotation, error) {
		return []models.Annotation{
			poiAnnotation(t, "a1", 40, -75, "#ff0000", "alpha"),
			poiAnnotation(t, "a2", 41, -74, "#00ff00", "beta"),
		}, nil
	}
	s := New(backend, nil, nil)

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := s.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}

	// A second load replaces rather than accumulates.
	backend.listFn = func(context.Context) ([]models.Annotation, error) {
		return []models.Annotation{poiAnnotation(t, "a3", 42, -73, "#0000ff", "gamma")}, nil
	}
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := s.Count(); got != 1 {
		t.Errorf("Count() after reload = %d, want 1", got)
	}
	if _, ok := s.Find("a1"); ok {
		t.Error("Find(a1) = true after reload that dropped it")
	}
	if _, ok := s.Find("a3"); !ok {
		t.Error("Find(a3) = false, want true")
	}
}

func TestStoreLoadFailureClearsCache(t *testing.T) {
	backend := &fakeBackend{}
	backend.listFn = func(context.Context) ([]models.Annotation, error) {
		return []models.Annotation{poiAnnotation(t, "a1", 40, -75, "#ff0000", "")}, nil
	}
	renderer := newRecordingRenderer()
	s := New(backend, nil, renderer)

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := s.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}

	backend.listFn = func(context.Context) ([]models.Annotation, error) {
		return nil, errors.New("backend down")
	}
	if err := s.Load(context.Background()); err == nil {
		t.Fatal("Load() = nil, want error")
	}

	// Fail-safe-empty: the stale set is gone and the renderer sees
	// empty layers.
	if got := s.Count(); got != 0 {
		t.Errorf("Count() after failed load = %d, want 0", got)
	}
	if got := renderer.featureCount("poi"); got != 0 {
		t.Errorf("poi layer features after failed load = %d, want 0", got)
	}
}

func TestStoreLoadSkipsRecordsWithoutID(t *testing.T) {
	backend := &fakeBackend{}
	backend.listFn = func(context.Context) ([]models.Annotation, error) {
		return []models.Annotation{
			poiAnnotation(t, "a1", 40, -75, "#ff0000", ""),
			poiAnnotation(t, "", 41, -74, "#00ff00", ""),
		}, nil
	}
	s := New(backend, nil, nil)

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := s.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestStoreReadyAfterFirstLoad(t *testing.T) {
	backend := &fakeBackend{}
	backend.listFn = func(context.Context) ([]models.Annotation, error) {
		return nil, errors.New("backend down")
	}
	s := New(backend, nil, nil)

	if s.Ready() {
		t.Fatal("Ready() = true before any load attempt")
	}
	if err := s.Load(context.Background()); err == nil {
		t.Fatal("Load() error = nil, want backend failure")
	}
	// A failed load still settles the store into its empty state.
	if !s.Ready() {
		t.Error("Ready() = false after failed load, want true")
	}
	if got := s.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

func TestStoreCreateInsertsServerRecord(t *testing.T) {
	backend := &fakeBackend{}
	backend.createFn = func(_ context.Context, typ models.AnnotationType, data models.Payload) (*models.Annotation, error) {
		return &models.Annotation{ID: "srv-9", Type: typ, Data: data, OwnerID: "viewer-1"}, nil
	}
	s := New(backend, nil, nil)

	position := geo.NewCoordinate(40, -75)
	created, err := s.Create(context.Background(), models.TypePOI,
		mustPayload(t, models.AnnotationData{Position: &position, Color: "#ff0000"}))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if created.ID != "srv-9" {
		t.Errorf("created id = %q, want srv-9", created.ID)
	}

	cached, ok := s.Find("srv-9")
	if !ok {
		t.Fatal("Find(srv-9) = false, want true")
	}
	if cached.OwnerID != "viewer-1" {
		t.Errorf("cached owner = %q, want viewer-1", cached.OwnerID)
	}
}

func TestStoreCreateFailureLeavesCacheUntouched(t *testing.T) {
	backend := &fakeBackend{}
	backend.createFn = func(context.Context, models.AnnotationType, models.Payload) (*models.Annotation, error) {
		return nil, errors.New("backend rejected annotation")
	}
	s := New(backend, nil, nil)

	position := geo.NewCoordinate(40, -75)
	_, err := s.Create(context.Background(), models.TypePOI,
		mustPayload(t, models.AnnotationData{Position: &position}))
	if err == nil {
		t.Fatal("Create() = nil, want error")
	}
	if got := s.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0 (no optimistic insert)", got)
	}
}

func TestStoreCreateRejectsInvalidType(t *testing.T) {
	called := false
	backend := &fakeBackend{}
	backend.createFn = func(context.Context, models.AnnotationType, models.Payload) (*models.Annotation, error) {
		called = true
		return nil, nil
	}
	s := New(backend, nil, nil)

	_, err := s.Create(context.Background(), models.AnnotationType("blob"), models.Payload{})
	if err == nil {
		t.Fatal("Create() = nil, want invalid type error")
	}
	if called {
		t.Error("backend Create called for an invalid type")
	}
}

func TestStoreUpdateMergePreservesUntouchedFields(t *testing.T) {
	backend := &fakeBackend{}
	backend.listFn = func(context.Context) ([]models.Annotation, error) {
		return []models.Annotation{poiAnnotation(t, "a1", 40, -75, "#ff0000", "checkpoint")}, nil
	}
	var sentPayload models.Payload
	backend.updateFn = func(_ context.Context, id string, changed models.Payload) (*models.Annotation, error) {
		sentPayload = changed
		// Backend echoes only the changed fields.
		return &models.Annotation{ID: id, Data: changed}, nil
	}
	s := New(backend, nil, nil)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	merged, err := s.Update(context.Background(), "a1", models.RawPayload([]byte(`{"color":"#00ff00"}`)))
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	// Only the changed field went over the wire.
	obj, err := sentPayload.Object()
	if err != nil {
		t.Fatalf("Object() error: %v", err)
	}
	if len(obj) != 1 {
		t.Errorf("sent payload fields = %d, want 1", len(obj))
	}

	data, err := merged.Data.Decode()
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if data.Color != "#00ff00" {
		t.Errorf("merged color = %q, want #00ff00", data.Color)
	}
	if data.Label != "checkpoint" {
		t.Errorf("merged label = %q, want checkpoint (must survive the color update)", data.Label)
	}
	if data.Position == nil {
		t.Fatal("merged position = nil, want preserved")
	}
	point, ok := data.Position.Canonical()
	if !ok || point[0] != -75 || point[1] != 40 {
		t.Errorf("merged position = %v (ok=%v), want [-75 40]", point, ok)
	}
}

func TestStoreUpdateUnknownIDInsertsFresh(t *testing.T) {
	backend := &fakeBackend{}
	backend.updateFn = func(_ context.Context, id string, changed models.Payload) (*models.Annotation, error) {
		ann := poiAnnotation(t, id, 42, -73, "#0000ff", "fresh")
		return &ann, nil
	}
	s := New(backend, nil, nil)

	if _, err := s.Update(context.Background(), "a7", models.RawPayload([]byte(`{"color":"#0000ff"}`))); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if _, ok := s.Find("a7"); !ok {
		t.Error("Find(a7) = false, want inserted record")
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	calls := 0
	backend := &fakeBackend{}
	backend.listFn = func(context.Context) ([]models.Annotation, error) {
		return []models.Annotation{poiAnnotation(t, "a1", 40, -75, "#ff0000", "")}, nil
	}
	backend.deleteFn = func(_ context.Context, id string) error {
		calls++
		if calls > 1 {
			return &APIError{StatusCode: 404, Body: "no such annotation"}
		}
		return nil
	}
	s := New(backend, nil, nil)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if err := s.Delete(context.Background(), "a1"); err != nil {
		t.Fatalf("first Delete() error: %v", err)
	}
	if got := s.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}

	// Deleting again hits a backend 404 and still succeeds.
	if err := s.Delete(context.Background(), "a1"); err != nil {
		t.Fatalf("second Delete() error: %v", err)
	}
	if got := s.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

func TestStoreBulkDeleteRemovesConfirmed(t *testing.T) {
	backend := &fakeBackend{}
	backend.listFn = func(context.Context) ([]models.Annotation, error) {
		return []models.Annotation{
			poiAnnotation(t, "a1", 40, -75, "#ff0000", ""),
			poiAnnotation(t, "a2", 41, -74, "#00ff00", ""),
			poiAnnotation(t, "a3", 42, -73, "#0000ff", ""),
		}, nil
	}
	backend.bulkFn = func(_ context.Context, ids []string) (*models.BulkDeleteResult, error) {
		if len(ids) != 2 || ids[0] != "a1" || ids[1] != "a3" {
			t.Errorf("bulk delete ids = %v, want [a1 a3]", ids)
		}
		return &models.BulkDeleteResult{DeletedCount: 2, AnnotationIDs: []string{"a1", "a3"}}, nil
	}
	s := New(backend, nil, nil)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	result, err := s.BulkDelete(context.Background(), []string{"a1", "a3"})
	if err != nil {
		t.Fatalf("BulkDelete() error: %v", err)
	}
	if result.DeletedCount != 2 {
		t.Errorf("DeletedCount = %d, want 2", result.DeletedCount)
	}

	remaining := s.All()
	if len(remaining) != 1 || remaining[0].ID != "a2" {
		t.Errorf("remaining = %v, want exactly [a2]", annotationIDs(remaining))
	}
}

func TestStoreBulkDeletePartialConfirmation(t *testing.T) {
	backend := &fakeBackend{}
	backend.listFn = func(context.Context) ([]models.Annotation, error) {
		return []models.Annotation{
			poiAnnotation(t, "a1", 40, -75, "#ff0000", ""),
			poiAnnotation(t, "a2", 41, -74, "#00ff00", ""),
		}, nil
	}
	backend.bulkFn = func(_ context.Context, ids []string) (*models.BulkDeleteResult, error) {
		return &models.BulkDeleteResult{DeletedCount: 1, AnnotationIDs: []string{"a1"}}, nil
	}
	s := New(backend, nil, nil)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	result, err := s.BulkDelete(context.Background(), []string{"a1", "a2"})
	if err != nil {
		t.Fatalf("BulkDelete() error: %v", err)
	}
	if result.DeletedCount != 1 {
		t.Errorf("DeletedCount = %d, want 1", result.DeletedCount)
	}

	// Only the confirmed id left the cache.
	if _, ok := s.Find("a2"); !ok {
		t.Error("Find(a2) = false, want unconfirmed id to survive")
	}
}

func TestStoreBulkDeleteEmptyRequest(t *testing.T) {
	s := New(&fakeBackend{}, nil, nil)

	result, err := s.BulkDelete(context.Background(), nil)
	if err != nil {
		t.Fatalf("BulkDelete() error: %v", err)
	}
	if result.DeletedCount != 0 || len(result.AnnotationIDs) != 0 {
		t.Errorf("result = %+v, want empty", result)
	}
}

func TestStoreRepublishesToRenderer(t *testing.T) {
	backend := &fakeBackend{}
	backend.listFn = func(context.Context) ([]models.Annotation, error) {
		return []models.Annotation{poiAnnotation(t, "a1", 40, -75, "#ff0000", "")}, nil
	}
	renderer := newRecordingRenderer()
	s := New(backend, nil, renderer)

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Every layer is pushed, populated or not.
	for _, source := range []string{"poi", "line", "area", "polygon"} {
		if got := renderer.featureCount(source); got < 0 {
			t.Errorf("layer %s never pushed", source)
		}
	}
	if got := renderer.featureCount("poi"); got != 1 {
		t.Errorf("poi features = %d, want 1", got)
	}
}

func TestStoreRemoteDeltas(t *testing.T) {
	bus := events.NewBus()
	defer func() { _ = bus.Close() }()

	s := New(&fakeBackend{}, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	// Give the consumer time to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)

	publish := func(topic string, payload any) {
		t.Helper()
		if err := bus.Publish(context.Background(), topic, payload); err != nil {
			t.Fatalf("Publish(%s) error: %v", topic, err)
		}
	}

	// Remote insert.
	publish(events.TopicAnnotationUpdated, poiAnnotation(t, "r1", 40, -75, "#ff0000", "remote"))
	waitForStore(t, "remote insert", func() bool {
		_, ok := s.Find("r1")
		return ok
	})

	// Remote field update merges like a local one.
	publish(events.TopicAnnotationUpdated, models.Annotation{
		ID:   "r1",
		Data: models.RawPayload([]byte(`{"color":"#00ff00"}`)),
	})
	waitForStore(t, "remote merge", func() bool {
		ann, ok := s.Find("r1")
		if !ok {
			return false
		}
		data, err := ann.Data.Decode()
		return err == nil && data.Color == "#00ff00" && data.Label == "remote"
	})

	// Remote delete.
	publish(events.TopicAnnotationDeleted, models.DeletePayload{ID: "r1"})
	waitForStore(t, "remote delete", func() bool {
		_, ok := s.Find("r1")
		return !ok
	})

	// Remote bulk delete removes exactly the listed ids.
	publish(events.TopicAnnotationUpdated, poiAnnotation(t, "b1", 40, -75, "#ff0000", ""))
	publish(events.TopicAnnotationUpdated, poiAnnotation(t, "b2", 41, -74, "#00ff00", ""))
	waitForStore(t, "bulk seed", func() bool { return s.Count() == 2 })
	publish(events.TopicAnnotationBulkDeleted, models.BulkDeleteResult{
		DeletedCount:  1,
		AnnotationIDs: []string{"b1"},
	})
	waitForStore(t, "remote bulk delete", func() bool {
		_, b1 := s.Find("b1")
		_, b2 := s.Find("b2")
		return !b1 && b2
	})

	// Remote live position.
	publish(events.TopicLocationUpdated, models.Location{
		Coordinate: geo.NewCoordinate(40, -75),
		UserID:     "u1",
		Username:   "alice",
	})
	waitForStore(t, "remote location", func() bool { return s.Locations().Count() == 1 })

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned %v, want nil or context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func waitForStore(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func annotationIDs(annotations []models.Annotation) []string {
	ids := make([]string, 0, len(annotations))
	for _, ann := range annotations {
		ids = append(ids, ann.ID)
	}
	return ids
}
