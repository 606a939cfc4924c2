// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"

	"github.com/overlayd/overlayd/internal/models"
	"github.com/overlayd/overlayd/internal/realtime"
	"github.com/overlayd/overlayd/internal/render"
	"github.com/overlayd/overlayd/internal/viewport"
)

// AnnotationSource is the slice of the store the handlers read.
// Satisfied by *store.Store.
type AnnotationSource interface {
	All() []models.Annotation
	Count() int
	LiveLocations() []models.Location
	Ready() bool
}

// Connection controls the realtime channel. Satisfied by
// *realtime.Manager.
type Connection interface {
	Connect()
	Disconnect()
	SetVisibility(visible bool)
	Status() realtime.Status
}

// Handlers holds the HTTP handlers and their injected dependencies.
type Handlers struct {
	source   AnnotationSource
	layers   *LayerCache
	viewport *viewport.Calculator
	conn     Connection
}

// NewHandlers creates the handler set.
func NewHandlers(source AnnotationSource, layers *LayerCache, vp *viewport.Calculator, conn Connection) *Handlers {
	return &Handlers{
		source:   source,
		layers:   layers,
		viewport: vp,
		conn:     conn,
	}
}

// healthBody is the /healthz payload.
type healthBody struct {
	Status     string          `json:"status"`
	Connection realtime.Status `json:"connection"`
	CacheSize  int             `json:"cacheSize"`
}

// Healthz reports liveness plus connection state and cache size. It
// answers 200 even when the realtime channel is down: the pull path
// and the cached layers still work without it.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, healthBody{
		Status:     "ok",
		Connection: h.conn.Status(),
		CacheSize:  h.source.Count(),
	})
}

// Readyz reports readiness. Ready means the initial load completed;
// the fail-safe empty cache after a failed load counts, an absent one
// does not.
func (h *Handlers) Readyz(w http.ResponseWriter, _ *http.Request) {
	if !h.source.Ready() {
		respondError(w, http.StatusServiceUnavailable, ErrCodeInternalError, "initial annotation load has not completed")
		return
	}
	respondSuccess(w, map[string]string{"status": "ready"})
}

// layerInfo is one entry of the layer index.
type layerInfo struct {
	Source   string `json:"source"`
	Features int    `json:"features"`
}

// Layers serves the layer index: every source id with its current
// feature count.
func (h *Handlers) Layers(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.layers.Snapshot()

	index := make([]layerInfo, 0, len(snapshot))
	for _, source := range sortedSources(snapshot) {
		index = append(index, layerInfo{Source: source, Features: len(snapshot[source].Features)})
	}
	respondSuccess(w, index)
}

// Layer serves the GeoJSON feature collection for one layer source.
// Unknown sources answer 404.
func (h *Handlers) Layer(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "layer")

	fc, ok := h.layers.Layer(source)
	if !ok {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "unknown layer: "+source)
		return
	}
	respondGeoJSON(w, fc)
}

// Viewport serves the auto-center camera placement for the current
// cache and live positions.
func (h *Handlers) Viewport(w http.ResponseWriter, _ *http.Request) {
	vp := h.viewport.AutoCenter(h.source.All(), h.source.LiveLocations())
	respondSuccess(w, vp)
}

// annotationsBody is the diagnostic listing payload.
type annotationsBody struct {
	Count       int                 `json:"count"`
	Annotations []models.Annotation `json:"annotations"`
	Locations   []models.Location   `json:"locations"`
}

// Annotations serves the cached records and live positions as-is, for
// debugging sync issues. Records excluded from rendering still show
// up here.
func (h *Handlers) Annotations(w http.ResponseWriter, _ *http.Request) {
	annotations := h.source.All()
	respondSuccess(w, annotationsBody{
		Count:       len(annotations),
		Annotations: annotations,
		Locations:   h.source.LiveLocations(),
	})
}

// ConnectionConnect triggers an explicit realtime connect. This is
// the escape hatch out of the terminal disconnected state.
func (h *Handlers) ConnectionConnect(w http.ResponseWriter, _ *http.Request) {
	h.conn.Connect()
	respondSuccess(w, h.conn.Status())
}

// ConnectionDisconnect tears the realtime channel down manually. No
// automatic reconnection follows.
func (h *Handlers) ConnectionDisconnect(w http.ResponseWriter, _ *http.Request) {
	h.conn.Disconnect()
	respondSuccess(w, h.conn.Status())
}

// visibilityBody is the /connection/visibility request payload.
type visibilityBody struct {
	Visible *bool `json:"visible"`
}

// ConnectionVisibility relays host visibility to the channel. The
// embedding front end posts here on tab focus changes; regaining
// visibility reconnects a channel that is anything but connected.
func (h *Handlers) ConnectionVisibility(w http.ResponseWriter, r *http.Request) {
	var body visibilityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Visible == nil {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "body must be a JSON object with a boolean visible field")
		return
	}
	h.conn.SetVisibility(*body.Visible)
	respondSuccess(w, h.conn.Status())
}

// sortedSources orders snapshot keys in the canonical layer order,
// with any unexpected extras appended alphabetically.
func sortedSources(snapshot map[string]*geojson.FeatureCollection) []string {
	out := make([]string, 0, len(snapshot))
	seen := make(map[string]bool, len(snapshot))
	for _, source := range render.Sources() {
		if _, ok := snapshot[source]; ok {
			out = append(out, source)
			seen[source] = true
		}
	}

	extras := make([]string, 0)
	for source := range snapshot {
		if !seen[source] {
			extras = append(extras, source)
		}
	}
	sort.Strings(extras)
	return append(out, extras...)
}
