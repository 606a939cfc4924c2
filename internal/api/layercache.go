// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package api

import (
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/overlayd/overlayd/internal/render"
)

// LayerCache is the renderer target for the HTTP surface: the store
// pushes layer collections into it and map clients pull them back out
// as GeoJSON. Reads always see a complete push, never a half-applied
// one per layer.
type LayerCache struct {
	mu     sync.RWMutex
	layers map[string]*geojson.FeatureCollection
}

var _ render.Renderer = (*LayerCache)(nil)

// NewLayerCache creates a cache with every known layer empty.
func NewLayerCache() *LayerCache {
	layers := make(map[string]*geojson.FeatureCollection)
	for _, source := range render.Sources() {
		layers[source] = geojson.NewFeatureCollection()
	}
	return &LayerCache{layers: layers}
}

// SetData implements render.Renderer.
func (c *LayerCache) SetData(sourceID string, fc *geojson.FeatureCollection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers[sourceID] = fc
	return nil
}

// Layer returns the collection for one source id.
func (c *LayerCache) Layer(sourceID string) (*geojson.FeatureCollection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fc, ok := c.layers[sourceID]
	return fc, ok
}

// Snapshot returns all layers keyed by source id.
func (c *LayerCache) Snapshot() map[string]*geojson.FeatureCollection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]*geojson.FeatureCollection, len(c.layers))
	for source, fc := range c.layers {
		out[source] = fc
	}
	return out
}
