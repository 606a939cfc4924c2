// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package api

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/overlayd/overlayd/internal/render"
)

func TestLayerCacheStartsWithAllLayersEmpty(t *testing.T) {
	cache := NewLayerCache()

	for _, source := range render.Sources() {
		fc, ok := cache.Layer(source)
		if !ok {
			t.Fatalf("layer %q missing", source)
		}
		if len(fc.Features) != 0 {
			t.Errorf("layer %q not empty: %d features", source, len(fc.Features))
		}
	}
}

func TestLayerCacheSetDataReplacesLayer(t *testing.T) {
	cache := NewLayerCache()

	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{-75, 40}))
	if err := cache.SetData(render.SourcePOI, fc); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	got, ok := cache.Layer(render.SourcePOI)
	if !ok {
		t.Fatal("poi layer missing after SetData")
	}
	if len(got.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(got.Features))
	}

	// Other layers are untouched.
	line, _ := cache.Layer(render.SourceLine)
	if len(line.Features) != 0 {
		t.Errorf("line layer should be empty, has %d", len(line.Features))
	}
}

func TestLayerCacheUnknownSource(t *testing.T) {
	cache := NewLayerCache()

	if _, ok := cache.Layer("heatmap"); ok {
		t.Fatal("unknown source should not resolve")
	}
}

func TestLayerCacheSnapshotIsComplete(t *testing.T) {
	cache := NewLayerCache()

	snapshot := cache.Snapshot()
	if len(snapshot) != len(render.Sources()) {
		t.Fatalf("expected %d layers, got %d", len(render.Sources()), len(snapshot))
	}
}
