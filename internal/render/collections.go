// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

// Package render converts cached annotations into GeoJSON feature
// collections, one collection per geometry layer. Conversion is
// skip-and-continue: a record with an undecodable payload or invalid
// geometry is excluded with a diagnostic and never aborts the rest.
package render

import (
	"github.com/paulmach/orb/geojson"

	"github.com/overlayd/overlayd/internal/models"
)

// Layer source identifiers, matching the renderer's source names.
const (
	SourcePOI     = "poi"
	SourceLine    = "line"
	SourceArea    = "area"
	SourcePolygon = "polygon"
)

// Sources lists every layer source in a stable order.
func Sources() []string {
	return []string{SourcePOI, SourceLine, SourceArea, SourcePolygon}
}

// Renderer consumes one feature collection per layer source. The map
// renderer sitting in front of overlayd implements this; so does the
// HTTP layer cache.
type Renderer interface {
	SetData(sourceID string, fc *geojson.FeatureCollection) error
}

// Collections groups the rendered features by layer. Every field is
// always non-nil, holding an empty collection when no record of that
// type is renderable.
type Collections struct {
	POI     *geojson.FeatureCollection
	Line    *geojson.FeatureCollection
	Area    *geojson.FeatureCollection
	Polygon *geojson.FeatureCollection
}

// NewCollections returns empty collections for all four layers.
func NewCollections() Collections {
	return Collections{
		POI:     geojson.NewFeatureCollection(),
		Line:    geojson.NewFeatureCollection(),
		Area:    geojson.NewFeatureCollection(),
		Polygon: geojson.NewFeatureCollection(),
	}
}

// ForSource returns the collection backing a layer source, or nil for
// an unknown source id.
func (c Collections) ForSource(sourceID string) *geojson.FeatureCollection {
	switch sourceID {
	case SourcePOI:
		return c.POI
	case SourceLine:
		return c.Line
	case SourceArea:
		return c.Area
	case SourcePolygon:
		return c.Polygon
	}
	return nil
}

// forType returns the collection matching an annotation type.
func (c Collections) forType(t models.AnnotationType) *geojson.FeatureCollection {
	switch t {
	case models.TypePOI:
		return c.POI
	case models.TypeLine:
		return c.Line
	case models.TypeArea:
		return c.Area
	case models.TypePolygon:
		return c.Polygon
	}
	return nil
}

// Counts returns the number of features per layer.
func (c Collections) Counts() (poi, line, area, polygon int) {
	return len(c.POI.Features), len(c.Line.Features), len(c.Area.Features), len(c.Polygon.Features)
}

// Apply pushes every layer to the renderer. The first error aborts;
// layers are applied in Sources() order.
func (c Collections) Apply(r Renderer) error {
	for _, source := range Sources() {
		if err := r.SetData(source, c.ForSource(source)); err != nil {
			return err
		}
	}
	return nil
}
