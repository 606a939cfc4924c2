// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package render

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/overlayd/overlayd/internal/geo"
	"github.com/overlayd/overlayd/internal/logging"
	"github.com/overlayd/overlayd/internal/metrics"
	"github.com/overlayd/overlayd/internal/models"
)

// Skip reasons. Records failing either check stay in the cache but
// produce no feature.
var (
	ErrPayload  = errors.New("undecodable payload")
	ErrGeometry = errors.New("invalid geometry")
)

// Build converts annotations into per-layer feature collections.
// Exactly one feature is emitted per renderable record; records that
// fail payload decoding or geometry validation are skipped with a
// diagnostic log line and a metrics increment.
func Build(annotations []models.Annotation) Collections {
	start := time.Now()
	defer func() {
		metrics.ConversionDuration.Observe(time.Since(start).Seconds())
	}()

	collections := NewCollections()

	for _, ann := range annotations {
		feature, err := FeatureFor(ann)
		if err != nil {
			reason := "geometry"
			if errors.Is(err, ErrPayload) {
				reason = "payload"
			}
			metrics.StoreRecordsSkipped.WithLabelValues(reason).Inc()
			logging.Warn().
				Str("annotation_id", ann.ID).
				Str("type", string(ann.Type)).
				Err(err).
				Msg("Skipping annotation from render output")
			continue
		}
		collections.forType(ann.Type).Append(feature)
	}

	return collections
}

// FeatureFor renders a single annotation. Returns ErrPayload when the
// data field cannot be decoded, ErrGeometry when the decoded geometry
// violates the type's constraints.
func FeatureFor(ann models.Annotation) (*geojson.Feature, error) {
	data, err := ann.Data.Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayload, err)
	}

	var feature *geojson.Feature
	switch ann.Type {
	case models.TypePOI:
		feature, err = poiFeature(data)
	case models.TypeLine:
		feature, err = lineFeature(data)
	case models.TypeArea:
		feature, err = areaFeature(data)
	case models.TypePolygon:
		feature, err = polygonFeature(data)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrGeometry, ann.Type)
	}
	if err != nil {
		return nil, err
	}

	decorate(feature, ann, data)
	return feature, nil
}

func poiFeature(data models.AnnotationData) (*geojson.Feature, error) {
	if data.Position == nil {
		return nil, fmt.Errorf("%w: poi without position", ErrGeometry)
	}
	point, ok := data.Position.Canonical()
	if !ok {
		return nil, fmt.Errorf("%w: poi position out of range", ErrGeometry)
	}

	feature := geojson.NewFeature(point)
	feature.Properties["icon"] = IconID(data.Shape, data.Color)
	return feature, nil
}

func lineFeature(data models.AnnotationData) (*geojson.Feature, error) {
	points, ok := geo.CanonicalAll(data.Points)
	if !ok {
		return nil, fmt.Errorf("%w: line has invalid point", ErrGeometry)
	}
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: line needs at least 2 points, has %d", ErrGeometry, len(points))
	}

	feature := geojson.NewFeature(orb.LineString(points))
	feature.Properties["length_m"] = geo.PolylineLength(points)
	return feature, nil
}

func areaFeature(data models.AnnotationData) (*geojson.Feature, error) {
	if data.Center == nil {
		return nil, fmt.Errorf("%w: area without center", ErrGeometry)
	}
	center, ok := data.Center.Canonical()
	if !ok {
		return nil, fmt.Errorf("%w: area center out of range", ErrGeometry)
	}
	if data.Radius == nil || *data.Radius <= 0 {
		return nil, fmt.Errorf("%w: area needs a positive radius", ErrGeometry)
	}

	ring := geo.CirclePolygon(center, *data.Radius, geo.DefaultCircleSegments)
	feature := geojson.NewFeature(orb.Polygon{ring})
	feature.Properties["radius_m"] = *data.Radius
	feature.Properties["area_m2"] = geo.PolygonArea(ring)
	return feature, nil
}

func polygonFeature(data models.AnnotationData) (*geojson.Feature, error) {
	points, ok := geo.CanonicalAll(data.Points)
	if !ok {
		return nil, fmt.Errorf("%w: polygon has invalid point", ErrGeometry)
	}
	if len(points) < 3 {
		return nil, fmt.Errorf("%w: polygon needs at least 3 points, has %d", ErrGeometry, len(points))
	}

	ring := orb.Ring(points)
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}

	feature := geojson.NewFeature(orb.Polygon{ring})
	feature.Properties["area_m2"] = geo.PolygonArea(ring)
	return feature, nil
}

// decorate copies identity and style metadata onto the feature.
func decorate(feature *geojson.Feature, ann models.Annotation, data models.AnnotationData) {
	feature.ID = ann.ID
	feature.Properties["id"] = ann.ID
	feature.Properties["type"] = string(ann.Type)

	if data.Color != "" {
		feature.Properties["color"] = data.Color
	}
	if data.Shape != "" {
		feature.Properties["shape"] = data.Shape
	}
	if data.Label != "" {
		feature.Properties["label"] = data.Label
	}
	if ann.OwnerID != "" {
		feature.Properties["owner"] = ann.OwnerID
	}
	if ann.TeamID != "" {
		feature.Properties["team"] = ann.TeamID
	}
	if !ann.CreatedAt.IsZero() {
		feature.Properties["createdAt"] = ann.CreatedAt.UTC().Format(time.RFC3339)
	}
}

// IconID derives the POI sprite identifier from shape and color,
// falling back to defaults so a bare POI still gets a visible marker.
func IconID(shape, color string) string {
	if shape == "" {
		shape = "marker"
	}
	if color == "" {
		color = "default"
	}
	return shape + "-" + color
}
