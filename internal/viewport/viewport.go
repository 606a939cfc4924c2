// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

// Package viewport derives an initial camera placement from store
// contents and live positions. The calculator is a pure function of
// its inputs, so camera policy is testable without a renderer.
package viewport

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/overlayd/overlayd/internal/config"
	"github.com/overlayd/overlayd/internal/models"
)

// Viewport source values, in preference order.
const (
	SourceLive        = "live"
	SourceAnnotations = "annotations"
	SourceDefault     = "default"
)

// singlePointMargin pads the box around a lone coordinate so the
// camera does not fit-bounds onto a zero-area region.
const singlePointMargin = 0.01

// Viewport is a camera placement: either a center plus zoom, or a
// bounding box for the renderer to fit.
type Viewport struct {
	Center orb.Point `json:"center"` // [lng, lat]
	Zoom   float64   `json:"zoom,omitempty"`
	Bounds *Bounds   `json:"bounds,omitempty"`
	Source string    `json:"source"`
}

// Bounds is a padded [sw, ne] box in [lng, lat] order.
type Bounds struct {
	SouthWest orb.Point `json:"sw"`
	NorthEast orb.Point `json:"ne"`
}

// Calculator computes viewports against configured defaults.
type Calculator struct {
	cfg config.ViewportConfig
}

// NewCalculator creates a calculator with the given camera defaults.
func NewCalculator(cfg config.ViewportConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// AutoCenter picks the camera placement: the freshest valid live
// position at user zoom when one exists, else the padded union box of
// every valid coordinate across all records, else the configured
// default region.
func (c *Calculator) AutoCenter(annotations []models.Annotation, locations []models.Location) Viewport {
	if point, ok := freshestPosition(locations); ok {
		return Viewport{
			Center: point,
			Zoom:   c.cfg.UserZoom,
			Source: SourceLive,
		}
	}

	if bound, ok := unionBound(annotations); ok {
		padded := pad(bound, c.cfg.Padding)
		return Viewport{
			Center: padded.Center(),
			Bounds: &Bounds{SouthWest: padded.Min, NorthEast: padded.Max},
			Source: SourceAnnotations,
		}
	}

	return Viewport{
		Center: orb.Point{c.cfg.DefaultLongitude, c.cfg.DefaultLatitude},
		Zoom:   c.cfg.DefaultZoom,
		Source: SourceDefault,
	}
}

// freshestPosition returns the canonical point of the most recently
// stamped valid location. Locations without timestamps lose to
// stamped ones and otherwise fall back to input order.
func freshestPosition(locations []models.Location) (orb.Point, bool) {
	var (
		best      orb.Point
		bestStamp time.Time
		found     bool
	)
	for _, loc := range locations {
		point, ok := loc.Canonical()
		if !ok {
			continue
		}
		if !found || loc.Timestamp.After(bestStamp) {
			best = point
			bestStamp = loc.Timestamp
			found = true
		}
	}
	return best, found
}

// unionBound extends a bounding box over every valid coordinate in
// every record. Records with undecodable payloads contribute nothing.
func unionBound(annotations []models.Annotation) (orb.Bound, bool) {
	var (
		bound orb.Bound
		found bool
	)

	extend := func(point orb.Point) {
		if !found {
			bound = orb.Bound{Min: point, Max: point}
			found = true
			return
		}
		bound = bound.Extend(point)
	}

	for _, ann := range annotations {
		data, err := ann.Data.Decode()
		if err != nil {
			continue
		}

		if data.Position != nil {
			if point, ok := data.Position.Canonical(); ok {
				extend(point)
			}
		}
		if data.Center != nil {
			if point, ok := data.Center.Canonical(); ok {
				extend(point)
			}
		}
		for _, coord := range data.Points {
			if point, ok := coord.Canonical(); ok {
				extend(point)
			}
		}
	}

	return bound, found
}

// pad expands the box by fraction of its span on every side, with a
// fixed margin when the span collapses to a point.
func pad(bound orb.Bound, fraction float64) orb.Bound {
	dx := (bound.Max[0] - bound.Min[0]) * fraction
	dy := (bound.Max[1] - bound.Min[1]) * fraction
	if dx == 0 {
		dx = singlePointMargin
	}
	if dy == 0 {
		dy = singlePointMargin
	}

	return orb.Bound{
		Min: orb.Point{clampLng(bound.Min[0] - dx), clampLat(bound.Min[1] - dy)},
		Max: orb.Point{clampLng(bound.Max[0] + dx), clampLat(bound.Max[1] + dy)},
	}
}

func clampLng(v float64) float64 {
	if v < -180 {
		return -180
	}
	if v > 180 {
		return 180
	}
	return v
}

func clampLat(v float64) float64 {
	if v < -90 {
		return -90
	}
	if v > 90 {
		return 90
	}
	return v
}
