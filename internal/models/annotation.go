// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package models

import (
	"time"

	"github.com/overlayd/overlayd/internal/geo"
)

// AnnotationType is the geometry category of an annotation. Each type
// maps to exactly one render layer.
type AnnotationType string

const (
	TypePOI     AnnotationType = "poi"
	TypeLine    AnnotationType = "line"
	TypeArea    AnnotationType = "area"
	TypePolygon AnnotationType = "polygon"
)

// Valid reports whether t is one of the four known annotation types.
func (t AnnotationType) Valid() bool {
	switch t {
	case TypePOI, TypeLine, TypeArea, TypePolygon:
		return true
	}
	return false
}

// Annotation represents one shared geospatial record as served by the
// backend. The Data payload shape depends on Type:
//
//	poi:     {position, color, shape, label}
//	line:    {points (>=2), color, label}
//	polygon: {points (>=3), color, label}
//	area:    {center, radius (>0), color, label}
//
// Records whose payload violates these constraints stay in the cache
// but are excluded from rendered output.
type Annotation struct {
	ID        string         `json:"id"`
	Type      AnnotationType `json:"type"`
	Data      Payload        `json:"data"`
	OwnerID   string         `json:"ownerId,omitempty"`
	TeamID    string         `json:"teamId,omitempty"`
	CreatedAt time.Time      `json:"createdAt,omitempty"`
}

// AnnotationData is the decoded form of an annotation payload. All
// fields are optional on the wire; type-specific validity is checked
// at render time, not decode time.
type AnnotationData struct {
	Position *geo.Coordinate  `json:"position,omitempty"` // poi
	Points   []geo.Coordinate `json:"points,omitempty"`   // line, polygon
	Center   *geo.Coordinate  `json:"center,omitempty"`   // area
	Radius   *float64         `json:"radius,omitempty"`   // area, meters
	Color    string           `json:"color,omitempty"`
	Shape    string           `json:"shape,omitempty"` // poi icon shape
	Label    string           `json:"label,omitempty"`
}
