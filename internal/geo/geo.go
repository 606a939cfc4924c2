// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

// Package geo canonicalizes wire coordinates and computes the derived
// geometry overlayd renders: circle approximation rings, polyline
// lengths and display areas.
//
// All distances use the haversine formula on a spherical Earth with
// mean radius 6,371,000 m. Circle rings are generated with the
// spherical direct formula using the same radius, so a circle's
// rendered extent matches its reported radius within floating point
// tolerance.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// EarthRadiusMeters is the mean Earth radius shared by distance
	// and destination computations.
	EarthRadiusMeters = 6371000.0

	// DefaultCircleSegments is the number of arc segments used to
	// approximate a circle when the caller does not choose one.
	DefaultCircleSegments = 32
)

// metersPerDegreeLat is the north-south ground distance of one degree
// of latitude on the sphere.
const metersPerDegreeLat = math.Pi * EarthRadiusMeters / 180

// Coordinate is the wire form of a geographic position. Upstream
// clients emit three spellings of the same (latitude, longitude)
// pair: {lat,lng}, {lt,lng} and {latitude,longitude}. Fields are
// pointers so absence is distinguishable from zero.
type Coordinate struct {
	Lat       *float64 `json:"lat,omitempty"`
	Lt        *float64 `json:"lt,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// NewCoordinate builds the {lat,lng} wire shape. Used by tests and
// by code that synthesizes coordinates internally.
func NewCoordinate(lat, lng float64) Coordinate {
	return Coordinate{Lat: &lat, Lng: &lng}
}

// Canonical resolves the coordinate to a [lng, lat] point. Latitude
// resolves from lat, then lt, then latitude; longitude from lng, then
// longitude. Returns false when either axis is missing, non-finite or
// out of range (longitude beyond ±180, latitude beyond ±90). Invalid
// values are rejected, never clamped.
func (c Coordinate) Canonical() (orb.Point, bool) {
	lat := firstValue(c.Lat, c.Lt, c.Latitude)
	lng := firstValue(c.Lng, c.Longitude)
	if lat == nil || lng == nil {
		return orb.Point{}, false
	}
	if !isFinite(*lat) || !isFinite(*lng) {
		return orb.Point{}, false
	}
	if *lat < -90 || *lat > 90 || *lng < -180 || *lng > 180 {
		return orb.Point{}, false
	}
	return orb.Point{*lng, *lat}, true
}

// CanonicalAll resolves every coordinate in order. Returns false if
// any single coordinate is invalid, so callers can reject a geometry
// wholesale instead of rendering a partial shape.
func CanonicalAll(coords []Coordinate) ([]orb.Point, bool) {
	points := make([]orb.Point, 0, len(coords))
	for _, c := range coords {
		p, ok := c.Canonical()
		if !ok {
			return nil, false
		}
		points = append(points, p)
	}
	return points, true
}

func firstValue(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Distance returns the haversine great-circle distance in meters
// between two [lng, lat] points.
func Distance(a, b orb.Point) float64 {
	lat1 := radians(a[1])
	lat2 := radians(b[1])
	dLat := radians(b[1] - a[1])
	dLng := radians(b[0] - a[0])

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// CirclePolygon approximates a circle of radiusMeters around center
// as a closed ring of segments+1 [lng, lat] points. Vertex i lies at
// bearing i*360/segments degrees via the spherical direct formula;
// the final vertex repeats vertex 0 so the ring is closed. A
// non-positive segments count falls back to DefaultCircleSegments.
func CirclePolygon(center orb.Point, radiusMeters float64, segments int) orb.Ring {
	if segments <= 0 {
		segments = DefaultCircleSegments
	}
	if radiusMeters < 0 || !isFinite(radiusMeters) {
		radiusMeters = 0
	}

	lat1 := radians(center[1])
	lng1 := radians(center[0])
	sinLat1 := math.Sin(lat1)
	cosLat1 := math.Cos(lat1)

	d := radiusMeters / EarthRadiusMeters
	sinD := math.Sin(d)
	cosD := math.Cos(d)

	ring := make(orb.Ring, 0, segments+1)
	for i := 0; i < segments; i++ {
		bearing := radians(float64(i) * 360 / float64(segments))

		sinLat2 := sinLat1*cosD + cosLat1*sinD*math.Cos(bearing)
		lat2 := math.Asin(sinLat2)
		lng2 := lng1 + math.Atan2(
			math.Sin(bearing)*sinD*cosLat1,
			cosD-sinLat1*sinLat2,
		)

		ring = append(ring, orb.Point{degrees(lng2), degrees(lat2)})
	}
	ring = append(ring, ring[0])
	return ring
}

// PolylineLength sums the haversine distances between consecutive
// [lng, lat] points. Fewer than two points yields 0.
func PolylineLength(points []orb.Point) float64 {
	if len(points) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

// PolygonArea computes the planar shoelace area of a [lng, lat] ring
// in square meters, scaling degree-space by the local meters per
// degree at the first vertex's latitude. This is a display
// approximation, not a geodesic area. The ring may be open or closed;
// fewer than three distinct vertices yields 0.
func PolygonArea(points []orb.Point) float64 {
	n := len(points)
	if n >= 2 && points[0] == points[n-1] {
		points = points[:n-1]
		n--
	}
	if n < 3 {
		return 0
	}

	metersPerDegreeLng := metersPerDegreeLat * math.Cos(radians(points[0][1]))

	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		xi := points[i][0] * metersPerDegreeLng
		yi := points[i][1] * metersPerDegreeLat
		xj := points[j][0] * metersPerDegreeLng
		yj := points[j][1] * metersPerDegreeLat
		sum += xi*yj - xj*yi
	}
	return math.Abs(sum) / 2
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
