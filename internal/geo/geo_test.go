// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func floatPtr(v float64) *float64 { return &v }

// approxEqual reports whether got is within relTol (relative) of want.
func approxEqual(got, want, relTol float64) bool {
	if want == 0 {
		return math.Abs(got) <= relTol
	}
	return math.Abs(got-want)/math.Abs(want) <= relTol
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		name   string
		coord  Coordinate
		want   orb.Point
		wantOK bool
	}{
		{
			name:   "lat lng shape",
			coord:  Coordinate{Lat: floatPtr(40), Lng: floatPtr(-75)},
			want:   orb.Point{-75, 40},
			wantOK: true,
		},
		{
			name:   "lt lng shape",
			coord:  Coordinate{Lt: floatPtr(40), Lng: floatPtr(-75)},
			want:   orb.Point{-75, 40},
			wantOK: true,
		},
		{
			name:   "latitude longitude shape",
			coord:  Coordinate{Latitude: floatPtr(40), Longitude: floatPtr(-75)},
			want:   orb.Point{-75, 40},
			wantOK: true,
		},
		{
			name:   "lat takes precedence over lt",
			coord:  Coordinate{Lat: floatPtr(40), Lt: floatPtr(10), Lng: floatPtr(-75)},
			want:   orb.Point{-75, 40},
			wantOK: true,
		},
		{
			name:   "lng takes precedence over longitude",
			coord:  Coordinate{Lat: floatPtr(40), Lng: floatPtr(-75), Longitude: floatPtr(12)},
			want:   orb.Point{-75, 40},
			wantOK: true,
		},
		{
			name:   "boundary values accepted",
			coord:  Coordinate{Lat: floatPtr(-90), Lng: floatPtr(180)},
			want:   orb.Point{180, -90},
			wantOK: true,
		},
		{
			name:   "latitude out of range rejected",
			coord:  Coordinate{Lat: floatPtr(200), Lng: floatPtr(-75)},
			wantOK: false,
		},
		{
			name:   "longitude out of range rejected",
			coord:  Coordinate{Lat: floatPtr(40), Lng: floatPtr(181)},
			wantOK: false,
		},
		{
			name:   "missing latitude rejected",
			coord:  Coordinate{Lng: floatPtr(-75)},
			wantOK: false,
		},
		{
			name:   "missing longitude rejected",
			coord:  Coordinate{Lat: floatPtr(40)},
			wantOK: false,
		},
		{
			name:   "empty coordinate rejected",
			coord:  Coordinate{},
			wantOK: false,
		},
		{
			name:   "NaN rejected",
			coord:  Coordinate{Lat: floatPtr(math.NaN()), Lng: floatPtr(-75)},
			wantOK: false,
		},
		{
			name:   "infinity rejected",
			coord:  Coordinate{Lat: floatPtr(40), Lng: floatPtr(math.Inf(1))},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.coord.Canonical()
			if ok != tt.wantOK {
				t.Fatalf("Canonical() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Canonical() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanonicalAll(t *testing.T) {
	t.Run("all valid", func(t *testing.T) {
		coords := []Coordinate{
			NewCoordinate(40, -75),
			{Lt: floatPtr(41), Lng: floatPtr(-76)},
		}
		points, ok := CanonicalAll(coords)
		if !ok {
			t.Fatal("CanonicalAll() rejected valid coordinates")
		}
		if len(points) != 2 {
			t.Fatalf("len(points) = %d, want 2", len(points))
		}
		if points[0] != (orb.Point{-75, 40}) || points[1] != (orb.Point{-76, 41}) {
			t.Errorf("points = %v", points)
		}
	})

	t.Run("one invalid rejects all", func(t *testing.T) {
		coords := []Coordinate{
			NewCoordinate(40, -75),
			NewCoordinate(200, -75),
		}
		if _, ok := CanonicalAll(coords); ok {
			t.Error("CanonicalAll() accepted an out-of-range coordinate")
		}
	})

	t.Run("empty input", func(t *testing.T) {
		points, ok := CanonicalAll(nil)
		if !ok {
			t.Fatal("CanonicalAll(nil) should succeed")
		}
		if len(points) != 0 {
			t.Errorf("len(points) = %d, want 0", len(points))
		}
	})
}

func TestDistance(t *testing.T) {
	t.Run("identical points", func(t *testing.T) {
		p := orb.Point{-75, 40}
		if d := Distance(p, p); d != 0 {
			t.Errorf("Distance(p, p) = %f, want 0", d)
		}
	})

	t.Run("one degree of latitude", func(t *testing.T) {
		a := orb.Point{-75, 40}
		b := orb.Point{-75, 41}
		// One degree of latitude on the sphere is pi*R/180 meters.
		want := math.Pi * EarthRadiusMeters / 180
		if d := Distance(a, b); !approxEqual(d, want, 1e-9) {
			t.Errorf("Distance = %f, want %f", d, want)
		}
	})

	t.Run("symmetry", func(t *testing.T) {
		a := orb.Point{-75, 40}
		b := orb.Point{-74.5, 40.5}
		if d1, d2 := Distance(a, b), Distance(b, a); d1 != d2 {
			t.Errorf("Distance not symmetric: %f vs %f", d1, d2)
		}
	})
}

func TestCirclePolygon(t *testing.T) {
	center := orb.Point{-75, 40}

	t.Run("closed ring with radius preserved", func(t *testing.T) {
		ring := CirclePolygon(center, 100, 32)

		if len(ring) != 33 {
			t.Fatalf("len(ring) = %d, want 33", len(ring))
		}
		if ring[0] != ring[32] {
			t.Errorf("ring not closed: first %v, last %v", ring[0], ring[32])
		}
		for i, p := range ring {
			d := Distance(center, p)
			if !approxEqual(d, 100, 0.01) {
				t.Errorf("vertex %d at %f m from center, want 100 m within 1%%", i, d)
			}
		}
	})

	t.Run("default segment count", func(t *testing.T) {
		ring := CirclePolygon(center, 50, 0)
		if len(ring) != DefaultCircleSegments+1 {
			t.Errorf("len(ring) = %d, want %d", len(ring), DefaultCircleSegments+1)
		}
	})

	t.Run("zero radius degenerates to center", func(t *testing.T) {
		ring := CirclePolygon(center, 0, 8)
		for i, p := range ring {
			if d := Distance(center, p); d > 1e-6 {
				t.Errorf("vertex %d is %f m from center, want 0", i, d)
			}
		}
	})

	t.Run("high latitude keeps radius", func(t *testing.T) {
		polar := orb.Point{18, 78} // Svalbard
		ring := CirclePolygon(polar, 500, 32)
		for i, p := range ring {
			d := Distance(polar, p)
			if !approxEqual(d, 500, 0.01) {
				t.Errorf("vertex %d at %f m, want 500 m within 1%%", i, d)
			}
		}
	})
}

func TestPolylineLength(t *testing.T) {
	t.Run("fewer than two points", func(t *testing.T) {
		if l := PolylineLength(nil); l != 0 {
			t.Errorf("PolylineLength(nil) = %f, want 0", l)
		}
		if l := PolylineLength([]orb.Point{{-75, 40}}); l != 0 {
			t.Errorf("PolylineLength(single) = %f, want 0", l)
		}
	})

	t.Run("segments accumulate", func(t *testing.T) {
		points := []orb.Point{{-75, 40}, {-75, 41}, {-75, 42}}
		want := 2 * math.Pi * EarthRadiusMeters / 180
		if l := PolylineLength(points); !approxEqual(l, want, 1e-9) {
			t.Errorf("PolylineLength = %f, want %f", l, want)
		}
	})
}

func TestPolygonArea(t *testing.T) {
	t.Run("degenerate input", func(t *testing.T) {
		if a := PolygonArea(nil); a != 0 {
			t.Errorf("PolygonArea(nil) = %f, want 0", a)
		}
		if a := PolygonArea([]orb.Point{{0, 0}, {1, 0}}); a != 0 {
			t.Errorf("PolygonArea(two points) = %f, want 0", a)
		}
	})

	t.Run("equatorial square", func(t *testing.T) {
		square := []orb.Point{{0, 0}, {0.01, 0}, {0.01, 0.01}, {0, 0.01}}
		side := 0.01 * math.Pi * EarthRadiusMeters / 180
		want := side * side
		if a := PolygonArea(square); !approxEqual(a, want, 1e-9) {
			t.Errorf("PolygonArea = %f, want %f", a, want)
		}
	})

	t.Run("closed ring matches open ring", func(t *testing.T) {
		open := []orb.Point{{0, 0}, {0.01, 0}, {0.01, 0.01}, {0, 0.01}}
		closed := append(append([]orb.Point{}, open...), open[0])
		if ao, ac := PolygonArea(open), PolygonArea(closed); ao != ac {
			t.Errorf("open %f != closed %f", ao, ac)
		}
	})

	t.Run("circle area approximates pi r squared", func(t *testing.T) {
		ring := CirclePolygon(orb.Point{-75, 40}, 100, 32)
		want := math.Pi * 100 * 100
		if a := PolygonArea(ring); !approxEqual(a, want, 0.05) {
			t.Errorf("PolygonArea = %f, want %f within 5%%", a, want)
		}
	})
}
