// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package viewport

import (
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/overlayd/overlayd/internal/config"
	"github.com/overlayd/overlayd/internal/geo"
	"github.com/overlayd/overlayd/internal/models"
)

func testConfig() config.ViewportConfig {
	return config.ViewportConfig{
		DefaultLatitude:  10,
		DefaultLongitude: 20,
		DefaultZoom:      2,
		UserZoom:         14,
		Padding:          0.05,
	}
}

func makeAnnotation(t *testing.T, id string, typ models.AnnotationType, data models.AnnotationData) models.Annotation {
	t.Helper()

	payload, err := models.NewPayload(data)
	if err != nil {
		t.Fatalf("failed to build payload: %v", err)
	}
	return models.Annotation{ID: id, Type: typ, Data: payload}
}

func coordPtr(lat, lng float64) *geo.Coordinate {
	c := geo.NewCoordinate(lat, lng)
	return &c
}

func TestAutoCenterPrefersLivePosition(t *testing.T) {
	calc := NewCalculator(testConfig())

	annotations := []models.Annotation{
		makeAnnotation(t, "p1", models.TypePOI, models.AnnotationData{Position: coordPtr(50, 50)}),
	}
	locations := []models.Location{
		{UserID: "u1", Coordinate: geo.NewCoordinate(40, -75)},
	}

	vp := calc.AutoCenter(annotations, locations)

	if vp.Source != SourceLive {
		t.Fatalf("Source = %q, want live", vp.Source)
	}
	if vp.Center != (orb.Point{-75, 40}) {
		t.Errorf("Center = %v, want [-75 40]", vp.Center)
	}
	if vp.Zoom != 14 {
		t.Errorf("Zoom = %f, want user zoom 14", vp.Zoom)
	}
}

func TestAutoCenterPicksFreshestLocation(t *testing.T) {
	calc := NewCalculator(testConfig())

	older := models.Location{
		UserID:     "u1",
		Coordinate: geo.NewCoordinate(10, 10),
		Timestamp:  time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	newer := models.Location{
		UserID:     "u2",
		Coordinate: geo.NewCoordinate(40, -75),
		Timestamp:  time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC),
	}

	vp := calc.AutoCenter(nil, []models.Location{newer, older})
	if vp.Center != (orb.Point{-75, 40}) {
		t.Errorf("Center = %v, want the freshest position", vp.Center)
	}
}

func TestAutoCenterSkipsInvalidLocations(t *testing.T) {
	calc := NewCalculator(testConfig())

	locations := []models.Location{
		{UserID: "u1", Coordinate: geo.NewCoordinate(200, -75)}, // out of range
	}
	annotations := []models.Annotation{
		makeAnnotation(t, "p1", models.TypePOI, models.AnnotationData{Position: coordPtr(40, -75)}),
	}

	vp := calc.AutoCenter(annotations, locations)
	if vp.Source != SourceAnnotations {
		t.Errorf("Source = %q, want annotations fallback", vp.Source)
	}
}

func TestAutoCenterUnionBox(t *testing.T) {
	calc := NewCalculator(testConfig())

	annotations := []models.Annotation{
		makeAnnotation(t, "p1", models.TypePOI, models.AnnotationData{Position: coordPtr(40, -75)}),
		makeAnnotation(t, "l1", models.TypeLine, models.AnnotationData{
			Points: []geo.Coordinate{geo.NewCoordinate(41, -74), geo.NewCoordinate(42, -73)},
		}),
		makeAnnotation(t, "a1", models.TypeArea, models.AnnotationData{
			Center: coordPtr(39, -76), Radius: func() *float64 { r := 100.0; return &r }(),
		}),
	}

	vp := calc.AutoCenter(annotations, nil)

	if vp.Source != SourceAnnotations {
		t.Fatalf("Source = %q, want annotations", vp.Source)
	}
	if vp.Bounds == nil {
		t.Fatal("Bounds missing")
	}

	// Raw union is [-76,39]..[-73,42]; padding expands by 5% of the
	// 3-degree span on each side.
	sw, ne := vp.Bounds.SouthWest, vp.Bounds.NorthEast
	if sw[0] >= -76 || sw[1] >= 39 || ne[0] <= -73 || ne[1] <= 42 {
		t.Errorf("bounds %v %v do not pad the raw union", sw, ne)
	}
	wantPad := 3 * 0.05
	if diff := (-76 - sw[0]) - wantPad; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("west padding = %f, want %f", -76-sw[0], wantPad)
	}
}

func TestAutoCenterSinglePointGetsMargin(t *testing.T) {
	calc := NewCalculator(testConfig())

	annotations := []models.Annotation{
		makeAnnotation(t, "p1", models.TypePOI, models.AnnotationData{Position: coordPtr(40, -75)}),
	}

	vp := calc.AutoCenter(annotations, nil)
	if vp.Bounds == nil {
		t.Fatal("Bounds missing")
	}
	if vp.Bounds.SouthWest == vp.Bounds.NorthEast {
		t.Error("single-point bounds should be expanded by a margin")
	}
	if vp.Center != (orb.Point{-75, 40}) {
		t.Errorf("Center = %v, want the point itself", vp.Center)
	}
}

func TestAutoCenterDefaultRegion(t *testing.T) {
	calc := NewCalculator(testConfig())

	// Undecodable payload and invalid coordinates contribute nothing.
	annotations := []models.Annotation{
		{ID: "bad", Type: models.TypePOI, Data: models.RawPayload([]byte(`{broken`))},
		makeAnnotation(t, "p1", models.TypePOI, models.AnnotationData{Position: coordPtr(200, 0)}),
	}

	vp := calc.AutoCenter(annotations, nil)

	if vp.Source != SourceDefault {
		t.Fatalf("Source = %q, want default", vp.Source)
	}
	if vp.Center != (orb.Point{20, 10}) {
		t.Errorf("Center = %v, want configured default [20 10]", vp.Center)
	}
	if vp.Zoom != 2 {
		t.Errorf("Zoom = %f, want default 2", vp.Zoom)
	}
}
