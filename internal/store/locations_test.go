// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package store

import (
	"testing"
	"time"

	"github.com/overlayd/overlayd/internal/geo"
	"github.com/overlayd/overlayd/internal/models"
)

func TestLocationIndexUpdate(t *testing.T) {
	index := NewLocationIndex()

	if index.Update(models.Location{Coordinate: geo.NewCoordinate(40, -75)}) {
		t.Error("Update() accepted a location without identity")
	}
	if index.Update(models.Location{Coordinate: geo.NewCoordinate(200, -75), UserID: "u1"}) {
		t.Error("Update() accepted an out-of-range latitude")
	}
	if index.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", index.Count())
	}

	if !index.Update(models.Location{Coordinate: geo.NewCoordinate(40, -75), UserID: "u1"}) {
		t.Fatal("Update() rejected a valid location")
	}
	if index.Count() != 1 {
		t.Errorf("Count() = %d, want 1", index.Count())
	}
}

func TestLocationIndexReplacesPerUser(t *testing.T) {
	index := NewLocationIndex()

	earlier := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Minute)

	index.Update(models.Location{Coordinate: geo.NewCoordinate(40, -75), UserID: "u1", Timestamp: earlier})
	index.Update(models.Location{Coordinate: geo.NewCoordinate(41, -74), UserID: "u1", Timestamp: later})

	if index.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", index.Count())
	}

	all := index.All()
	point, ok := all[0].Canonical()
	if !ok {
		t.Fatal("stored location did not canonicalize")
	}
	if point[1] != 41 {
		t.Errorf("latest latitude = %v, want 41", point[1])
	}
}

func TestLocationIndexAllSorted(t *testing.T) {
	index := NewLocationIndex()

	index.Update(models.Location{Coordinate: geo.NewCoordinate(40, -75), Username: "zoe"})
	index.Update(models.Location{Coordinate: geo.NewCoordinate(41, -74), UserID: "alpha"})

	all := index.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d locations, want 2", len(all))
	}
	if all[0].Key() != "alpha" || all[1].Key() != "zoe" {
		t.Errorf("order = [%s %s], want [alpha zoe]", all[0].Key(), all[1].Key())
	}
}
