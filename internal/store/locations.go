// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package store

import (
	"sort"
	"sync"

	"github.com/overlayd/overlayd/internal/models"
)

// LocationIndex tracks the latest live position per user. Positions
// are validated at ingress; an entry in the index always carries a
// usable coordinate.
type LocationIndex struct {
	mu     sync.RWMutex
	byUser map[string]models.Location
}

// NewLocationIndex creates an empty index.
func NewLocationIndex() *LocationIndex {
	return &LocationIndex{byUser: make(map[string]models.Location)}
}

// Update records a position, replacing any previous one for the same
// user. Locations without identity or without a valid coordinate are
// rejected.
func (l *LocationIndex) Update(loc models.Location) bool {
	key := loc.Key()
	if key == "" {
		return false
	}
	if _, ok := loc.Canonical(); !ok {
		return false
	}

	l.mu.Lock()
	l.byUser[key] = loc
	l.mu.Unlock()
	return true
}

// All returns a snapshot of the tracked positions ordered by user
// key.
func (l *LocationIndex) All() []models.Location {
	l.mu.RLock()
	out := make([]models.Location, 0, len(l.byUser))
	for _, loc := range l.byUser {
		out = append(out, loc)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Count returns the number of tracked users.
func (l *LocationIndex) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byUser)
}
