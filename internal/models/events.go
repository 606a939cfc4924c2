// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package models

import (
	"strings"
	"time"

	"github.com/overlayd/overlayd/internal/geo"
)

// DeletePayload is the body of an annotation_delete push event.
type DeletePayload struct {
	ID string `json:"id"`
}

// BulkDeleteRequest is both the POST /annotations/bulk-delete request
// body and the annotation_bulk_delete push event body.
type BulkDeleteRequest struct {
	AnnotationIDs []string `json:"annotationIds"`
}

// BulkDeleteResult reports which of the requested deletions the
// server confirmed. DeletedCount may be less than the number of
// requested ids; only the listed ids are removed from the cache.
type BulkDeleteResult struct {
	DeletedCount  int      `json:"deletedCount"`
	AnnotationIDs []string `json:"annotationIds"`
}

// SyncActivity is the body of a sync_activity push event, a coarse
// signal that some bulk operation ran server-side.
type SyncActivity struct {
	Type string `json:"type"`
}

// RelevantToMap reports whether the activity kind affects annotation
// or location state. Matching is deliberately loose (substring,
// case-insensitive) because upstream emits variants like
// "annotation_import" and "locations".
func (s SyncActivity) RelevantToMap() bool {
	kind := strings.ToLower(s.Type)
	return strings.Contains(kind, "annotation") || strings.Contains(kind, "location")
}

// Location is the body of a location_update push event: one viewer's
// live position. The embedded Coordinate accepts any of the three
// wire spellings flattened onto the object.
type Location struct {
	geo.Coordinate

	UserID    string    `json:"userId,omitempty"`
	Username  string    `json:"username,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Key identifies the viewer a location belongs to, preferring the
// stable user id over the display name.
func (l Location) Key() string {
	if l.UserID != "" {
		return l.UserID
	}
	return l.Username
}
