// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

// Package models defines the wire types shared by the REST client,
// the realtime channel and the annotation store: annotations and
// their type-dependent payloads, live locations, and the delete /
// bulk-delete / sync-activity event bodies.
//
// The annotation `data` field arrives in two wire forms, a JSON
// object or a JSON-encoded string containing an object. Payload
// absorbs that difference once at decode time; downstream code only
// ever sees object bytes.
package models
