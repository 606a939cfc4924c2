// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package realtime

import (
	"fmt"
	"net/url"

	"github.com/goccy/go-json"
)

// Wire event names pushed by the backend over the realtime channel.
const (
	EventAnnotationUpdate     = "annotation_update"
	EventAnnotationDelete     = "annotation_delete"
	EventAnnotationBulkDelete = "annotation_bulk_delete"
	EventLocationUpdate       = "location_update"
	EventSyncActivity         = "sync_activity"
)

// Local lifecycle events emitted by the Manager itself, never seen on
// the wire.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// ReasonClientDisconnect is the sentinel reason attached to a manual
// disconnect. Observers use it to tell a requested teardown from an
// unexpected drop; no reconnection follows it.
const ReasonClientDisconnect = "client disconnect"

// Envelope is the realtime wire frame: an event name plus its raw
// JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DisconnectInfo is the payload of a local disconnected event.
type DisconnectInfo struct {
	Reason string `json:"reason"`
}

// DeriveEndpoint resolves the realtime endpoint: the explicit URL when
// configured, otherwise the backend base URL with the /realtime path.
// The scheme is converted to ws/wss either way.
func DeriveEndpoint(backendURL, explicit string) (string, error) {
	raw := explicit
	if raw == "" {
		raw = backendURL + "/realtime"
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse realtime url: %w", err)
	}

	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported realtime scheme %q", parsed.Scheme)
	}

	return parsed.String(), nil
}
