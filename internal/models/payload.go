// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package models

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrEmptyPayload indicates a payload with no decodable content.
var ErrEmptyPayload = errors.New("models: empty payload")

// Payload holds the raw bytes of an annotation's `data` field. The
// backend emits it either as a JSON object or as a JSON-encoded
// string containing an object; UnmarshalJSON unwraps the string form
// once on ingress so the rest of the codebase never branches on wire
// shape. Malformed inner content is kept verbatim rather than
// rejected, so a bad record can sit in the cache for inspection while
// being skipped at render time.
type Payload struct {
	raw json.RawMessage
}

// NewPayload marshals v into a payload. Used for locally constructed
// create and update bodies.
func NewPayload(v any) (Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to encode payload: %w", err)
	}
	return Payload{raw: raw}, nil
}

// RawPayload wraps already-encoded JSON bytes without copying.
func RawPayload(raw []byte) Payload {
	return Payload{raw: json.RawMessage(raw)}
}

// UnmarshalJSON implements json.Unmarshaler. A JSON string value is
// unquoted exactly once and its content kept as the payload bytes;
// any other value is kept as-is.
func (p *Payload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return fmt.Errorf("failed to unquote string payload: %w", err)
		}
		p.raw = json.RawMessage(inner)
		return nil
	}
	p.raw = append(p.raw[:0], trimmed...)
	return nil
}

// MarshalJSON implements json.Marshaler. Valid content is emitted in
// object form, never re-wrapped as a string. Malformed retained bytes
// are re-quoted back into their wire string form, so one bad record
// cannot break encoding of a structure that contains it.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.IsZero() {
		return []byte("null"), nil
	}
	if !json.Valid(p.raw) {
		return json.Marshal(string(p.raw))
	}
	return p.raw, nil
}

// IsZero reports whether the payload carries no content.
func (p Payload) IsZero() bool {
	return len(p.raw) == 0 || bytes.Equal(p.raw, []byte("null"))
}

// Raw returns the payload bytes. Callers must not mutate them.
func (p Payload) Raw() json.RawMessage {
	return p.raw
}

// Decode parses the payload into its typed form. Fails on empty or
// malformed content; callers skip the record and keep going.
func (p Payload) Decode() (AnnotationData, error) {
	if p.IsZero() {
		return AnnotationData{}, ErrEmptyPayload
	}
	var data AnnotationData
	if err := json.Unmarshal(p.raw, &data); err != nil {
		return AnnotationData{}, fmt.Errorf("failed to decode payload: %w", err)
	}
	return data, nil
}

// Object parses the payload as a generic field map, preserving each
// field's raw encoding. Used by the merge rule, which must not drop
// fields it does not model.
func (p Payload) Object() (map[string]json.RawMessage, error) {
	if p.IsZero() {
		return nil, ErrEmptyPayload
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(p.raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode payload object: %w", err)
	}
	return fields, nil
}

// MergePayloads overlays the returned payload's top-level fields onto
// the existing payload's fields. Fields absent from returned are
// preserved from existing, so a partial update (say, color only)
// never erases geometry. A side that fails to parse as an object
// contributes nothing to the union.
func MergePayloads(existing, returned Payload) Payload {
	base := objectOrEmpty(existing)
	overlay := objectOrEmpty(returned)

	if len(base) == 0 && len(overlay) == 0 {
		return Payload{}
	}

	merged := make(map[string]json.RawMessage, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		// Field values are verbatim wire JSON; re-marshaling a map of
		// RawMessage cannot fail on them. Fall back to the server copy.
		return returned
	}
	return Payload{raw: raw}
}

func objectOrEmpty(p Payload) map[string]json.RawMessage {
	fields, err := p.Object()
	if err != nil {
		return nil
	}
	return fields
}
