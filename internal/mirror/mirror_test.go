// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

//go:build nats

package mirror

import (
	"testing"

	"github.com/overlayd/overlayd/internal/config"
	"github.com/overlayd/overlayd/internal/events"
)

func TestSubjectForDerivesFromTopic(t *testing.T) {
	m := &Mirror{cfg: config.NATSConfig{SubjectPrefix: "overlayd.events"}}

	tests := []struct {
		topic string
		want  string
	}{
		{events.TopicAnnotationUpdated, "overlayd.events.annotation.updated"},
		{events.TopicAnnotationDeleted, "overlayd.events.annotation.deleted"},
		{events.TopicAnnotationBulkDeleted, "overlayd.events.annotation.bulk.deleted"},
		{events.TopicLocationUpdated, "overlayd.events.location.updated"},
	}
	for _, tt := range tests {
		if got := m.subjectFor(tt.topic); got != tt.want {
			t.Errorf("subjectFor(%s) = %s, want %s", tt.topic, got, tt.want)
		}
	}
}

func TestSubjectForDefaultPrefix(t *testing.T) {
	m := &Mirror{}
	if got := m.subjectFor(events.TopicLocationUpdated); got != "overlayd.events.location.updated" {
		t.Errorf("unexpected subject %s", got)
	}
}
