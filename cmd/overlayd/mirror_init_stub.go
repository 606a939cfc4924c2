// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

//go:build !nats

package main

import (
	"github.com/overlayd/overlayd/internal/config"
	"github.com/overlayd/overlayd/internal/events"
	"github.com/overlayd/overlayd/internal/logging"
	"github.com/overlayd/overlayd/internal/supervisor"
)

// initMirror is the stub for binaries built without the nats tag.
func initMirror(cfg *config.Config, _ *events.Bus, _ *supervisor.Tree) error {
	if cfg.NATS.Enabled {
		logging.Warn().Msg("NATS_ENABLED=true but this binary was built without the nats tag; mirror unavailable")
	}
	return nil
}
