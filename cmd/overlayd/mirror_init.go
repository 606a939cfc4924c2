// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

//go:build nats

package main

import (
	"fmt"

	"github.com/overlayd/overlayd/internal/config"
	"github.com/overlayd/overlayd/internal/events"
	"github.com/overlayd/overlayd/internal/logging"
	"github.com/overlayd/overlayd/internal/mirror"
	"github.com/overlayd/overlayd/internal/supervisor"
)

// initMirror wires the NATS domain-event mirror into the transport
// layer when enabled. Compiled only with the nats build tag.
func initMirror(cfg *config.Config, bus *events.Bus, tree *supervisor.Tree) error {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("NATS mirror disabled (NATS_ENABLED=false)")
		return nil
	}

	m, err := mirror.New(cfg.NATS, bus)
	if err != nil {
		return fmt.Errorf("create mirror: %w", err)
	}

	tree.AddTransportService(m)
	logging.Info().Str("url", cfg.NATS.URL).Msg("NATS mirror added to supervisor tree")
	return nil
}
