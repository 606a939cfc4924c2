// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

// Package main is the entry point for the overlayd sidecar.
//
// Overlayd keeps a local mirror of a shared geospatial annotation
// store in sync over two channels (REST pull and websocket push) and
// serves the result as ready-made GeoJSON layers, so map front ends
// consume rendered vector data without implementing the sync protocol
// themselves.
//
// # Application Architecture
//
// The process initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered load (defaults, YAML file,
//     environment), validated before anything starts
//  2. Logging: zerolog, JSON or console format
//  3. Token provider: static token or rotating token file
//  4. Backend client: REST CRUD with circuit breaker protection
//  5. Event bus: in-process Watermill gochannel pub/sub
//  6. Store, realtime manager, bridge, viewport calculator
//  7. NATS mirror (optional, requires the nats build tag)
//  8. HTTP server: operational API with layers, viewport, health,
//     connection control and Prometheus metrics
//
// Everything long-running is supervised by a suture tree with data,
// transport and api layers; see internal/supervisor.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config file (config.yaml),
// built-in defaults. Required settings:
//
//	export BACKEND_URL=https://annotations.example.com
//	export BACKEND_TOKEN=...            # or BACKEND_TOKEN_FILE=/run/secrets/token
//
// Common optional settings:
//
//	export BACKEND_TEAM_ID=team-42      # scope the synced annotation set
//	export REALTIME_URL=wss://...       # defaults to BACKEND_URL + /realtime
//	export HTTP_PORT=4326               # operational API port
//	export LOG_FORMAT=console           # human-readable logs
//
// # Build Tags
//
//	go build -tags nats ./cmd/overlayd   # enable the NATS JetStream mirror
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger a graceful shutdown: the supervisor
// tree drains, the websocket is closed with a close frame and the
// HTTP server stops accepting connections with a 10s drain window.
//
// # Port 4326
//
// The default port references EPSG:4326, the lat/lng coordinate
// reference system every annotation travels in.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/overlayd/overlayd/internal/api"
	"github.com/overlayd/overlayd/internal/auth"
	"github.com/overlayd/overlayd/internal/bridge"
	"github.com/overlayd/overlayd/internal/config"
	"github.com/overlayd/overlayd/internal/events"
	"github.com/overlayd/overlayd/internal/logging"
	"github.com/overlayd/overlayd/internal/metrics"
	"github.com/overlayd/overlayd/internal/realtime"
	"github.com/overlayd/overlayd/internal/store"
	"github.com/overlayd/overlayd/internal/supervisor"
	"github.com/overlayd/overlayd/internal/viewport"
)

// initialLoadTimeout bounds the startup annotation load. A failure is
// not fatal: the cache starts fail-safe empty and the bridge reloads
// on the first connect.
const initialLoadTimeout = 30 * time.Second

// version is injected at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("backend_url", cfg.Backend.URL).
		Str("team_id", cfg.Backend.TeamID).
		Bool("nats_mirror", cfg.NATS.Enabled).
		Msg("Starting overlayd")

	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)

	tokens, err := auth.NewProvider(cfg.Backend)
	if err != nil {
		logging.Fatal().Err(err).Msg("No backend credential configured")
	}

	// Pull path: REST client behind a circuit breaker.
	backend := store.NewBreakerClient(cfg.Backend, tokens)

	// In-process domain event bus.
	bus := events.NewBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	// The layer cache doubles as the renderer target and the source
	// for the HTTP layer endpoints.
	layers := api.NewLayerCache()
	annotations := store.New(backend, bus, layers)

	// Push path: websocket manager plus the wire-to-domain bridge.
	endpoint, err := realtime.DeriveEndpoint(cfg.Backend.URL, cfg.Realtime.URL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid realtime endpoint")
	}
	manager := realtime.NewManager(endpoint, cfg.Realtime, tokens)
	eventBridge := bridge.New(manager, bus, annotations.Load,
		cfg.Realtime.ReloadDebounce, cfg.Store.LoadOnConnect)

	handlers := api.NewHandlers(annotations, layers, viewport.NewCalculator(cfg.Viewport), manager)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(cfg.Server, handlers),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := time.Now()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.AppUptime.Set(time.Since(started).Seconds())
			}
		}
	}()

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddDataService(supervisor.NewRunnerService("store-consumer", annotations.Run))
	tree.AddTransportService(supervisor.NewRunnerService("realtime-manager", manager.Serve))
	tree.AddTransportService(supervisor.NewRunnerService("realtime-bridge", eventBridge.Serve))
	if err := initMirror(cfg, bus, tree); err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize NATS mirror")
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// Seed the cache before serving so the first reader sees data
	// rather than an empty map, when the backend is reachable.
	loadCtx, loadCancel := context.WithTimeout(ctx, initialLoadTimeout)
	if err := annotations.Load(loadCtx); err != nil {
		logging.Warn().Err(err).Msg("Initial annotation load failed, starting with empty cache")
	}
	loadCancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Overlayd stopped gracefully")
}
