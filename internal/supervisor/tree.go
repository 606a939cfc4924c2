// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

// Package supervisor provides Suture-based process supervision for
// overlayd.
//
// The tree is organized into three layers:
//
//   - data: the annotation store's event consumer loop
//   - transport: the realtime manager, the bridge, the NATS mirror
//   - api: the operational HTTP server
//
// The split provides failure isolation: a crash in the transport
// layer does not take the HTTP surface down, which keeps serving the
// cached layers.
//
// Note on the realtime manager: its Serve blocks until context
// cancellation even after the reconnect budget goes terminal, so
// supervision never converts the terminal disconnected state into a
// silent automatic retry.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before a subtree
	// enters backoff. Default: 5.
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	// Default: 30.
	FailureDecay float64

	// FailureBackoff is the wait when the threshold is exceeded.
	// Default: 15s.
	FailureBackoff time.Duration

	// ShutdownTimeout bounds graceful shutdown per service.
	// Default: 10s.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns production defaults matching suture's
// built-ins.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the two-level supervision hierarchy for overlayd services.
type Tree struct {
	root      *suture.Supervisor
	data      *suture.Supervisor
	transport *suture.Supervisor
	api       *suture.Supervisor
	config    TreeConfig
}

// NewTree creates the supervision tree. Supervisor events are logged
// through the given slog logger, normally the zerolog-backed handler
// from the logging package.
func NewTree(logger *slog.Logger, config TreeConfig) (*Tree, error) {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	// sutureslog's hook constructor has a pointer receiver.
	handler := &sutureslog.Handler{Logger: logger}
	eventHook := handler.MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("overlayd", rootSpec)
	data := suture.New("data-layer", childSpec)
	transport := suture.New("transport-layer", childSpec)
	api := suture.New("api-layer", childSpec)

	root.Add(data)
	root.Add(transport)
	root.Add(api)

	return &Tree{
		root:      root,
		data:      data,
		transport: transport,
		api:       api,
		config:    config,
	}, nil
}

// AddDataService adds a service to the data layer. Used for the
// store's event consumer loop.
func (t *Tree) AddDataService(svc suture.Service) suture.ServiceToken {
	return t.data.Add(svc)
}

// AddTransportService adds a service to the transport layer. Used
// for the realtime manager, the bridge and the NATS mirror.
func (t *Tree) AddTransportService(svc suture.Service) suture.ServiceToken {
	return t.transport.Add(svc)
}

// AddAPIService adds a service to the API layer. Used for the HTTP
// server.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve starts the tree and blocks until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree in a goroutine and returns the
// channel that yields its terminal error.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown
// timeout, for shutdown diagnostics.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
