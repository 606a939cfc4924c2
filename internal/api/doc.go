// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

// Package api exposes the operational HTTP surface of overlayd.
//
// The surface serves derived data and operational controls only. A
// map front end (or another service) pulls ready-made GeoJSON layers
// and the computed viewport from here instead of implementing the
// sync protocol itself; nothing on this surface writes through to the
// annotation backend.
//
// Routes:
//
//	GET  /healthz                          liveness, connection state, cache size
//	GET  /readyz                           readiness (initial load completed)
//	GET  /metrics                          Prometheus registry
//	GET  /api/v1/layers                    layer index with feature counts
//	GET  /api/v1/layers/{layer}            GeoJSON collection for one layer
//	GET  /api/v1/viewport                  auto-center camera placement
//	GET  /api/v1/annotations               cached records (diagnostic)
//	POST /api/v1/connection/connect        explicit realtime resumption
//	POST /api/v1/connection/disconnect     manual realtime disconnect
//	POST /api/v1/connection/visibility     relay host visibility changes
//
// The router is Chi with go-chi/cors and go-chi/httprate middleware;
// every response uses the envelope in response.go except the raw
// GeoJSON layer bodies and /metrics.
package api
