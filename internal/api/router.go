// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/overlayd/overlayd/internal/config"
)

// NewRouter assembles the operational HTTP surface. Health endpoints
// and /metrics stay outside the rate limiter so monitoring cannot be
// throttled out; everything under /api/v1 is limited per client IP.
func NewRouter(cfg config.ServerConfig, handlers *Handlers) http.Handler {
	mw := NewMiddleware(cfg)

	r := chi.NewRouter()

	// Global stack, applied to every route in order.
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestLogger())
	r.Use(mw.CORS())

	r.Get("/healthz", handlers.Healthz)
	r.Get("/readyz", handlers.Readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit())

		r.Get("/layers", handlers.Layers)
		r.Get("/layers/{layer}", handlers.Layer)
		r.Get("/viewport", handlers.Viewport)
		r.Get("/annotations", handlers.Annotations)

		r.Post("/connection/connect", handlers.ConnectionConnect)
		r.Post("/connection/disconnect", handlers.ConnectionDisconnect)
		r.Post("/connection/visibility", handlers.ConnectionVisibility)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "no such route: "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
	})

	return r
}
