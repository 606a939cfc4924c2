// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package api

import (
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/overlayd/overlayd/internal/config"
	"github.com/overlayd/overlayd/internal/logging"
	"github.com/overlayd/overlayd/internal/metrics"
)

// Middleware builds the Chi middleware stack from server
// configuration. CORS and rate limiting come from the Chi ecosystem
// (go-chi/cors, go-chi/httprate) rather than hand-rolled handlers.
type Middleware struct {
	cfg  config.ServerConfig
	cors func(http.Handler) http.Handler
}

// NewMiddleware creates the middleware factory. An empty CORS origin
// list allows every origin: the surface is internal-facing and
// typically consumed by a local map front end.
func NewMiddleware(cfg config.ServerConfig) *Middleware {
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	})

	return &Middleware{cfg: cfg, cors: corsHandler}
}

// CORS returns the go-chi/cors handler. Applied globally so OPTIONS
// preflight requests are answered on every route.
func (m *Middleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimit returns an IP-keyed go-chi/httprate limiter, or a no-op
// when throttling is disabled.
func (m *Middleware) RateLimit() func(http.Handler) http.Handler {
	if m.cfg.RateLimitDisabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	reqs := m.cfg.RateLimitReqs
	if reqs <= 0 {
		reqs = 100
	}
	window := m.cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}

	return httprate.Limit(reqs, window, httprate.WithKeyFuncs(httprate.KeyByIP))
}

// RequestLogger logs one line per request with method, path, status
// and latency, and records the request in the Prometheus histograms.
func RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.RecordAPIRequest(r.Method, r.URL.Path, strconv.Itoa(status), duration)

			logging.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", duration).
				Msg("Request handled")
		})
	}
}
