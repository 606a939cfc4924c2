// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration loaded from environment variables
// and config files.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: Override any setting via environment variables
//
// Configuration Categories:
//
//  1. Upstream:
//     - Backend: Annotation REST API (CRUD source of truth)
//     - Realtime: Push channel websocket and reconnect policy
//
//  2. Local behavior:
//     - Store: Cache and reload behavior
//     - Viewport: Auto-center defaults (zoom levels, padding, fallback region)
//
//  3. Integrations:
//     - NATS: Optional domain-event mirror onto JetStream
//
//  4. Serving & Observability:
//     - Server: Operational HTTP API (layers, viewport, health, metrics)
//     - Logging: Log levels and output formats
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access from
// multiple goroutines.
type Config struct {
	Backend  BackendConfig  `koanf:"backend"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Store    StoreConfig    `koanf:"store"`
	Viewport ViewportConfig `koanf:"viewport"`
	NATS     NATSConfig     `koanf:"nats"` // Optional: mirror domain events onto NATS JetStream
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// BackendConfig holds connection settings for the annotation REST backend.
//
// The backend is the authoritative store. Overlayd never persists annotations
// itself; every CRUD call goes to this API and the local cache mirrors its
// responses.
//
// Environment Variables:
//   - BACKEND_URL: Base URL of the annotation API (e.g. https://api.example.com)
//   - BACKEND_TOKEN: Static bearer token for API and websocket auth
//   - BACKEND_TOKEN_FILE: Path to a file containing the bearer token
//     (re-read when the current token expires; takes precedence over BACKEND_TOKEN)
//   - BACKEND_TEAM_ID: Team whose annotations are synced
//   - BACKEND_PAGE_LIMIT: Maximum records requested per load (default: 500)
//   - BACKEND_TIMEOUT: Per-request timeout (default: 30s)
type BackendConfig struct {
	URL       string        `koanf:"url" validate:"required,url"`
	Token     string        `koanf:"token"`
	TokenFile string        `koanf:"token_file"`
	TeamID    string        `koanf:"team_id"`
	PageLimit int           `koanf:"page_limit" validate:"min=1,max=10000"`
	Timeout   time.Duration `koanf:"timeout"`
}

// RealtimeConfig holds push-channel websocket settings and reconnect policy.
//
// Environment Variables:
//   - REALTIME_URL: Websocket endpoint (ws://, wss://, or http(s):// which is
//     converted; defaults to BACKEND_URL + /realtime when empty)
//   - REALTIME_MAX_ATTEMPTS: Automatic attempts per failure category before the
//     terminal disconnected state (default: 5)
//   - REALTIME_RETRY_DELAY: Fixed delay before an automatic reconnect (default: 5s)
//   - REALTIME_PING_INTERVAL: Keepalive ping interval (default: 30s)
//   - REALTIME_READ_TIMEOUT: Read deadline refreshed on traffic (default: 60s)
//   - REALTIME_HANDSHAKE_TIMEOUT: Dial handshake timeout (default: 10s)
//   - REALTIME_RELOAD_DEBOUNCE: Debounce window for bulk-sync reload signals
//     (default: 1s)
type RealtimeConfig struct {
	URL              string        `koanf:"url"`
	MaxAttempts      int           `koanf:"max_attempts" validate:"min=1,max=100"`
	RetryDelay       time.Duration `koanf:"retry_delay"`
	PingInterval     time.Duration `koanf:"ping_interval"`
	ReadTimeout      time.Duration `koanf:"read_timeout"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	ReloadDebounce   time.Duration `koanf:"reload_debounce"`
}

// StoreConfig holds local cache behavior settings.
//
// Environment Variables:
//   - STORE_LOAD_ON_CONNECT: Perform a full reload whenever the realtime
//     channel (re)connects (default: true)
type StoreConfig struct {
	LoadOnConnect bool `koanf:"load_on_connect"`
}

// ViewportConfig holds auto-center defaults used by the bounds calculator.
//
// Environment Variables:
//   - VIEWPORT_DEFAULT_LATITUDE / VIEWPORT_DEFAULT_LONGITUDE: Fallback region
//     center when no annotation or live position exists (default: 0, 0)
//   - VIEWPORT_DEFAULT_ZOOM: Fallback zoom (default: 2)
//   - VIEWPORT_USER_ZOOM: Zoom applied when centering on a live position
//     (default: 14)
//   - VIEWPORT_PADDING: Bounding-box padding in degrees (default: 0.05)
type ViewportConfig struct {
	DefaultLatitude  float64 `koanf:"default_latitude" validate:"gte=-90,lte=90"`
	DefaultLongitude float64 `koanf:"default_longitude" validate:"gte=-180,lte=180"`
	DefaultZoom      float64 `koanf:"default_zoom" validate:"gte=0,lte=22"`
	UserZoom         float64 `koanf:"user_zoom" validate:"gte=0,lte=22"`
	Padding          float64 `koanf:"padding" validate:"gte=0"`
}

// NATSConfig holds settings for the optional domain-event mirror.
// The mirror republishes ANNOTATION_* and LOCATION_* bus topics onto NATS
// JetStream subjects for out-of-process consumers. Requires the nats build tag.
//
// Environment Variables:
//   - NATS_ENABLED: Enable the mirror (default: false)
//   - NATS_URL: NATS server URL (default: nats://127.0.0.1:4222)
//   - NATS_STREAM: JetStream stream name (default: OVERLAYD)
//   - NATS_SUBJECT_PREFIX: Subject prefix for mirrored topics
//     (default: overlayd.events)
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	Stream        string `koanf:"stream"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ServerConfig holds the operational HTTP API settings.
//
// Environment Variables:
//   - HTTP_PORT: Listen port (default: 4326)
//   - HTTP_HOST: Listen host (default: 0.0.0.0)
//   - HTTP_TIMEOUT: Read/write timeout (default: 30s)
//   - CORS_ORIGINS: Comma-separated allowed origins (default: *)
//   - RATE_LIMIT_REQUESTS / RATE_LIMIT_WINDOW: Request throttling
//     (default: 100 per 1m)
//   - DISABLE_RATE_LIMIT: Disable throttling entirely (default: false)
type ServerConfig struct {
	Port              int           `koanf:"port" validate:"min=1,max=65535"`
	Host              string        `koanf:"host"`
	Timeout           time.Duration `koanf:"timeout"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logging settings.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: Include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the host:port listen address for the operational API.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// structValidate is the shared validator instance. validator caches struct
// metadata, so one instance is reused for every Validate call.
var structValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that required configuration is present and valid.
// Tag-driven checks run first; cross-field rules that tags cannot express
// follow.
func (c *Config) Validate() error {
	if err := structValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, translateFieldError(fe))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Backend.Token == "" && c.Backend.TokenFile == "" {
		return fmt.Errorf("one of BACKEND_TOKEN or BACKEND_TOKEN_FILE is required")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when NATS_ENABLED=true")
	}

	if c.Realtime.RetryDelay <= 0 {
		return fmt.Errorf("REALTIME_RETRY_DELAY must be positive")
	}
	if c.Realtime.ReloadDebounce <= 0 {
		return fmt.Errorf("REALTIME_RELOAD_DEBOUNCE must be positive")
	}

	return nil
}

// translateFieldError converts a validator.FieldError to a readable message.
func translateFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
