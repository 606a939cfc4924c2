// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/overlayd/config.yaml",
	"/etc/overlayd/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:       "",
			Token:     "",
			TokenFile: "",
			TeamID:    "",
			PageLimit: 500,
			Timeout:   30 * time.Second,
		},
		Realtime: RealtimeConfig{
			URL:              "", // Derived from backend.url when empty
			MaxAttempts:      5,
			RetryDelay:       5 * time.Second,
			PingInterval:     30 * time.Second,
			ReadTimeout:      60 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			ReloadDebounce:   time.Second,
		},
		Store: StoreConfig{
			LoadOnConnect: true,
		},
		Viewport: ViewportConfig{
			DefaultLatitude:  0.0,
			DefaultLongitude: 0.0,
			DefaultZoom:      2,
			UserZoom:         14,
			Padding:          0.05,
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			Stream:        "OVERLAYD",
			SubjectPrefix: "overlayd.events",
		},
		Server: ServerConfig{
			Port:              4326,
			Host:              "0.0.0.0",
			Timeout:           30 * time.Second,
			CORSOrigins:       []string{"*"},
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// Precedence is ENV > File > Defaults. The resulting Config is validated
// before return; a validation failure is fatal for the caller.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// Transform environment variable names to koanf paths:
	// BACKEND_URL -> backend.url
	// REALTIME_MAX_ATTEMPTS -> realtime.max_attempts
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as
// comma-separated slices when supplied via environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings, but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML file)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - BACKEND_URL -> backend.url
//   - BACKEND_TOKEN_FILE -> backend.token_file
//   - REALTIME_MAX_ATTEMPTS -> realtime.max_attempts
//   - HTTP_PORT -> server.port
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Backend mappings
		"backend_url":        "backend.url",
		"backend_token":      "backend.token",
		"backend_token_file": "backend.token_file",
		"backend_team_id":    "backend.team_id",
		"backend_page_limit": "backend.page_limit",
		"backend_timeout":    "backend.timeout",

		// Realtime mappings
		"realtime_url":               "realtime.url",
		"realtime_max_attempts":      "realtime.max_attempts",
		"realtime_retry_delay":       "realtime.retry_delay",
		"realtime_ping_interval":     "realtime.ping_interval",
		"realtime_read_timeout":      "realtime.read_timeout",
		"realtime_handshake_timeout": "realtime.handshake_timeout",
		"realtime_reload_debounce":   "realtime.reload_debounce",

		// Store mappings
		"store_load_on_connect": "store.load_on_connect",

		// Viewport mappings
		"viewport_default_latitude":  "viewport.default_latitude",
		"viewport_default_longitude": "viewport.default_longitude",
		"viewport_default_zoom":      "viewport.default_zoom",
		"viewport_user_zoom":         "viewport.user_zoom",
		"viewport_padding":           "viewport.padding",

		// NATS mirror mappings
		"nats_enabled":        "nats.enabled",
		"nats_url":            "nats.url",
		"nats_stream":         "nats.stream",
		"nats_subject_prefix": "nats.subject_prefix",

		// Server mappings
		"http_port":           "server.port",
		"http_host":           "server.host",
		"http_timeout":        "server.timeout",
		"cors_origins":        "server.cors_origins",
		"rate_limit_requests": "server.rate_limit_reqs",
		"rate_limit_window":   "server.rate_limit_window",
		"disable_rate_limit":  "server.rate_limit_disabled",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them.
	// This prevents random environment variables from polluting config.
	return ""
}
