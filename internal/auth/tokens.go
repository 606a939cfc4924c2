// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

// Package auth supplies bearer tokens for the annotation backend.
//
// Overlayd is a client of the backend, not a verifier: tokens are
// passed through as-is on REST requests and realtime handshakes.
// JWT tokens are introspected (without signature verification) only
// to learn their expiry, so a rotated token file is re-read when the
// cached credential lapses.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/overlayd/overlayd/internal/config"
)

// ErrNoToken indicates that no credential is currently available.
// Callers that can operate degraded (e.g. deferring a realtime
// connection) should treat this as a soft failure.
var ErrNoToken = errors.New("auth: no token available")

// expiryLeeway re-reads file-based tokens slightly before they lapse
// so in-flight requests do not race the expiry boundary.
const expiryLeeway = 30 * time.Second

// TokenProvider yields the bearer token for backend requests.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// NewProvider selects a provider from backend configuration. A token
// file takes precedence over an inline token because files support
// rotation without a restart.
func NewProvider(cfg config.BackendConfig) (TokenProvider, error) {
	if cfg.TokenFile != "" {
		return NewFileProvider(cfg.TokenFile), nil
	}
	if cfg.Token != "" {
		return NewStaticProvider(cfg.Token), nil
	}
	return nil, ErrNoToken
}

// StaticProvider returns a fixed token for the lifetime of the process.
type StaticProvider struct {
	token string
}

// NewStaticProvider creates a provider around an inline token.
func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: token}
}

// Token implements TokenProvider.
func (p *StaticProvider) Token(_ context.Context) (string, error) {
	if p.token == "" {
		return "", ErrNoToken
	}
	return p.token, nil
}

// FileProvider reads the token from a file and caches it. JWT tokens
// are re-read once their exp claim (minus leeway) passes; opaque
// tokens are cached until Invalidate is called.
type FileProvider struct {
	path string

	mu        sync.Mutex
	cached    string
	expiresAt time.Time // zero when the token carries no expiry
}

// NewFileProvider creates a provider that reads tokens from path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Token implements TokenProvider.
func (p *FileProvider) Token(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" && !p.stale(time.Now()) {
		return p.cached, nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file %s: %w", p.path, err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}

	p.cached = token
	if exp, ok := tokenExpiry(token); ok {
		p.expiresAt = exp
	} else {
		p.expiresAt = time.Time{}
	}

	return p.cached, nil
}

// Invalidate drops the cached token so the next call re-reads the
// file. Used after the backend rejects a credential.
func (p *FileProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = ""
	p.expiresAt = time.Time{}
}

// stale reports whether the cached token should be refreshed.
// Caller holds p.mu.
func (p *FileProvider) stale(now time.Time) bool {
	if p.expiresAt.IsZero() {
		return false
	}
	return now.After(p.expiresAt.Add(-expiryLeeway))
}

// tokenExpiry extracts the exp claim from a JWT without verifying the
// signature. Overlayd never trusts token contents for authorization;
// the expiry only schedules cache refresh. Returns false for opaque
// tokens and JWTs without an exp claim.
func tokenExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, &jwt.RegisteredClaims{})
	if err != nil {
		return time.Time{}, false
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.ExpiresAt == nil {
		return time.Time{}, false
	}

	return claims.ExpiresAt.Time, true
}
