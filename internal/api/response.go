// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/overlayd/overlayd/internal/logging"
)

// APIResponse is the envelope every JSON endpoint answers with, so
// clients branch on one shape for success and failure alike.
type APIResponse struct {
	// Success indicates whether the request was handled.
	Success bool `json:"success"`

	// Data carries the payload (absent on error).
	Data interface{} `json:"data,omitempty"`

	// Error carries error details (absent on success).
	Error *ErrorBody `json:"error,omitempty"`

	// Timestamp is when the response was generated.
	Timestamp time.Time `json:"timestamp"`
}

// ErrorBody is the error half of the envelope.
type ErrorBody struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

// Error codes for API responses.
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// respondSuccess writes a 200 envelope around data.
func respondSuccess(w http.ResponseWriter, data interface{}) {
	writeEnvelope(w, http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// respondError writes an error envelope with the given status.
func respondError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, APIResponse{
		Success:   false,
		Error:     &ErrorBody{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
}

// respondGeoJSON writes a raw body with the GeoJSON media type. Layer
// endpoints use this so any map library can consume them directly,
// without unwrapping an envelope first.
func respondGeoJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode GeoJSON response")
	}
}

func writeEnvelope(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("Failed to encode API response")
	}
}
