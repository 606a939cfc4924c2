// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/overlayd/overlayd/internal/auth"
	"github.com/overlayd/overlayd/internal/config"
	"github.com/overlayd/overlayd/internal/models"
)

// maxErrorBody bounds how much of an error response is kept for the
// error message.
const maxErrorBody = 64 << 10

// Backend is the annotation CRUD surface of the backend API. Both
// Client and BreakerClient implement it.
type Backend interface {
	List(ctx context.Context) ([]models.Annotation, error)
	Create(ctx context.Context, typ models.AnnotationType, data models.Payload) (*models.Annotation, error)
	Update(ctx context.Context, id string, changed models.Payload) (*models.Annotation, error)
	Delete(ctx context.Context, id string) error
	BulkDelete(ctx context.Context, ids []string) (*models.BulkDeleteResult, error)
}

var _ Backend = (*Client)(nil)

// APIError is a non-2xx response from the annotation backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client provides access to the annotation backend REST API.
type Client struct {
	baseURL    string
	teamID     string
	pageLimit  int
	tokens     auth.TokenProvider
	httpClient *http.Client
}

// NewClient creates an annotation backend client. The team scope and
// page limit from cfg apply to every list request.
func NewClient(cfg config.BackendConfig, tokens auth.TokenProvider) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:   strings.TrimSuffix(cfg.URL, "/"),
		teamID:    cfg.TeamID,
		pageLimit: cfg.PageLimit,
		tokens:    tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// List retrieves the full annotation set for the configured team.
func (c *Client) List(ctx context.Context) ([]models.Annotation, error) {
	endpoint := "/annotations"
	q := url.Values{}
	if c.teamID != "" {
		q.Set("teamId", c.teamID)
	}
	if c.pageLimit > 0 {
		q.Set("limit", strconv.Itoa(c.pageLimit))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	resp, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("annotation list request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp)
	}

	var annotations []models.Annotation
	if err := json.NewDecoder(resp.Body).Decode(&annotations); err != nil {
		return nil, fmt.Errorf("failed to decode annotation list: %w", err)
	}
	return annotations, nil
}

type createRequest struct {
	Type   models.AnnotationType `json:"type"`
	Data   models.Payload        `json:"data"`
	TeamID string                `json:"teamId,omitempty"`
}

// Create stores a new annotation and returns the record as the
// backend persisted it, server-assigned identity included.
func (c *Client) Create(ctx context.Context, typ models.AnnotationType, data models.Payload) (*models.Annotation, error) {
	body := createRequest{Type: typ, Data: data, TeamID: c.teamID}

	resp, err := c.doRequest(ctx, http.MethodPost, "/annotations", body)
	if err != nil {
		return nil, fmt.Errorf("annotation create request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.errorFromResponse(resp)
	}

	var created models.Annotation
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode created annotation: %w", err)
	}
	return &created, nil
}

type updateRequest struct {
	Data models.Payload `json:"data"`
}

// Update sends only the changed data fields for one annotation and
// returns the backend's view of the result.
func (c *Client) Update(ctx context.Context, id string, changed models.Payload) (*models.Annotation, error) {
	endpoint := "/annotations/" + url.PathEscape(id)

	resp, err := c.doRequest(ctx, http.MethodPut, endpoint, updateRequest{Data: changed})
	if err != nil {
		return nil, fmt.Errorf("annotation update request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp)
	}

	var updated models.Annotation
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		return nil, fmt.Errorf("failed to decode updated annotation: %w", err)
	}
	return &updated, nil
}

// Delete removes one annotation. A 404 surfaces as an APIError so the
// caller can treat already-gone as success.
func (c *Client) Delete(ctx context.Context, id string) error {
	endpoint := "/annotations/" + url.PathEscape(id)

	resp, err := c.doRequest(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("annotation delete request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp)
	}
	return nil
}

// BulkDelete removes a batch of annotations and returns exactly what
// the backend confirmed, which may be a subset of the request.
func (c *Client) BulkDelete(ctx context.Context, ids []string) (*models.BulkDeleteResult, error) {
	body := models.BulkDeleteRequest{AnnotationIDs: ids}

	resp, err := c.doRequest(ctx, http.MethodPost, "/annotations/bulk-delete", body)
	if err != nil {
		return nil, fmt.Errorf("annotation bulk delete request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp)
	}

	var result models.BulkDeleteResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode bulk delete result: %w", err)
	}
	return &result, nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backend token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Body: "(failed to read body)"}
	}
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
