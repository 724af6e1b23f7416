// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/chatcounter/internal/admin"
)

// maxResponseBytes bounds an admin API response body.
const maxResponseBytes = 16 << 20

// APIError is an error envelope returned by the admin API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// envelope mirrors admin.APIResponse with the payload left undecoded.
type envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Metadata admin.Metadata  `json:"metadata"`
	Error    *admin.APIError `json:"error,omitempty"`
}

// Client calls the chatcounter admin API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the admin API at baseURL.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid admin URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid admin URL %q: scheme must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}, nil
}

// Do sends a request and decodes the envelope's data into out (unless out is
// nil). It returns the HTTP status and the envelope metadata. An error
// envelope becomes an *APIError.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, out interface{}) (int, admin.Metadata, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, admin.Metadata{}, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, admin.Metadata{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, admin.Metadata{}, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return resp.StatusCode, admin.Metadata{}, fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}
	if env.Error != nil {
		return resp.StatusCode, env.Metadata, &APIError{
			StatusCode: resp.StatusCode,
			Code:       env.Error.Code,
			Message:    env.Error.Message,
		}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, env.Metadata, fmt.Errorf("decode data: %w", err)
		}
	}
	return resp.StatusCode, env.Metadata, nil
}

// Get is Do for GET requests.
func (c *Client) Get(ctx context.Context, path string, out interface{}) (admin.Metadata, error) {
	_, meta, err := c.Do(ctx, http.MethodGet, path, nil, out)
	return meta, err
}

// Post is Do for POST requests.
func (c *Client) Post(ctx context.Context, path string, body []byte, out interface{}) error {
	_, _, err := c.Do(ctx, http.MethodPost, path, body, out)
	return err
}

// newClient builds a client and a request context from the global options.
func newClient(opts *RootOptions) (*Client, context.Context, context.CancelFunc, error) {
	client, err := NewClient(opts.AdminURL, &http.Client{Timeout: opts.Timeout})
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "bad --admin-url", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	return client, ctx, cancel, nil
}

// apiFailure wraps a failed admin call as a command error.
func apiFailure(action string, err error) error {
	return WrapExitError(ExitCommandError, action, err)
}
