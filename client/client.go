// Package client provides a Go client for a remote docket HTTP API.
//
// Usage:
//
//	c := client.New("https://docs.example.com",
//	    client.WithToken("dk_..."),
//	)
//
//	jobID, err := c.Enqueue(ctx, api.EnqueueRequest{
//	    TenantID:  "org_42",
//	    SubjectID: "claim_981",
//	    Kind:      "SUPPLEMENT",
//	    Config:    api.ConfigDTO{Sections: []string{"summary", "line_items"}},
//	})
//
//	// Poll until the job is completed, failed or cancelled.
//	st, err := c.Wait(ctx, jobID)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/api"
)

// Client talks to a docket API server.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	logger       *slog.Logger
	pollInterval time.Duration
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       slog.Default(),
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Error is a non-2xx reply from the server. It unwraps to the docket
// sentinel matching the status code, so callers can use errors.Is.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("docket api: %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code back to a sentinel error.
func (e *Error) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return docket.ErrJobNotFound
	case http.StatusUnprocessableEntity:
		return docket.ErrInvalidConfig
	case http.StatusConflict:
		return docket.ErrInvalidTransition
	default:
		return nil
	}
}

// do sends a request and decodes a 2xx body into out. Replies with a
// status in accept are decoded into out as well and reported through the
// returned code.
func (c *Client) do(ctx context.Context, method, path string, in, out any, accept ...int) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	for _, code := range accept {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		var e api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, &Error{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
