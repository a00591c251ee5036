package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// maxErrorBody bounds how much of a failed response is copied into the
// error message, and so into the job's LastError.
const maxErrorBody = 512

// HTTP renders documents by POSTing the request as JSON to a renderer
// service and decoding an Artifact from a 2xx JSON response.
type HTTP struct {
	url    string
	client *http.Client
	token  string
}

// HTTPOption configures an HTTP renderer.
type HTTPOption func(*HTTP)

// WithHTTPClient sets the HTTP client. The default has no timeout of its own
// because every call is bounded by the caller's context.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithBearerToken sends an Authorization header with every request.
func WithBearerToken(token string) HTTPOption {
	return func(h *HTTP) { h.token = token }
}

// NewHTTP creates a renderer that posts to url.
func NewHTTP(url string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		url: url,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ Renderer = (*HTTP)(nil)

// errorText turns a truncated response body into valid UTF-8, dropping a
// rune split by the read limit.
func errorText(b []byte) string {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				b = b[:i]
			}
			break
		}
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

type httpRequest struct {
	JobID     string         `json:"jobId"`
	TenantID  string         `json:"tenantId"`
	SubjectID string         `json:"subjectId"`
	Kind      string         `json:"kind"`
	Sections  []string       `json:"sections"`
	Options   map[string]any `json:"options,omitempty"`
	Title     string         `json:"title,omitempty"`
}

// Render implements Renderer.
func (h *HTTP) Render(ctx context.Context, req Request) (Artifact, error) {
	body, err := json.Marshal(httpRequest{
		JobID:     req.JobID.String(),
		TenantID:  req.TenantID,
		SubjectID: req.SubjectID,
		Kind:      string(req.Kind),
		Sections:  req.Config.Sections,
		Options:   req.Config.Options,
		Title:     req.Config.Title,
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("render/http: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Artifact{}, fmt.Errorf("render/http: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Tenant-ID", req.TenantID)
	if h.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Artifact{}, fmt.Errorf("render/http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Artifact{}, fmt.Errorf("render/http: renderer returned %d: %s",
			resp.StatusCode, strings.TrimSpace(errorText(snippet)))
	}

	var art Artifact
	if err := json.NewDecoder(resp.Body).Decode(&art); err != nil {
		return Artifact{}, fmt.Errorf("render/http: decode response: %w", err)
	}
	if art.Ref == "" {
		return Artifact{}, ErrEmptyArtifact
	}
	return art, nil
}
