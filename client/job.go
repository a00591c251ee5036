package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/api"
	"github.com/xraph/docket/job"
)

// Enqueue submits a document job and returns its ID.
func (c *Client) Enqueue(ctx context.Context, req api.EnqueueRequest) (string, error) {
	var resp api.EnqueueResponse
	if _, err := c.do(ctx, http.MethodPost, "/v1/jobs", req, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// Status returns the job's current status view.
func (c *Client) Status(ctx context.Context, jobID string) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if _, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel cancels a queued job. When the job has already been dispatched the
// reply reports cancelled=false with the current status, and the error
// wraps docket.ErrInvalidTransition.
func (c *Client) Cancel(ctx context.Context, jobID string) (*api.CancelResponse, error) {
	var resp api.CancelResponse
	code, err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/cancel", nil, &resp, http.StatusConflict)
	if err != nil {
		return nil, err
	}
	if code == http.StatusConflict {
		return &resp, fmt.Errorf("%w: job is %s", docket.ErrInvalidTransition, resp.Status)
	}
	return &resp, nil
}

// ListOpts filters List.
type ListOpts struct {
	TenantID  string
	Status    job.Status
	SubjectID string
	Limit     int
}

// List returns a tenant's recent jobs, newest first.
func (c *Client) List(ctx context.Context, opts ListOpts) ([]api.JobSummary, error) {
	q := url.Values{}
	q.Set("tenantId", opts.TenantID)
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.SubjectID != "" {
		q.Set("subjectId", opts.SubjectID)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	var resp []api.JobSummary
	if _, err := c.do(ctx, http.MethodGet, "/v1/jobs?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Stats returns per-status counts. An empty tenant counts all tenants.
func (c *Client) Stats(ctx context.Context, tenantID string) (*api.StatsResponse, error) {
	path := "/v1/stats"
	if tenantID != "" {
		path += "?tenantId=" + url.QueryEscape(tenantID)
	}
	var resp api.StatsResponse
	if _, err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Wait polls the job until it reaches a terminal status or ctx ends.
// Transient poll failures are logged and retried; unknown jobs fail
// immediately.
func (c *Client) Wait(ctx context.Context, jobID string) (*api.StatusResponse, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		st, err := c.Status(ctx, jobID)
		switch {
		case err == nil && st.Status.Terminal():
			return st, nil
		case errors.Is(err, docket.ErrJobNotFound), ctx.Err() != nil:
			if err == nil {
				err = ctx.Err()
			}
			return nil, err
		case err != nil:
			c.logger.Warn("status poll failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
