package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/docket/api"
	"github.com/xraph/docket/engine"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/render"
	"github.com/xraph/docket/store/memory"
)

type fixture struct {
	eng   *engine.Engine
	store *memory.Store
	srv   *httptest.Server
}

func newFixture(t *testing.T, r render.Renderer) *fixture {
	t.Helper()
	if r == nil {
		r = render.Func(func(_ context.Context, req render.Request) (render.Artifact, error) {
			return render.Artifact{Ref: "s3://docs/" + req.JobID.String() + ".pdf"}, nil
		})
	}
	s := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := engine.New(s, engine.WithRenderer(r), engine.WithLogger(logger))
	require.NoError(t, err)

	srv := httptest.NewServer(api.New(eng).Handler())
	t.Cleanup(srv.Close)
	return &fixture{eng: eng, store: s, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func validBody() api.EnqueueRequest {
	return api.EnqueueRequest{
		TenantID:    "org_42",
		SubjectID:   "claim_981",
		Kind:        "SUPPLEMENT",
		Config:      api.ConfigDTO{Sections: []string{"summary", "line_items"}, Options: map[string]any{"includePhotos": true}},
		RequestedBy: "user_7",
	}
}

func (f *fixture) enqueue(t *testing.T) string {
	t.Helper()
	resp, data := f.do(t, http.MethodPost, "/v1/jobs", validBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var out api.EnqueueResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out.JobID
}

func TestEnqueueAndPoll(t *testing.T) {
	f := newFixture(t, nil)
	jobID := f.enqueue(t)

	parsed, err := id.ParseJobID(jobID)
	require.NoError(t, err)

	resp, data := f.do(t, http.MethodGet, "/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var queued api.StatusResponse
	require.NoError(t, json.Unmarshal(data, &queued))
	assert.Equal(t, job.StatusQueued, queued.Status)
	assert.Nil(t, queued.ResultURL)
	assert.Nil(t, queued.LastError)
	assert.Equal(t, 0, queued.Attempts)
	assert.Equal(t, 3, queued.MaxAttempts)
	assert.Equal(t, 10, queued.Progress)

	processed, err := f.eng.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	_, data = f.do(t, http.MethodGet, "/v1/jobs/"+jobID, nil)
	var done api.StatusResponse
	require.NoError(t, json.Unmarshal(data, &done))
	assert.Equal(t, job.StatusCompleted, done.Status)
	require.NotNil(t, done.ResultURL)
	assert.Equal(t, "s3://docs/"+parsed.String()+".pdf", *done.ResultURL)
	assert.Equal(t, 100, done.Progress)
}

func TestStatusJSONUsesNulls(t *testing.T) {
	f := newFixture(t, nil)
	jobID := f.enqueue(t)

	_, data := f.do(t, http.MethodGet, "/v1/jobs/"+jobID, nil)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"resultUrl", "lastError"} {
		v, ok := raw[key]
		assert.True(t, ok, "missing %s", key)
		assert.Nil(t, v, "%s should be null", key)
	}
}

func TestEnqueueRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t, nil)

	body := validBody()
	body.Config.Sections = nil
	resp, data := f.do(t, http.MethodPost, "/v1/jobs", body)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var errResp api.ErrorResponse
	require.NoError(t, json.Unmarshal(data, &errResp))
	assert.Contains(t, errResp.Error, "section")
}

func TestEnqueueRejectsMalformedBody(t *testing.T) {
	f := newFixture(t, nil)
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/v1/jobs", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetJobErrors(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.do(t, http.MethodGet, "/v1/jobs/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/v1/jobs/"+id.NewWorkerID().String(), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "worker IDs are not job IDs")

	resp, _ = f.do(t, http.MethodGet, "/v1/jobs/"+id.NewJobID().String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, nil)
	jobID := f.enqueue(t)

	resp, data := f.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out api.CancelResponse
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, out.Cancelled)
	assert.Equal(t, job.StatusCancelled, out.Status)

	resp, data = f.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &out))
	assert.False(t, out.Cancelled)
	assert.Equal(t, job.StatusCancelled, out.Status)

	resp, _ = f.do(t, http.MethodPost, "/v1/jobs/"+id.NewJobID().String()+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelAfterDispatch(t *testing.T) {
	f := newFixture(t, render.Func(func(context.Context, render.Request) (render.Artifact, error) {
		return render.Artifact{}, errors.New("renderer down")
	}))
	jobID := f.enqueue(t)
	_, err := f.eng.RunOnce(context.Background())
	require.NoError(t, err)

	// Requeued after a failure, so still cancellable.
	resp, _ := f.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListJobs(t *testing.T) {
	f := newFixture(t, nil)
	first := f.enqueue(t)
	second := f.enqueue(t)

	resp, data := f.do(t, http.MethodGet, "/v1/jobs?tenantId=org_42&limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []api.JobSummary
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 2)
	assert.ElementsMatch(t, []string{first, second}, []string{rows[0].JobID, rows[1].JobID})

	resp, data = f.do(t, http.MethodGet, "/v1/jobs?tenantId=org_42&status=completed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &rows))
	assert.Empty(t, rows)

	resp, data = f.do(t, http.MethodGet, "/v1/jobs?tenantId=org_other", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(data))
}

func TestListJobsValidation(t *testing.T) {
	f := newFixture(t, nil)
	for _, q := range []string{
		"",
		"?tenantId=org_42&status=archived",
		"?tenantId=org_42&limit=ten",
		"?tenantId=org_42&limit=-1",
	} {
		resp, _ := f.do(t, http.MethodGet, "/v1/jobs"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "query %q", q)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	f.enqueue(t)
	cancelled := f.enqueue(t)
	f.do(t, http.MethodPost, "/v1/jobs/"+cancelled+"/cancel", nil)

	resp, data := f.do(t, http.MethodGet, "/v1/stats?tenantId=org_42", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out api.StatsResponse
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, int64(2), out.Total)
	assert.Equal(t, int64(1), out.Counts[job.StatusQueued])
	assert.Equal(t, int64(1), out.Counts[job.StatusCancelled])
	assert.Contains(t, out.Counts, job.StatusProcessing)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, f.store.Close())
	resp, _ = f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
