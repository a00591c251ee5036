package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/xraph/docket"
	"github.com/xraph/docket/engine"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

func (a *API) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	jobID, err := a.eng.Enqueue(r.Context(), engine.EnqueueRequest{
		TenantID:  req.TenantID,
		SubjectID: req.SubjectID,
		Kind:      job.Kind(req.Kind),
		Config: job.Config{
			Sections: req.Config.Sections,
			Options:  req.Config.Options,
			Title:    req.Config.Title,
		},
		NotifyTarget: req.NotifyTarget,
		RequestedBy:  req.RequestedBy,
		MaxAttempts:  req.MaxAttempts,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, EnqueueResponse{JobID: jobID.String()})
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	v, err := a.eng.Status(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, NewStatusResponse(v))
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	j, err := a.eng.Cancel(r.Context(), jobID)
	switch {
	case err == nil:
		render.JSON(w, r, CancelResponse{Cancelled: true, Status: j.Status})
	case errors.Is(err, docket.ErrInvalidTransition) && j != nil:
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, CancelResponse{Cancelled: false, Status: j.Status})
	default:
		a.writeError(w, r, err)
	}
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := job.ListOpts{
		TenantID:  q.Get("tenantId"),
		SubjectID: q.Get("subjectId"),
	}
	if opts.TenantID == "" {
		writeMessage(w, r, http.StatusBadRequest, "tenantId is required")
		return
	}
	if s := q.Get("status"); s != "" {
		st, ok := job.ParseStatus(s)
		if !ok {
			writeMessage(w, r, http.StatusBadRequest, fmt.Sprintf("unknown status %q", s))
			return
		}
		opts.Status = st
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeMessage(w, r, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", s))
			return
		}
		opts.Limit = n
	}

	summaries, err := a.eng.ListRecent(r.Context(), opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]JobSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, NewJobSummary(s))
	}
	render.JSON(w, r, out)
}

func parseJobID(w http.ResponseWriter, r *http.Request) (id.JobID, bool) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, fmt.Sprintf("invalid job ID: %v", err))
		return id.Nil, false
	}
	return jobID, true
}
