// Package render defines the narrow contract between the dispatcher and the
// external document renderer, plus adapters for common renderer shapes.
//
// The renderer owns layout, data aggregation and artifact storage. The
// dispatcher only needs an artifact reference back, or an error.
package render

import (
	"context"
	"errors"

	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// ErrEmptyArtifact is returned when a renderer reports success without an
// artifact reference. The attempt is treated as failed.
var ErrEmptyArtifact = errors.New("render: renderer returned no artifact reference")

// Request is everything the renderer needs to produce one document.
type Request struct {
	JobID     id.JobID
	TenantID  string
	SubjectID string
	Kind      job.Kind
	Config    job.Config
}

// Artifact is a successfully rendered document.
type Artifact struct {
	// Ref is the stored artifact's URL or storage key.
	Ref string `json:"artifactRef"`
	// Summary optionally describes the rendered content.
	Summary string `json:"summary,omitempty"`
}

// Renderer produces a document. Implementations must honour ctx
// cancellation; the dispatcher always bounds the call with a deadline.
type Renderer interface {
	Render(ctx context.Context, req Request) (Artifact, error)
}

// Func adapts a function to the Renderer interface.
type Func func(ctx context.Context, req Request) (Artifact, error)

// Render calls f.
func (f Func) Render(ctx context.Context, req Request) (Artifact, error) {
	return f(ctx, req)
}

// RequestFor builds the render request for a claimed job.
func RequestFor(j *job.Job) Request {
	return Request{
		JobID:     j.ID,
		TenantID:  j.TenantID,
		SubjectID: j.SubjectID,
		Kind:      j.Kind,
		Config:    j.Config.Clone(),
	}
}
