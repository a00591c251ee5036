package middleware

import (
	"context"

	"github.com/xraph/docket/job"
	"github.com/xraph/docket/scope"
)

// Scope returns middleware that attaches the job's tenant to the render
// context.
func Scope() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx = scope.With(ctx, scope.Tenant{TenantID: j.TenantID, RequestedBy: j.RequestedBy})
		return next(ctx)
	}
}
