package render

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/docket/job"
)

// Registry routes render requests to a Renderer by document kind.
// It is safe for concurrent use and itself implements Renderer.
type Registry struct {
	mu        sync.RWMutex
	renderers map[job.Kind]Renderer
	fallback  Renderer
}

// NewRegistry creates an empty registry. fallback, if non-nil, handles kinds
// with no registered renderer.
func NewRegistry(fallback Renderer) *Registry {
	return &Registry{
		renderers: make(map[job.Kind]Renderer),
		fallback:  fallback,
	}
}

// Register binds kind to r, replacing any previous binding.
func (r *Registry) Register(kind job.Kind, rr Renderer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renderers[kind] = rr
}

// Get returns the renderer for kind, falling back to the default renderer.
func (r *Registry) Get(kind job.Kind) (Renderer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rr, ok := r.renderers[kind]; ok {
		return rr, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []job.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]job.Kind, 0, len(r.renderers))
	for k := range r.renderers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Render dispatches req to the renderer registered for req.Kind.
func (r *Registry) Render(ctx context.Context, req Request) (Artifact, error) {
	rr, ok := r.Get(req.Kind)
	if !ok {
		return Artifact{}, fmt.Errorf("render: no renderer for kind %q", req.Kind)
	}
	return rr.Render(ctx, req)
}
