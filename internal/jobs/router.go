package jobs

import (
	"context"
	"fmt"
)

// Router dispatches jobs to the handler registered for their type.
type Router struct {
	handlers map[JobType]JobHandler
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[JobType]JobHandler)}
}

// Handle registers h for jobs of type t, replacing any earlier handler.
func (r *Router) Handle(t JobType, h JobHandler) {
	r.handlers[t] = h
}

// Handles reports whether a handler is registered for t.
func (r *Router) Handles(t JobType) bool {
	_, ok := r.handlers[t]
	return ok
}

// Dispatch is a JobHandler that routes by job type.
func (r *Router) Dispatch(ctx context.Context, job *WorkspaceJob) (any, error) {
	h, ok := r.handlers[job.Type]
	if !ok {
		return nil, fmt.Errorf("no handler for job type %q", job.Type)
	}
	return h(ctx, job)
}
