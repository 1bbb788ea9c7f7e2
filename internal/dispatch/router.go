package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/forgebot/forgebot/pkg/models"
)

// TaskFunc is the body of one downstream task kind. The returned string
// is only consumed for synchronous invocations; fire-and-forget callers
// discard it.
type TaskFunc func(ctx context.Context, inv models.Invocation) (string, error)

// Router resolves task invocations against the closed set of registered
// task kinds and submits them to the pool.
type Router struct {
	pool        *Pool
	tasks       map[models.TaskKind]TaskFunc
	syncTimeout time.Duration
}

// NewRouter creates a Router on top of the given pool.
func NewRouter(pool *Pool, syncTimeout time.Duration) *Router {
	return &Router{
		pool:        pool,
		tasks:       make(map[models.TaskKind]TaskFunc),
		syncTimeout: syncTimeout,
	}
}

// Register binds a task kind to its body. Later registrations replace
// earlier ones.
func (r *Router) Register(kind models.TaskKind, fn TaskFunc) {
	r.tasks[kind] = fn
}

// Dispatch submits a fire-and-forget invocation. The returned error
// covers submission only; task outcomes are never reported back. Router
// does not retry: a submission failure propagates to the caller.
func (r *Router) Dispatch(inv models.Invocation) error {
	fn, ok := r.tasks[inv.Kind]
	if !ok {
		return fmt.Errorf("dispatch: no task registered for kind %q", inv.Kind)
	}
	return r.pool.Submit(string(inv.Kind), func(ctx context.Context) error {
		_, err := fn(ctx, inv)
		return err
	})
}

// Call runs an invocation synchronously and returns its result, bounded
// by the configured sync timeout. Used only for check-run completion,
// whose result feeds a follow-up comment invocation.
func (r *Router) Call(ctx context.Context, inv models.Invocation) (string, error) {
	fn, ok := r.tasks[inv.Kind]
	if !ok {
		return "", fmt.Errorf("dispatch: no task registered for kind %q", inv.Kind)
	}
	ctx, cancel := context.WithTimeout(ctx, r.syncTimeout)
	defer cancel()
	return fn(ctx, inv)
}
