// Package tasks runs short-lived background work, such as welcome messages
// and completion actions, outside the request that triggered it.
package tasks

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxConcurrent bounds how many tasks run at once.
	DefaultMaxConcurrent = 16
	// DefaultTaskTimeout bounds a single task.
	DefaultTaskTimeout = 2 * time.Minute
)

// TaskInfo describes a running task.
type TaskInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
}

// Runner runs tasks on goroutines with a concurrency limit. A task that
// panics is logged and does not take the process down.
type Runner struct {
	slots   chan struct{}
	timeout time.Duration
	base    context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	active map[string]TaskInfo
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxConcurrent sets the concurrency limit.
func WithMaxConcurrent(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.slots = make(chan struct{}, n)
		}
	}
}

// WithTaskTimeout sets the per-task deadline. Zero disables it.
func WithTaskTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		slots:   make(chan struct{}, DefaultMaxConcurrent),
		timeout: DefaultTaskTimeout,
		base:    ctx,
		cancel:  cancel,
		active:  make(map[string]TaskInfo),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit starts fn in the background. It reports false when the runner is
// shut down or every slot is busy; the caller then runs nothing.
func (r *Runner) Submit(name string, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		slog.Warn("tasks.Runner.Submit: runner closed, task rejected", "name", name)
		return false
	}
	select {
	case r.slots <- struct{}{}:
	default:
		r.mu.Unlock()
		slog.Warn("tasks.Runner.Submit: all slots busy, task rejected", "name", name, "limit", cap(r.slots))
		return false
	}
	id := uuid.NewString()
	r.active[id] = TaskInfo{ID: id, Name: name, StartedAt: time.Now()}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(id, name, fn)
	return true
}

func (r *Runner) run(id, name string, fn func(ctx context.Context)) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			slog.Error("tasks.Runner: task panicked", "id", id, "name", name, "panic", p, "stack", string(debug.Stack()))
		}
		r.mu.Lock()
		delete(r.active, id)
		r.mu.Unlock()
		<-r.slots
		r.wg.Done()
		slog.Debug("tasks.Runner: task finished", "id", id, "name", name, "elapsed", time.Since(start))
	}()

	ctx := r.base
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	slog.Debug("tasks.Runner: task started", "id", id, "name", name)
	fn(ctx)
}

// Active lists running tasks, oldest first.
func (r *Runner) Active() []TaskInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskInfo, 0, len(r.active))
	for _, info := range r.active {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Shutdown rejects new tasks and waits for running ones until ctx is done,
// at which point their contexts are cancelled.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		slog.Warn("tasks.Runner.Shutdown: cancelling running tasks", "running", len(r.Active()))
		<-done
		return ctx.Err()
	}
}
