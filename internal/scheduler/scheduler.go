// Package scheduler runs periodic maintenance jobs, such as the timeout
// sweep, on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 5 * time.Minute

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
}

// Option configures a Scheduler.
type Option func(*schedulerConfig)

type schedulerConfig struct {
	location *time.Location
	timeout  time.Duration
}

// WithLocation evaluates cron expressions in loc instead of the local zone.
func WithLocation(loc *time.Location) Option {
	return func(c *schedulerConfig) { c.location = loc }
}

// WithJobTimeout sets the per-run deadline. Zero disables it.
func WithJobTimeout(d time.Duration) Option {
	return func(c *schedulerConfig) { c.timeout = d }
}

// NewScheduler creates and starts a cron scheduler using the standard
// 5-field parser. Overlapping runs of the same job are skipped.
func NewScheduler(opts ...Option) *Scheduler {
	cfg := schedulerConfig{location: time.Local, timeout: DefaultJobTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.location),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	c.Start()
	return &Scheduler{cron: c, timeout: cfg.timeout}
}

// AddJob schedules job under name. It returns an error if the expression
// is invalid.
func (s *Scheduler) AddJob(name, expr string, job Job) error {
	_, err := s.cron.AddFunc(expr, func() {
		ctx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		start := time.Now()
		if err := job(ctx); err != nil {
			slog.Error("scheduler: job failed", "job", name, "error", err, "elapsed", time.Since(start))
			return
		}
		slog.Debug("scheduler: job finished", "job", name, "elapsed", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("schedule %s with %q: %w", name, expr, err)
	}
	slog.Info("scheduler: job scheduled", "job", name, "expr", expr)
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
