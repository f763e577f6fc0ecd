package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())

	if err := s.AddJob("sweep", "*/5 * * * *", func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("hourly", "@every 1h", func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("Expected descriptor to be accepted, got %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestSchedulerAddJob_InvalidExpr(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())
	if err := s.AddJob("bad", "every five minutes", func(ctx context.Context) error { return nil }); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestSchedulerRunsJob(t *testing.T) {
	loc, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	s := NewScheduler(WithLocation(loc), WithJobTimeout(time.Second))
	defer s.Stop(context.Background())

	ran := make(chan bool, 2)
	if err := s.AddJob("tick", "@every 1s", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		ran <- hasDeadline
		return errors.New("logged, not fatal")
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case hasDeadline := <-ran:
		if !hasDeadline {
			t.Error("job context should carry the configured timeout")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestSchedulerStop(t *testing.T) {
	s := NewScheduler()
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
