package store

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultOutboxMaxAttempts is how many failed sends a message gets before it is abandoned.
	DefaultOutboxMaxAttempts = 6
	// DefaultOutboxMaxBackoff caps the delay between retries.
	DefaultOutboxMaxBackoff = 10 * time.Minute

	defaultOutboxPoll       = 5 * time.Second
	defaultOutboxStale      = 5 * time.Minute
	defaultOutboxClaimLimit = 10
	outboxBaseBackoff       = 10 * time.Second
)

// OutboxSendFunc delivers one outbox message. A non-nil error schedules a retry.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSender drains the outbox on a fixed poll interval.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	maxAttempts    int
	maxBackoff     time.Duration
}

// OutboxSenderOption configures an OutboxSender.
type OutboxSenderOption func(*OutboxSender)

// WithMaxAttempts sets how many failed sends a message gets.
func WithMaxAttempts(n int) OutboxSenderOption {
	return func(s *OutboxSender) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithMaxBackoff caps the retry delay.
func WithMaxBackoff(d time.Duration) OutboxSenderOption {
	return func(s *OutboxSender) {
		if d > 0 {
			s.maxBackoff = d
		}
	}
}

// WithStaleThreshold sets how long a message may sit in sending before
// RecoverStaleMessages requeues it.
func WithStaleThreshold(d time.Duration) OutboxSenderOption {
	return func(s *OutboxSender) {
		if d > 0 {
			s.staleThreshold = d
		}
	}
}

// NewOutboxSender creates an OutboxSender polling every pollInterval.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration, opts ...OutboxSenderOption) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = defaultOutboxPoll
	}
	s := &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: defaultOutboxStale,
		claimLimit:     defaultOutboxClaimLimit,
		maxAttempts:    DefaultOutboxMaxAttempts,
		maxBackoff:     DefaultOutboxMaxBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecoverStaleMessages requeues messages a previous process left in sending.
// Call it once before Run.
func (s *OutboxSender) RecoverStaleMessages() error {
	n, err := s.repo.RequeueStaleSendingMessages(time.Now().Add(-s.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: started", "pollInterval", s.pollInterval, "maxAttempts", s.maxAttempts)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopped")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// backoff returns the retry delay after the given number of prior attempts.
func (s *OutboxSender) backoff(attempts int) time.Duration {
	d := outboxBaseBackoff
	for i := 0; i < attempts && d < s.maxBackoff; i++ {
		d *= 2
	}
	if d > s.maxBackoff {
		d = s.maxBackoff
	}
	return d
}

// Poll claims due messages once and attempts each. It returns the number sent.
func (s *OutboxSender) Poll(ctx context.Context) int {
	now := time.Now()
	msgs, err := s.repo.ClaimDueOutboxMessages(now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim failed", "error", err)
		return 0
	}

	sent := 0
	for _, msg := range msgs {
		sendErr := s.sendFunc(ctx, msg)
		if sendErr == nil {
			if err := s.repo.MarkOutboxMessageSent(msg.ID); err != nil {
				slog.Error("OutboxSender.Poll: mark sent failed", "id", msg.ID, "error", err)
			}
			sent++
			continue
		}

		attempt := msg.Attempts + 1
		slog.Warn("OutboxSender.Poll: send failed", "id", msg.ID, "identity", msg.Identity, "attempt", attempt, "error", sendErr)
		if attempt >= s.maxAttempts {
			if err := s.repo.AbandonOutboxMessage(msg.ID, sendErr.Error()); err != nil {
				slog.Error("OutboxSender.Poll: abandon failed", "id", msg.ID, "error", err)
			}
			continue
		}
		if err := s.repo.FailOutboxMessage(msg.ID, sendErr.Error(), now.Add(s.backoff(msg.Attempts))); err != nil {
			slog.Error("OutboxSender.Poll: reschedule failed", "id", msg.ID, "error", err)
		}
	}
	if sent > 0 {
		slog.Debug("OutboxSender.Poll: delivered", "sent", sent, "claimed", len(msgs))
	}
	return sent
}
