package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/handoff"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

// Sweep closes expired conversations: silent handoffs past the handoff TTL,
// unanswered surveys past the survey TTL, and idle bot conversations past
// the conversation TTL. It is idempotent and returns how many it closed.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	now := e.now()
	closed := 0
	for _, conv := range e.conversations.List() {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		var ok bool
		switch state := conv.State(); {
		case conv.Handoff.Active:
			ok = e.handoffExpired(conv, now) && e.expireHandoff(ctx, conv, now)
		case state == models.StateSurveyOffered || state == models.StateSurveyInProgress:
			ok = e.surveyExpired(conv, now) && e.conversations.FinalizeIf(conv.Identity, func(c *models.Conversation) bool {
				return !c.Handoff.Active && c.Survey.Offered && e.surveyExpired(c, now)
			})
		default:
			ok = e.idleExpired(conv, now) && e.conversations.FinalizeIf(conv.Identity, func(c *models.Conversation) bool {
				return !c.Handoff.Active && e.idleExpired(c, now)
			})
			if ok && conv.Intent != models.IntentNone {
				e.deliver(ctx, outbound{to: conv.Identity, body: msgIdleClosed})
			}
		}
		if ok {
			closed++
			slog.Info("Engine.Sweep: closed", "identity", conv.Identity, "state", conv.State())
		}
	}
	pruned := e.conversations.PruneTombstones(now.Add(-e.tombstoneWindow))
	e.deps.Auditor.SweepClosed(closed)
	slog.Debug("Engine.Sweep: done", "closed", closed, "tombstonesPruned", pruned)
	return closed, nil
}

func (e *Engine) handoffExpired(c *models.Conversation, now time.Time) bool {
	last := c.Handoff.LastClientMessageAt
	if last.IsZero() {
		last = c.Handoff.StartedAt
	}
	return now.Sub(last) > e.handoffTTL
}

func (e *Engine) surveyExpired(c *models.Conversation, now time.Time) bool {
	return now.Sub(c.Survey.OfferedAt) > e.surveyTTL
}

func (e *Engine) idleExpired(c *models.Conversation, now time.Time) bool {
	return e.conversationTTL > 0 && !c.Executing && now.Sub(c.UpdatedAt) > e.conversationTTL
}

// expireHandoff finalizes a stale handoff and removes it from the queue in
// one queue transaction, so it cannot race an agent closing the same entry.
func (e *Engine) expireHandoff(ctx context.Context, conv *models.Conversation, now time.Time) bool {
	var (
		expired   bool
		wasActive bool
		next      string
	)
	e.queue.Do(func(tx *handoff.Tx) {
		expired = e.conversations.FinalizeIf(conv.Identity, func(c *models.Conversation) bool {
			return c.Handoff.Active && e.handoffExpired(c, now)
		})
		if !expired {
			return
		}
		var err error
		wasActive, next, err = tx.RemoveAnyEntry(conv.Identity)
		if err != nil {
			slog.Warn("Engine.expireHandoff: conversation was not queued", "identity", conv.Identity, "error", err)
		}
	})
	if !expired {
		return false
	}
	e.deps.Auditor.QueueDepth(e.queue.Len())
	e.deliver(ctx, outbound{to: conv.Identity, body: msgHandoffExpired})
	if wasActive {
		e.sendToAgent(ctx, fmt.Sprintf(msgAgentExpired, displayName(conv)))
		if next != "" {
			e.announceActivation(ctx, next)
		}
	}
	return true
}
