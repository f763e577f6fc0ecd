package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/handoff"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/store"
)

const defaultHistoryLines = 10

// beginHandoff freezes field collection and hands the conversation to the
// human agent. The queue is touched after the lock is released.
func (e *Engine) beginHandoff(c *models.Conversation, text string, emergency bool, eff *effects) error {
	if e.agent == "" {
		slog.Warn("Engine.beginHandoff: no agent configured", "identity", c.Identity)
		if emergency {
			eff.text(fmt.Sprintf(msgEmergency, e.emergencyPhone))
		}
		eff.text(msgNoAgent + " " + e.contactInfo)
		return e.backToMenu(c, eff)
	}
	now := e.now()
	if emergency {
		c.SelectIntent(models.IntentEmergency)
	}
	c.PendingLocation = nil
	c.AddressChoices = nil
	c.Executing = false
	c.States.Clear(models.StateAttendedByHuman)
	c.Handoff = models.HandoffInfo{
		Active:              true,
		StartedAt:           now,
		LastClientMessageAt: now,
		ContextMessage:      text,
	}
	c.Survey = models.SurveyState{}
	c.History = nil
	if text != "" {
		c.AppendHistory(models.HistoryEntry{At: now, Sender: models.SenderClient, Text: text}, e.historyLimit)
	}
	if emergency {
		eff.text(fmt.Sprintf(msgEmergency, e.emergencyPhone))
	} else {
		eff.text(msgHandoffStarted)
	}
	eff.escalate = true
	slog.Info("Engine.beginHandoff: escalated", "identity", c.Identity, "emergency", emergency)
	return nil
}

func (e *Engine) onAttendedByHuman(c *models.Conversation, in input, eff *effects) error {
	text := in.text
	if len(in.media) > 0 {
		text = strings.TrimSpace(text + " " + strings.Join(in.media, " "))
	}
	now := e.now()
	c.Handoff.LastClientMessageAt = now
	c.AppendHistory(models.HistoryEntry{At: now, Sender: models.SenderClient, Text: text}, e.historyLimit)
	eff.forwardToAgent = text
	return nil
}

// forwardToAgent relays a client message when its conversation is active,
// and otherwise reminds the client of their queue position.
func (e *Engine) forwardToAgent(ctx context.Context, conv *models.Conversation, text string) {
	if active, ok := e.queue.Active(); ok && active == conv.Identity {
		e.sendToAgent(ctx, fmt.Sprintf(msgAgentClientSays, displayName(conv), text))
		return
	}
	if pos, ok := e.queue.PositionOf(conv.Identity); ok {
		e.deliver(ctx, outbound{to: conv.Identity, body: fmt.Sprintf(msgStillQueued, pos)})
		return
	}
	// Escalated but missing from the queue: put it back.
	slog.Warn("Engine.forwardToAgent: handed-off conversation not queued, re-enqueueing", "identity", conv.Identity)
	e.enqueueHandoff(ctx, conv)
}

func (e *Engine) enqueueHandoff(ctx context.Context, conv *models.Conversation) {
	pos, activated, err := e.queue.Enqueue(conv.Identity)
	if err != nil {
		slog.Error("Engine.enqueueHandoff: enqueue failed", "identity", conv.Identity, "error", err)
		return
	}
	e.deps.Auditor.QueueDepth(e.queue.Len())
	if activated {
		e.announceActivation(ctx, conv.Identity)
		return
	}
	e.sendText(ctx, conv.Identity, fmt.Sprintf(msgQueuePosition, pos))
	e.sendToAgent(ctx, fmt.Sprintf(msgAgentNewInQueue, displayName(conv), pos))
}

// announceActivation notifies the agent and the client that identity is now
// active. Handoff.Notified guarantees one notification per activation.
// An activated identity with no live conversation is dropped from the queue.
func (e *Engine) announceActivation(ctx context.Context, identity string) {
	conv, err := e.conversations.Update(identity, func(c *models.Conversation) error {
		if !c.Handoff.Active || c.Handoff.Notified {
			return errNotApplicable
		}
		c.Handoff.Notified = true
		return nil
	})
	switch {
	case errors.Is(err, store.ErrConversationNotFound):
		slog.Warn("Engine.announceActivation: orphan queue entry removed", "identity", identity)
		if _, next, rerr := e.queue.RemoveAnyEntry(identity); rerr == nil && next != "" && next != identity {
			e.announceActivation(ctx, next)
		}
		return
	case errors.Is(err, errNotApplicable):
		slog.Debug("Engine.announceActivation: already notified", "identity", identity)
		return
	case err != nil:
		slog.Error("Engine.announceActivation: update failed", "identity", identity, "error", err)
		return
	}
	e.sendToAgent(ctx, activationNotice(conv))
	e.sendText(ctx, identity, msgAgentJoined)
}

func activationNotice(c *models.Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, msgAgentActivated, displayName(c), c.Handoff.ContextMessage)
	if c.Answers.Len() > 0 {
		b.WriteString("\n" + Summary(c))
	}
	b.WriteString("\n" + msgAgentHelpFooter)
	return b.String()
}

func displayName(c *models.Conversation) string {
	if c == nil {
		return ""
	}
	if c.DisplayName != "" {
		return fmt.Sprintf("%s (%s)", c.DisplayName, c.Identity)
	}
	return c.Identity
}

func (e *Engine) displayNameOf(identity string) string {
	if conv, ok := e.conversations.Snapshot(identity); ok {
		return displayName(conv)
	}
	return identity
}

func (e *Engine) handleAgent(ctx context.Context, in models.InboundMessage) {
	cmd, ok := handoff.ParseCommand(in.Text)
	if !ok {
		e.relayAgentMessage(ctx, in)
		return
	}
	slog.Debug("Engine.handleAgent: command", "command", cmd.Command, "args", cmd.Args)
	switch cmd.Command {
	case handoff.CommandClose:
		e.closeActive(ctx)
	case handoff.CommandSkip:
		e.skipActive(ctx)
	case handoff.CommandQueue:
		e.sendToAgent(ctx, e.queueListing())
	case handoff.CommandActive:
		active, ok := e.queue.Active()
		if !ok {
			e.sendToAgent(ctx, msgAgentNoActive)
			return
		}
		conv, ok := e.conversations.Snapshot(active)
		if !ok {
			e.sendToAgent(ctx, active)
			return
		}
		e.sendToAgent(ctx, activationNotice(conv))
	case handoff.CommandHistory:
		e.sendToAgent(ctx, e.activeHistory(cmd.Args))
	case handoff.CommandHelp:
		e.sendToAgent(ctx, handoff.HelpText)
	case handoff.CommandOptIn:
		active, ok := e.queue.Active()
		if !ok {
			e.sendToAgent(ctx, msgAgentNoActive)
			return
		}
		e.sendText(ctx, active, msgOptIn)
		e.sendToAgent(ctx, fmt.Sprintf(msgAgentOptInSent, e.displayNameOf(active)))
	}
}

// CloseActive closes the active handoff as the agent's /done would.
func (e *Engine) CloseActive(ctx context.Context) {
	e.closeActive(ctx)
}

func (e *Engine) closeActive(ctx context.Context) {
	var (
		closed, next string
		offered      bool
		name         string
		err          error
	)
	e.queue.Do(func(tx *handoff.Tx) {
		if active, ok := tx.Active(); ok {
			name = e.displayNameOf(active)
		}
		closed, next, err = tx.CloseActive(func(id string) { offered = e.closeConversation(id) })
	})
	if err != nil {
		slog.Debug("Engine.closeActive: nothing to close", "error", err)
		e.sendToAgent(ctx, msgAgentNoActive)
		return
	}
	e.deps.Auditor.QueueDepth(e.queue.Len())
	slog.Info("Engine.closeActive: closed", "identity", closed, "next", next, "survey", offered)
	e.sendToAgent(ctx, fmt.Sprintf(msgAgentClosed, name))
	if offered {
		e.deps.Auditor.Transition(models.StateAttendedByHuman, models.StateSurveyOffered)
		e.deliver(ctx, outbound{to: closed, body: msgHandoffClosed + " " + msgSurveyOffer, buttons: surveyButtons, essential: true})
	} else {
		e.sendText(ctx, closed, msgHandoffClosed)
	}
	if next == "" {
		e.sendToAgent(ctx, msgAgentQueueEmpty)
		return
	}
	e.announceActivation(ctx, next)
}

// closeConversation runs under the queue lock. With surveys enabled the
// conversation moves to SurveyOffered and is finalized later; otherwise it
// is finalized now. It reports whether a survey was offered.
func (e *Engine) closeConversation(identity string) bool {
	if !e.surveysEnabled {
		e.conversations.Finalize(identity)
		return false
	}
	now := e.now()
	_, err := e.conversations.Update(identity, func(c *models.Conversation) error {
		c.Handoff.Active = false
		c.States.Clear(models.StateSurveyOffered)
		c.Survey = models.SurveyState{Offered: true, OfferedAt: now}
		return nil
	})
	if err != nil {
		slog.Warn("Engine.closeConversation: survey offer failed, finalizing", "identity", identity, "error", err)
		e.conversations.Finalize(identity)
		return false
	}
	return true
}

func (e *Engine) skipActive(ctx context.Context) {
	var (
		moved, next string
		err         error
	)
	e.queue.Do(func(tx *handoff.Tx) {
		moved, next, err = tx.MoveActiveToBack()
		if err != nil {
			return
		}
		if _, uerr := e.conversations.Update(moved, func(c *models.Conversation) error {
			c.Handoff.Notified = false
			return nil
		}); uerr != nil {
			slog.Warn("Engine.skipActive: could not reset notification", "identity", moved, "error", uerr)
		}
	})
	switch {
	case errors.Is(err, handoff.ErrQueueEmpty):
		e.sendToAgent(ctx, msgAgentNoActive)
		return
	case errors.Is(err, handoff.ErrSingleEntry):
		e.sendToAgent(ctx, fmt.Sprintf(msgAgentSingleEntry, e.displayNameOf(moved)))
		return
	case err != nil:
		slog.Error("Engine.skipActive: failed", "error", err)
		return
	}
	slog.Info("Engine.skipActive: rotated", "moved", moved, "next", next)
	e.sendToAgent(ctx, fmt.Sprintf(msgAgentMovedBack, e.displayNameOf(moved)))
	if pos, ok := e.queue.PositionOf(moved); ok {
		e.deliver(ctx, outbound{to: moved, body: fmt.Sprintf(msgStillQueued, pos)})
	}
	e.announceActivation(ctx, next)
}

func (e *Engine) queueListing() string {
	ids := e.queue.Snapshot()
	if len(ids) == 0 {
		return msgAgentQueueEmpty
	}
	var b strings.Builder
	b.WriteString(msgAgentQueueHeader)
	for i, id := range ids {
		fmt.Fprintf(&b, "\n%d. %s", i+1, e.displayNameOf(id))
		if i == 0 {
			b.WriteString(" [activa]")
		}
	}
	return b.String()
}

func (e *Engine) activeHistory(args string) string {
	active, ok := e.queue.Active()
	if !ok {
		return msgAgentNoActive
	}
	conv, ok := e.conversations.Snapshot(active)
	if !ok || len(conv.History) == 0 {
		return msgAgentNoHistory
	}
	n := defaultHistoryLines
	if v, err := strconv.Atoi(strings.TrimSpace(args)); err == nil && v > 0 {
		n = v
	}
	entries := conv.History
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	loc := e.collector.Location()
	var b strings.Builder
	for i, h := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		who := "Cliente"
		if h.Sender == models.SenderAgent {
			who = "Agente"
		}
		fmt.Fprintf(&b, "[%s] %s: %s", h.At.In(loc).Format("15:04"), who, h.Text)
	}
	return b.String()
}

// relayAgentMessage forwards a non-command agent message to the active client.
func (e *Engine) relayAgentMessage(ctx context.Context, in models.InboundMessage) {
	active, ok := e.queue.Active()
	if !ok {
		e.sendToAgent(ctx, msgAgentNoActive)
		return
	}
	text := strings.TrimSpace(in.Text)
	if len(in.MediaURLs) > 0 {
		text = strings.TrimSpace(text + " " + strings.Join(in.MediaURLs, " "))
	}
	now := e.now()
	_, err := e.conversations.Update(active, func(c *models.Conversation) error {
		if !c.Handoff.Active {
			return errNotApplicable
		}
		c.AppendHistory(models.HistoryEntry{At: now, Sender: models.SenderAgent, Text: text}, e.historyLimit)
		return nil
	})
	if err != nil {
		slog.Warn("Engine.relayAgentMessage: active conversation unavailable", "identity", active, "error", err)
		e.sendToAgent(ctx, msgAgentNoActive)
		return
	}
	if !e.deliver(ctx, outbound{to: active, body: text, essential: true}) {
		e.sendToAgent(ctx, fmt.Sprintf(msgAgentDeliveryFailed, e.displayNameOf(active)))
	}
}
