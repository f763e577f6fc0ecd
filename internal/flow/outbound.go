package flow

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/store"
)

// outbound is one message to send after the conversation lock is released.
// Interactive messages fall back to plain text once; essential texts that
// still fail are queued in the outbox when one is configured.
type outbound struct {
	to        string
	body      string
	buttons   []models.Button
	sections  []models.ListSection
	essential bool
}

type frictionEvent struct {
	kind   models.FrictionKind
	detail string
}

// effects collects everything a step decided to do outside the lock.
type effects struct {
	identity    string
	replies     []outbound
	background  []outbound
	transitions [][2]models.State
	frictions   []frictionEvent

	escalate        bool
	forwardToAgent  string
	lookupAddresses bool
	execute         bool
	replaceIndex    int
	recordSurvey    []int
	reset           bool
	finalize        bool
}

func newEffects(identity string) *effects {
	return &effects{identity: identity, replies: []outbound{}, replaceIndex: -1}
}

func (f *effects) text(body string) {
	f.replies = append(f.replies, outbound{to: f.identity, body: body, essential: true})
}

func (f *effects) note(body string) {
	f.replies = append(f.replies, outbound{to: f.identity, body: body})
}

func (f *effects) buttons(body string, buttons []models.Button) {
	f.replies = append(f.replies, outbound{to: f.identity, body: body, buttons: buttons, essential: true})
}

func (f *effects) list(body string, sections []models.ListSection) {
	f.replies = append(f.replies, outbound{to: f.identity, body: body, sections: sections, essential: true})
}

func (f *effects) friction(kind models.FrictionKind, detail string) {
	f.frictions = append(f.frictions, frictionEvent{kind: kind, detail: detail})
}

// apply performs a committed step's effects. conv is the committed snapshot.
func (e *Engine) apply(ctx context.Context, conv *models.Conversation, eff *effects) {
	for _, t := range eff.transitions {
		slog.Debug("Engine.apply: transition", "identity", conv.Identity, "from", t[0], "to", t[1])
		e.deps.Auditor.Transition(t[0], t[1])
	}
	for _, f := range eff.frictions {
		e.deps.Auditor.Friction(conv.Identity, f.kind, f.detail)
	}
	if eff.reset {
		e.conversations.Reset(conv.Identity, func(fresh *models.Conversation) {
			fresh.DisplayName = conv.DisplayName
			fresh.States.Set(conv.State())
		})
	}
	if len(eff.background) > 0 {
		msgs := eff.background
		if !e.deps.Tasks.Submit("welcome", func(ctx context.Context) { e.deliverAll(ctx, msgs) }) {
			slog.Warn("Engine.apply: welcome task rejected, sending inline", "identity", conv.Identity)
			e.deliverAll(ctx, msgs)
		}
	}
	e.deliverAll(ctx, eff.replies)

	if eff.forwardToAgent != "" {
		e.forwardToAgent(ctx, conv, eff.forwardToAgent)
	}
	if eff.escalate {
		e.enqueueHandoff(ctx, conv)
	}
	if eff.lookupAddresses {
		e.offerSavedAddresses(ctx, conv)
	}
	if eff.execute {
		e.execute(ctx, conv)
	}
	if eff.replaceIndex >= 0 {
		e.replaceSavedAddress(ctx, conv, eff.replaceIndex)
	}
	if eff.recordSurvey != nil {
		e.recordSurvey(ctx, conv.Identity, eff.recordSurvey)
	}
	if eff.finalize {
		e.conversations.Finalize(conv.Identity)
		slog.Info("Engine.apply: conversation finalized", "identity", conv.Identity)
	}
}

func (e *Engine) deliverAll(ctx context.Context, msgs []outbound) {
	for _, m := range msgs {
		e.deliver(ctx, m)
	}
}

func (e *Engine) sendText(ctx context.Context, to, body string) {
	e.deliver(ctx, outbound{to: to, body: body, essential: true})
}

func (e *Engine) sendToAgent(ctx context.Context, body string) {
	if e.agent == "" {
		slog.Debug("Engine.sendToAgent: no agent configured, dropping", "body", body)
		return
	}
	e.sendText(ctx, e.agent, body)
}

// deliver sends m, falling back to plain text for interactive messages.
// It reports whether the message reached the transport.
func (e *Engine) deliver(ctx context.Context, m outbound) bool {
	sender := e.deps.Sender
	var (
		err      error
		fallback string
	)
	switch {
	case len(m.buttons) > 0:
		err = sender.SendButtons(ctx, m.to, m.body, m.buttons)
		fallback = models.RenderButtons(m.body, m.buttons)
	case len(m.sections) > 0:
		err = sender.SendList(ctx, m.to, m.body, m.sections)
		fallback = models.RenderList(m.body, m.sections)
	default:
		err = sender.SendText(ctx, m.to, m.body)
	}
	if err != nil && fallback != "" {
		slog.Warn("Engine.deliver: interactive send failed, falling back to text", "to", m.to, "error", err)
		err = sender.SendText(ctx, m.to, fallback)
	}
	if err == nil {
		return true
	}
	slog.Error("Engine.deliver: send failed", "to", m.to, "essential", m.essential, "error", err)
	e.deps.Auditor.Friction(m.to, models.FrictionSendFailed, err.Error())
	if m.essential {
		body := m.body
		if fallback != "" {
			body = fallback
		}
		e.queueOutbox(m.to, body)
	}
	return false
}

func (e *Engine) queueOutbox(to, body string) {
	if e.deps.Outbox == nil {
		return
	}
	payload, err := json.Marshal(store.OutboxTextPayload{Body: body})
	if err != nil {
		slog.Error("Engine.queueOutbox: marshal failed", "to", to, "error", err)
		return
	}
	id, err := e.deps.Outbox.EnqueueOutboxMessage(to, store.OutboxKindText, string(payload), "")
	if err != nil {
		slog.Error("Engine.queueOutbox: enqueue failed", "to", to, "error", err)
		return
	}
	slog.Info("Engine.queueOutbox: queued for retry", "to", to, "id", id)
}
