package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/fields"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/store"
)

func (e *Engine) enterConfirming(c *models.Conversation, eff *effects) error {
	c.Cursor = models.Cursor{}
	c.States.Clear(models.StateConfirming)
	e.confirmPrompt(c, eff)
	return nil
}

// Summary renders the collected answers in field order.
func Summary(c *models.Conversation) string {
	var b strings.Builder
	b.WriteString(msgSummaryHeader)
	for _, key := range c.Answers.Keys() {
		value := c.Answers.Value(key)
		switch {
		case key == models.FieldAttachment && value != "":
			value = msgAttachmentValue
		case value == "":
			value = msgEmptyValue
		}
		fmt.Fprintf(&b, "\n• %s: %s", fields.Label(key), value)
	}
	return b.String()
}

func (e *Engine) confirmPrompt(c *models.Conversation, eff *effects) {
	eff.buttons(Summary(c)+"\n\n"+msgConfirmQuestion, confirmButtons)
}

func (e *Engine) onConfirming(c *models.Conversation, in input, eff *effects) error {
	switch {
	case isAffirmative(in.text):
		c.States.Set(models.StateSending)
		c.Executing = true
		eff.execute = true
		eff.note(msgProcessing)
	case isNegative(in.text):
		c.States.Set(models.StateCorrecting)
		e.correctionMenu(c, eff)
	default:
		eff.text(msgConfirmHelp)
		e.confirmPrompt(c, eff)
	}
	return nil
}

func (e *Engine) correctionMenu(c *models.Conversation, eff *effects) {
	keys := models.RequiredFields(c.Intent)
	rows := make([]models.ListRow, 0, len(keys)+1)
	for i, key := range keys {
		rows = append(rows, models.ListRow{ID: fmt.Sprintf("fix_%d", i+1), Title: fields.Label(key)})
	}
	rows = append(rows, models.ListRow{ID: "fix_all", Title: "Todos los datos"})
	eff.list(msgCorrectionMenu, []models.ListSection{{Title: "Datos", Rows: rows}})
}

func (e *Engine) onCorrecting(c *models.Conversation, in input, eff *effects) error {
	keys := models.RequiredFields(c.Intent)
	n := fields.Normalize(in.text)
	all := n == "todo" || n == "todos" || n == "todos los datos"
	if v, ok := parseChoice(in.text, len(keys)+1); ok && v == len(keys)+1 {
		all = true
	}
	if all {
		slog.Debug("Engine.onCorrecting: restarting collection", "identity", c.Identity)
		c.SelectIntent(c.Intent)
		c.States.Clear(models.StateCollectingSequential)
		return e.advance(c, eff)
	}

	var field models.FieldKey
	if idx, ok := parseChoice(in.text, len(keys)); ok {
		field = keys[idx-1]
	} else if key, ok := fields.FieldByLabel(c.Intent, in.text); ok && models.InOrder(c.Intent, key) {
		field = key
	}
	if field == "" {
		eff.text(msgChooseField)
		e.correctionMenu(c, eff)
		return nil
	}
	c.States.Set(models.StateCorrectingField)
	c.Cursor = models.Cursor{Field: field, Correcting: true}
	e.promptField(c, field, eff)
	return nil
}

func (e *Engine) onSending(c *models.Conversation, eff *effects) error {
	if c.Executing {
		eff.text(msgStillProcessing)
		return nil
	}
	c.Executing = true
	eff.execute = true
	eff.note(msgRetrying)
	return nil
}

// execute runs the completion action for a confirmed request.
func (e *Engine) execute(ctx context.Context, conv *models.Conversation) {
	err := e.runAction(ctx, conv)
	e.deps.Auditor.ActionResult(conv.Intent, err == nil)
	if err != nil {
		slog.Error("Engine.execute: action failed", "identity", conv.Identity, "intent", conv.Intent, "error", err)
		e.deps.Auditor.Friction(conv.Identity, models.FrictionActionFailed, err.Error())
		if _, uerr := e.conversations.Update(conv.Identity, func(c *models.Conversation) error {
			if c.State() != models.StateSending {
				return errNotApplicable
			}
			c.Executing = false
			return nil
		}); uerr != nil {
			slog.Warn("Engine.execute: could not release execution guard", "identity", conv.Identity, "error", uerr)
		}
		e.sendText(ctx, conv.Identity, msgTryLater)
		return
	}

	if conv.Intent == models.IntentPaymentRegistration && e.deps.Addresses != nil {
		if e.saveAddress(ctx, conv) {
			return
		}
	}
	e.finish(ctx, conv)
}

// runAction invokes the intent's action, retrying once.
func (e *Engine) runAction(ctx context.Context, conv *models.Conversation) error {
	if e.deps.Actions == nil {
		slog.Warn("Engine.runAction: no actions configured", "identity", conv.Identity, "intent", conv.Intent)
		return nil
	}
	do := func() error {
		switch conv.Intent {
		case models.IntentPaymentRegistration:
			return e.deps.Actions.AppendCompletedPayment(ctx, conv)
		case models.IntentServiceRequest:
			return e.deps.Actions.SendServiceRequestEmail(ctx, conv)
		}
		return fmt.Errorf("no action for intent %q", conv.Intent)
	}
	err := do()
	if err != nil {
		slog.Warn("Engine.runAction: first attempt failed, retrying", "identity", conv.Identity, "error", err)
		err = do()
	}
	return err
}

func doneMessage(intent models.Intent) string {
	if intent == models.IntentPaymentRegistration {
		return msgPaymentDone
	}
	return msgServiceDone
}

func (e *Engine) finish(ctx context.Context, conv *models.Conversation) {
	if _, err := e.conversations.Update(conv.Identity, func(c *models.Conversation) error {
		c.Executing = false
		c.States.Clear(models.StateFinished)
		return nil
	}); err == nil {
		e.deps.Auditor.Transition(conv.State(), models.StateFinished)
	}
	e.sendText(ctx, conv.Identity, doneMessage(conv.Intent))
	e.conversations.Finalize(conv.Identity)
	slog.Info("Engine.finish: request completed", "identity", conv.Identity, "intent", conv.Intent)
}

// saveAddress remembers the payment's address. It reports true when the
// saved-address limit was reached and the client was asked to replace one.
func (e *Engine) saveAddress(ctx context.Context, conv *models.Conversation) bool {
	address := conv.Answers.Value(models.FieldAddress)
	unit := conv.Answers.Value(models.FieldUnit)
	if address == "" {
		return false
	}
	outcome, err := e.deps.Addresses.UpsertSaved(ctx, conv.Identity, address, unit)
	if err != nil {
		slog.Warn("Engine.saveAddress: upsert failed", "identity", conv.Identity, "error", err)
		return false
	}
	if outcome != store.OutcomeLimitReached {
		slog.Debug("Engine.saveAddress: done", "identity", conv.Identity, "outcome", outcome)
		return false
	}
	list, err := e.deps.Addresses.ListSaved(ctx, conv.Identity)
	if err != nil || len(list) == 0 {
		slog.Warn("Engine.saveAddress: list failed", "identity", conv.Identity, "error", err)
		return false
	}
	updated, err := e.conversations.Update(conv.Identity, func(c *models.Conversation) error {
		c.Executing = false
		c.States.Clear(models.StateReplacingSavedAddress)
		c.PendingSave = &models.SavedAddress{Address: address, Unit: unit}
		c.AddressChoices = list
		return nil
	})
	if err != nil {
		slog.Warn("Engine.saveAddress: update failed", "identity", conv.Identity, "error", err)
		return false
	}
	e.deps.Auditor.Transition(models.StateSending, models.StateReplacingSavedAddress)
	e.sendText(ctx, conv.Identity, doneMessage(conv.Intent))
	eff := newEffects(conv.Identity)
	e.showReplaceChoices(updated, eff)
	e.deliverAll(ctx, eff.replies)
	return true
}

func (e *Engine) showReplaceChoices(c *models.Conversation, eff *effects) {
	if c.PendingSave == nil {
		return
	}
	rows := make([]models.ListRow, 0, len(c.AddressChoices)+1)
	for i, a := range c.AddressChoices {
		rows = append(rows, models.ListRow{ID: fmt.Sprintf("addr_%d", i+1), Title: fmt.Sprintf("Reemplazar %d", i+1), Description: a.Label()})
	}
	rows = append(rows, models.ListRow{ID: "addr_keep", Title: "No guardar"})
	body := fmt.Sprintf(msgAddressLimit, len(c.AddressChoices), c.PendingSave.Label())
	eff.list(body, []models.ListSection{{Title: "Direcciones", Rows: rows}})
}

func (e *Engine) onReplacingSavedAddress(c *models.Conversation, in input, eff *effects) error {
	n := len(c.AddressChoices)
	v, numeric := parseChoice(in.text, n+1)
	keep := (!numeric && isNegative(in.text)) || v == n+1
	switch idx, ok := parseChoice(in.text, n); {
	case keep:
		eff.text(msgAddressNotSaved)
	case ok:
		eff.replaceIndex = idx - 1
	default:
		eff.text(msgChooseAddress)
		e.showReplaceChoices(c, eff)
		return nil
	}
	c.States.Clear(models.StateFinished)
	eff.finalize = true
	return nil
}

// replaceSavedAddress swaps the chosen saved address for the pending one.
func (e *Engine) replaceSavedAddress(ctx context.Context, conv *models.Conversation, index int) {
	pending := conv.PendingSave
	if pending == nil || e.deps.Addresses == nil {
		return
	}
	ok, err := e.deps.Addresses.DeleteSaved(ctx, conv.Identity, index)
	if err == nil && ok {
		_, err = e.deps.Addresses.UpsertSaved(ctx, conv.Identity, pending.Address, pending.Unit)
	}
	if err != nil || !ok {
		slog.Warn("Engine.replaceSavedAddress: failed", "identity", conv.Identity, "index", index, "deleted", ok, "error", err)
		e.sendText(ctx, conv.Identity, msgAddressNotSaved)
		return
	}
	e.sendText(ctx, conv.Identity, msgAddressReplaced)
}
