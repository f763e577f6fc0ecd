package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/fields"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

// errNotApplicable aborts a follow-up update whose precondition no longer holds.
var errNotApplicable = errors.New("conversation no longer in the expected state")

// advance prompts the next missing field, or moves to confirmation.
func (e *Engine) advance(c *models.Conversation, eff *effects) error {
	if e.collector.IsComplete(c) {
		return e.enterConfirming(c, eff)
	}
	next := e.collector.Next(c)
	if next == "" {
		return fmt.Errorf("intent %q has no fields to collect", c.Intent)
	}
	c.Cursor = models.Cursor{Field: next}
	if next == models.FieldAddress && e.deps.Addresses != nil && !c.AddressOffered {
		// The prompt is sent after the saved-address lookup.
		c.AddressOffered = true
		eff.lookupAddresses = true
		return nil
	}
	e.promptField(c, next, eff)
	return nil
}

func (e *Engine) promptField(c *models.Conversation, field models.FieldKey, eff *effects) {
	if field == models.FieldServiceType {
		eff.list(fields.Prompt(field), serviceSections())
		return
	}
	eff.text(fields.Prompt(field))
}

func serviceSections() []models.ListSection {
	names := fields.ServiceTypeNames()
	rows := make([]models.ListRow, 0, len(names))
	for i, name := range names {
		rows = append(rows, models.ListRow{ID: fmt.Sprintf("svc_%d", i+1), Title: name})
	}
	return []models.ListSection{{Title: "Servicios", Rows: rows}}
}

func (e *Engine) onCollecting(c *models.Conversation, in input, eff *effects) error {
	field := c.Cursor.Field
	if field == "" {
		if e.collector.IsComplete(c) {
			return e.enterConfirming(c, eff)
		}
		field = e.collector.Next(c)
		c.Cursor.Field = field
	}

	if len(in.media) > 0 && field != models.FieldReceipt && field != models.FieldAttachment {
		absorbed, err := absorbMedia(c, in.media)
		if err != nil {
			return err
		}
		if in.text == "" {
			if absorbed {
				eff.text(msgMediaReceived)
			}
			e.promptField(c, field, eff)
			return nil
		}
	}

	value, verr := e.collector.Validate(c.Intent, field, fields.Input{Text: in.text, MediaURLs: in.media})
	if verr != nil {
		return e.rejectField(c, field, verr, eff)
	}
	return e.acceptField(c, field, value, eff)
}

// absorbMedia files an attachment sent while another field is prompted.
func absorbMedia(c *models.Conversation, media []string) (bool, error) {
	switch c.Intent {
	case models.IntentPaymentRegistration:
		if !c.Answers.Has(models.FieldReceipt) {
			return true, c.Answers.Set(models.FieldReceipt, media[0])
		}
	case models.IntentServiceRequest:
		if !c.Answers.Has(models.FieldAttachment) {
			return true, c.Answers.Set(models.FieldAttachment, strings.Join(media, " "))
		}
	}
	return false, nil
}

func (e *Engine) rejectField(c *models.Conversation, field models.FieldKey, verr *fields.ValidationError, eff *effects) error {
	n := c.RecordFailure(field)
	slog.Debug("Engine.rejectField", "identity", c.Identity, "field", field, "reason", verr.Reason, "failures", n)
	if n >= 2 {
		eff.friction(models.FrictionValidationRepeat, string(field)+": "+verr.Reason)
	}
	eff.text(verr.Message)
	return nil
}

func (e *Engine) acceptField(c *models.Conversation, field models.FieldKey, value string, eff *effects) error {
	if field == models.FieldAddress {
		if _, ambiguous := fields.DetectAmbiguousLocation(value); ambiguous {
			c.PendingLocation = &models.PendingLocation{Field: field, Value: value}
			if err := c.States.Suspend(models.StateValidatingLocation); err != nil {
				return err
			}
			e.askLocation(c, eff)
			return nil
		}
	}
	if err := c.Answers.Set(field, value); err != nil {
		return err
	}
	delete(c.Failures, field)
	return e.fieldDone(c, eff)
}

// fieldDone continues after a field was stored: a correction returns to
// Confirming, sequential collection moves on.
func (e *Engine) fieldDone(c *models.Conversation, eff *effects) error {
	if c.Cursor.Correcting {
		return e.enterConfirming(c, eff)
	}
	return e.advance(c, eff)
}

func (e *Engine) askLocation(c *models.Conversation, eff *effects) {
	if c.PendingLocation == nil {
		return
	}
	street, _ := fields.DetectAmbiguousLocation(c.PendingLocation.Value)
	eff.text(fields.LocationQuestion(street))
}

func (e *Engine) onValidatingLocation(c *models.Conversation, in input, eff *effects) error {
	pl := c.PendingLocation
	if pl == nil {
		slog.Warn("Engine.onValidatingLocation: no pending location, resuming", "identity", c.Identity)
		if _, err := c.States.Resume(); err != nil {
			c.States.Clear(models.StateCollectingSequential)
		}
		e.reprompt(c, eff)
		return nil
	}
	qualifier, ok := fields.ResolveLocationChoice(in.text)
	if !ok {
		if n := c.RecordFailure(pl.Field); n >= 2 {
			eff.friction(models.FrictionValidationRepeat, string(pl.Field)+": location choice")
		}
		eff.text(msgLocationRetry)
		return nil
	}
	if err := c.Answers.Set(pl.Field, pl.Value+qualifier); err != nil {
		return err
	}
	c.PendingLocation = nil
	delete(c.Failures, pl.Field)
	if _, err := c.States.Resume(); err != nil {
		return err
	}
	return e.fieldDone(c, eff)
}

func (e *Engine) showAddressChoices(choices []models.SavedAddress, eff *effects) {
	rows := make([]models.ListRow, 0, len(choices)+1)
	for i, a := range choices {
		rows = append(rows, models.ListRow{ID: fmt.Sprintf("addr_%d", i+1), Title: fmt.Sprintf("Dirección %d", i+1), Description: a.Label()})
	}
	rows = append(rows, models.ListRow{ID: "addr_other", Title: "Otra dirección"})
	eff.list(msgSavedAddresses, []models.ListSection{{Title: "Direcciones", Rows: rows}})
}

func (e *Engine) onSelectingAddress(c *models.Conversation, in input, eff *effects) error {
	choices := c.AddressChoices
	n := fields.Normalize(in.text)
	other := n == "otra" || n == "otra direccion" || n == "nueva" || n == "nueva direccion"
	if v, ok := parseChoice(in.text, len(choices)+1); ok && v == len(choices)+1 {
		other = true
	}
	if other {
		c.AddressChoices = nil
		if _, err := c.States.Resume(); err != nil {
			return err
		}
		e.promptField(c, models.FieldAddress, eff)
		return nil
	}

	idx, ok := parseChoice(in.text, len(choices))
	if !ok {
		eff.text(msgChooseAddress)
		e.showAddressChoices(choices, eff)
		return nil
	}
	chosen := choices[idx-1]
	c.AddressChoices = nil
	address := chosen.Address
	if models.InOrder(c.Intent, models.FieldUnit) {
		if chosen.Unit != "" {
			if err := c.Answers.Set(models.FieldUnit, chosen.Unit); err != nil {
				return err
			}
		}
	} else {
		address = chosen.Label()
	}
	if err := c.Answers.Set(models.FieldAddress, address); err != nil {
		return err
	}
	if _, err := c.States.Resume(); err != nil {
		return err
	}
	slog.Debug("Engine.onSelectingAddress: saved address chosen", "identity", c.Identity, "index", idx)
	return e.fieldDone(c, eff)
}

// offerSavedAddresses runs after the lock is released: it loads the saved
// addresses and, when there are any, suspends collection to let the client
// pick one. Otherwise it sends the address prompt that advance deferred.
func (e *Engine) offerSavedAddresses(ctx context.Context, conv *models.Conversation) {
	list, err := e.deps.Addresses.ListSaved(ctx, conv.Identity)
	if err != nil {
		slog.Warn("Engine.offerSavedAddresses: lookup failed", "identity", conv.Identity, "error", err)
	}
	if len(list) == 0 {
		e.sendText(ctx, conv.Identity, fields.Prompt(models.FieldAddress))
		return
	}
	_, err = e.conversations.Update(conv.Identity, func(c *models.Conversation) error {
		state := c.State()
		if (state != models.StateCollectingSequential && state != models.StateCorrectingField) ||
			c.Cursor.Field != models.FieldAddress || c.Answers.Has(models.FieldAddress) {
			return errNotApplicable
		}
		c.AddressChoices = list
		return c.States.Suspend(models.StateSelectingAddress)
	})
	if errors.Is(err, errNotApplicable) {
		slog.Debug("Engine.offerSavedAddresses: conversation moved on", "identity", conv.Identity)
		return
	}
	if err != nil {
		slog.Warn("Engine.offerSavedAddresses: update failed", "identity", conv.Identity, "error", err)
		e.sendText(ctx, conv.Identity, fields.Prompt(models.FieldAddress))
		return
	}
	e.deps.Auditor.Transition(conv.State(), models.StateSelectingAddress)
	eff := newEffects(conv.Identity)
	e.showAddressChoices(list, eff)
	e.deliverAll(ctx, eff.replies)
}
