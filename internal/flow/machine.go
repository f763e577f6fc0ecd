package flow

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

// input is an inbound client message after interactive ids were resolved.
type input struct {
	text  string
	media []string
}

// step applies one client message to c. It runs under the conversation
// lock: it must not perform I/O and records everything else in eff.
func (e *Engine) step(c *models.Conversation, in models.InboundMessage, h hints, eff *effects) error {
	if in.ProfileName != "" && c.DisplayName == "" {
		c.DisplayName = in.ProfileName
	}
	msg := input{
		text:  resolveChoiceID(strings.TrimSpace(in.Text)),
		media: in.MediaURLs,
	}
	state := c.State()
	slog.Debug("Engine.step", "identity", c.Identity, "state", state, "intent", c.Intent, "field", c.Cursor.Field)

	if !state.IsTerminal() && !(state == models.StateSending && c.Executing) {
		kind := detectInterrupt(msg.text, h)
		if state == models.StateStart && kind != interruptHuman {
			kind = interruptNone
		}
		switch kind {
		case interruptMenu:
			return e.backToMenu(c, eff)
		case interruptHuman:
			return e.beginHandoff(c, msg.text, false, eff)
		case interruptContact:
			eff.text(e.contactInfo)
			e.reprompt(c, eff)
			return nil
		}
	}

	switch state {
	case models.StateStart:
		return e.onStart(c, msg, eff)
	case models.StateAwaitingIntent:
		return e.onAwaitingIntent(c, msg, h, eff)
	case models.StateCollectingSequential, models.StateCorrectingField:
		return e.onCollecting(c, msg, eff)
	case models.StateSelectingAddress:
		return e.onSelectingAddress(c, msg, eff)
	case models.StateValidatingLocation:
		return e.onValidatingLocation(c, msg, eff)
	case models.StateConfirming:
		return e.onConfirming(c, msg, eff)
	case models.StateCorrecting:
		return e.onCorrecting(c, msg, eff)
	case models.StateSending:
		return e.onSending(c, eff)
	case models.StateReplacingSavedAddress:
		return e.onReplacingSavedAddress(c, msg, eff)
	case models.StateAttendedByHuman:
		return e.onAttendedByHuman(c, msg, eff)
	case models.StateSurveyOffered:
		return e.onSurveyOffered(c, msg, eff)
	case models.StateSurveyInProgress:
		return e.onSurveyInProgress(c, msg, eff)
	case models.StateFinished:
		// Finalization is pending; a new message starts over.
		fresh := models.NewConversation(c.Identity, e.now())
		fresh.DisplayName = c.DisplayName
		fresh.Version = c.Version
		*c = *fresh
		return e.onStart(c, msg, eff)
	}
	return fmt.Errorf("unknown state %q", state)
}

func (e *Engine) onStart(c *models.Conversation, in input, eff *effects) error {
	holdMedia(c, in.media)
	eff.background = append(eff.background, e.welcome(c)...)
	c.States.Clear(models.StateAwaitingIntent)
	return nil
}

// reprompt repeats the question for the current state.
func (e *Engine) reprompt(c *models.Conversation, eff *effects) {
	switch c.State() {
	case models.StateAwaitingIntent:
		e.showMenu(eff)
	case models.StateCollectingSequential, models.StateCorrectingField:
		field := c.Cursor.Field
		if field == "" {
			field = e.collector.Next(c)
		}
		if field != "" {
			e.promptField(c, field, eff)
		}
	case models.StateSelectingAddress:
		e.showAddressChoices(c.AddressChoices, eff)
	case models.StateValidatingLocation:
		e.askLocation(c, eff)
	case models.StateConfirming:
		e.confirmPrompt(c, eff)
	case models.StateCorrecting:
		e.correctionMenu(c, eff)
	case models.StateSending:
		eff.text(msgStillProcessing)
	case models.StateReplacingSavedAddress:
		e.showReplaceChoices(c, eff)
	}
}
