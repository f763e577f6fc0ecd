package flow

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/fields"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

// Keywords are matched against normalized text. Emergency is checked first.
var intentKeywords = []struct {
	intent models.Intent
	words  []string
}{
	{models.IntentEmergency, []string{
		"emergencia", "urgente", "urgencia", "incendio", "inundacion", "se inunda", "escape de gas",
		"fuga de gas", "olor a gas", "derrumbe",
	}},
	{models.IntentPaymentRegistration, []string{
		"pago", "pague", "pagar", "abone", "abonar", "transferencia", "transferi", "expensas", "deposito",
		"informar pago",
	}},
	{models.IntentServiceRequest, []string{
		"servicio", "reparacion", "arreglo", "arreglar", "plomero", "plomeria", "electricista", "gasista",
		"destapacion", "perdida", "cerrajero", "pintura", "reclamo", "rotura", "no funciona", "pedir servicio",
	}},
}

// matchMenu resolves a menu choice by position or keyword.
func matchMenu(text string) models.Intent {
	n := fields.Normalize(text)
	if i, ok := parseChoice(n, len(models.MenuIntents)); ok {
		return models.MenuIntents[i-1]
	}
	for _, group := range intentKeywords {
		if containsAny(n, group.words) {
			return group.intent
		}
	}
	return models.IntentNone
}

func (e *Engine) onAwaitingIntent(c *models.Conversation, in input, h hints, eff *effects) error {
	intent := matchMenu(in.text)
	if intent == models.IntentNone {
		intent = h.intent
	}
	if intent == models.IntentNone {
		if in.text == "" && len(in.media) > 0 {
			holdMedia(c, in.media)
			eff.text(msgMediaHeld)
			e.showMenu(eff)
			return nil
		}
		slog.Debug("Engine.onAwaitingIntent: unclear intent", "identity", c.Identity, "text", in.text)
		eff.friction(models.FrictionUnclearIntent, in.text)
		eff.text(msgUnclear)
		e.showMenu(eff)
		return nil
	}
	holdMedia(c, in.media)
	return e.selectIntent(c, intent, in.text, h.extracted, eff)
}

func (e *Engine) selectIntent(c *models.Conversation, intent models.Intent, text string, extracted map[models.FieldKey]string, eff *effects) error {
	slog.Debug("Engine.selectIntent", "identity", c.Identity, "intent", intent)
	if intent == models.IntentEmergency {
		return e.beginHandoff(c, text, true, eff)
	}
	c.SelectIntent(intent)
	if err := seedHeldAttachments(c); err != nil {
		return err
	}
	if err := e.prefill(c, extracted); err != nil {
		return err
	}
	c.States.Clear(models.StateCollectingSequential)
	if intent == models.IntentPaymentRegistration {
		eff.text(msgPaymentIntro)
	} else {
		eff.text(msgServiceIntro)
	}
	return e.advance(c, eff)
}

// holdMedia keeps attachments sent before an intent is chosen.
func holdMedia(c *models.Conversation, media []string) {
	if len(media) > 0 {
		c.HeldAttachments = append(c.HeldAttachments, media...)
	}
}

func seedHeldAttachments(c *models.Conversation) error {
	if len(c.HeldAttachments) == 0 {
		return nil
	}
	held := c.HeldAttachments
	c.HeldAttachments = nil
	switch c.Intent {
	case models.IntentPaymentRegistration:
		return c.Answers.Set(models.FieldReceipt, held[0])
	case models.IntentServiceRequest:
		return c.Answers.Set(models.FieldAttachment, strings.Join(held, " "))
	}
	return nil
}

// prefill stores extracted values that pass validation. Ambiguous
// addresses are left for the sequential prompt so they get disambiguated.
func (e *Engine) prefill(c *models.Conversation, extracted map[models.FieldKey]string) error {
	for _, key := range models.FieldOrder(c.Intent) {
		raw, ok := extracted[key]
		if !ok || strings.TrimSpace(raw) == "" || c.Answers.Has(key) || key == models.FieldAttachment {
			continue
		}
		value, verr := e.collector.Validate(c.Intent, key, fields.Input{Text: raw})
		if verr != nil || value == "" {
			slog.Debug("Engine.prefill: discarded", "identity", c.Identity, "field", key)
			continue
		}
		if key == models.FieldAddress {
			if _, ambiguous := fields.DetectAmbiguousLocation(value); ambiguous {
				continue
			}
		}
		if err := c.Answers.Set(key, value); err != nil {
			return err
		}
		slog.Debug("Engine.prefill: stored", "identity", c.Identity, "field", key)
	}
	return nil
}

func (e *Engine) showMenu(eff *effects) {
	eff.buttons(msgMenu, menuButtons)
}

func (e *Engine) welcome(c *models.Conversation) []outbound {
	name := ""
	if c.DisplayName != "" {
		name = " " + c.DisplayName
	}
	return []outbound{
		{to: c.Identity, body: fmt.Sprintf(msgGreeting, name, e.companyName)},
		{to: c.Identity, body: msgHours},
		{to: c.Identity, body: msgMenu, buttons: menuButtons, essential: true},
	}
}

// backToMenu discards the in-progress request. The conversation is
// recreated once the lock is released, keeping only the display name.
func (e *Engine) backToMenu(c *models.Conversation, eff *effects) error {
	slog.Debug("Engine.backToMenu", "identity", c.Identity, "from", c.State())
	c.ClearIntent()
	c.States.Clear(models.StateAwaitingIntent)
	eff.reset = true
	e.showMenu(eff)
	return nil
}
