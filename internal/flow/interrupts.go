package flow

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/fields"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

type interruptKind int

const (
	interruptNone interruptKind = iota
	interruptMenu
	interruptHuman
	interruptContact
)

// hints carries NLU results computed outside the conversation lock.
type hints struct {
	intent    models.Intent
	extracted map[models.FieldKey]string
	human     bool
	contact   bool
}

var menuPhrases = map[string]bool{
	"menu": true, "menu principal": true, "volver": true, "volver al menu": true, "inicio": true,
	"empezar de nuevo": true, "reiniciar": true, "cancelar": true,
}

var humanPhrases = []string{
	"hablar con una persona", "hablar con un humano", "hablar con un operador", "hablar con un asesor",
	"hablar con alguien", "atencion humana", "persona real",
}

var humanWords = map[string]bool{
	"operador": true, "asesor": true, "humano": true, "agente": true, "persona": true,
}

var humanHints = []string{"hablar", "persona", "humano", "operador", "asesor", "atiendan", "atencion", "llamar"}

var contactPhrases = []string{
	"telefono de contacto", "numero de contacto", "datos de contacto", "como los contacto",
	"como me comunico", "horario de atencion", "mail de contacto", "email de contacto",
}

var contactHints = []string{"telefono", "contacto", "horario", "horarios", "mail", "email", "oficina", "whatsapp"}

// gratitudeWords are thank-you and acknowledgement tokens. A message made
// only of these (plus fillers and emoji) is a trailing courtesy.
var gratitudeWords = map[string]bool{
	"gracias": true, "genial": true, "perfecto": true, "ok": true, "okey": true, "dale": true,
	"buenisimo": true, "joya": true, "listo": true, "barbaro": true, "excelente": true,
}

var gratitudeFillers = map[string]bool{
	"muchas": true, "muchisimas": true, "mil": true, "muy": true, "re": true, "bien": true,
	"todo": true, "saludos": true, "por": true, "un": true, "millon": true, "amable": true, "amables": true,
}

var choiceIDs = map[string]string{
	"menu_payment":   "1",
	"menu_service":   "2",
	"menu_emergency": "3",
	"confirm_yes":    "si",
	"confirm_no":     "no",
	"survey_yes":     "si",
	"survey_no":      "no",
	"addr_other":     "otra",
	"addr_keep":      "no",
	"fix_all":        "todo",
}

var choicePrefixes = []string{"svc_", "addr_", "fix_", "loc_", "score_"}

// resolveChoiceID maps an interactive reply id back to the text a client
// would type to make the same choice.
func resolveChoiceID(text string) string {
	if v, ok := choiceIDs[text]; ok {
		return v
	}
	for _, p := range choicePrefixes {
		if rest, ok := strings.CutPrefix(text, p); ok {
			if _, err := strconv.Atoi(rest); err == nil {
				return rest
			}
		}
	}
	return text
}

func (e *Engine) prepareHints(ctx context.Context, snap *models.Conversation, in models.InboundMessage) hints {
	var h hints
	text := strings.TrimSpace(resolveChoiceID(strings.TrimSpace(in.Text)))
	if text == "" || e.deps.NLU == nil {
		return h
	}
	state := snap.State()
	nlu := e.deps.NLU

	if !state.IsTerminal() && !snap.Executing {
		n := fields.Normalize(text)
		if !isExplicitHuman(n) && containsAny(n, humanHints) {
			ok, err := nlu.DetectsHumanRequest(ctx, text)
			if err != nil {
				slog.Warn("Engine.prepareHints: human request detection failed", "from", in.From, "error", err)
			}
			h.human = ok
		}
		if !h.human && !isExplicitContact(n) && containsAny(n, contactHints) {
			ok, err := nlu.DetectsContactInfoRequest(ctx, text)
			if err != nil {
				slog.Warn("Engine.prepareHints: contact request detection failed", "from", in.From, "error", err)
			}
			h.contact = ok
		}
	}

	if state == models.StateAwaitingIntent && !h.human {
		intent := matchMenu(text)
		if intent == models.IntentNone {
			got, err := nlu.ClassifyIntent(ctx, text)
			if err != nil {
				slog.Warn("Engine.prepareHints: intent classification failed", "from", in.From, "error", err)
			}
			h.intent = got
			intent = got
		}
		if (intent == models.IntentPaymentRegistration || intent == models.IntentServiceRequest) &&
			len(strings.Fields(text)) >= 4 {
			extracted, err := nlu.ExtractStructuredFields(ctx, text)
			if err != nil {
				slog.Warn("Engine.prepareHints: field extraction failed", "from", in.From, "error", err)
			}
			h.extracted = extracted
		}
	}
	slog.Debug("Engine.prepareHints: computed", "from", in.From, "state", state,
		"intent", h.intent, "extracted", len(h.extracted), "human", h.human, "contact", h.contact)
	return h
}

// detectInterrupt checks for a request that overrides the current state.
// Explicit phrases are matched here; ambiguous ones arrive via hints.
func detectInterrupt(text string, h hints) interruptKind {
	n := fields.Normalize(text)
	switch {
	case n == "":
		return interruptNone
	case menuPhrases[n]:
		return interruptMenu
	case isExplicitHuman(n) || h.human:
		return interruptHuman
	case isExplicitContact(n) || h.contact:
		return interruptContact
	}
	return interruptNone
}

func isExplicitHuman(n string) bool {
	if humanWords[n] {
		return true
	}
	for _, p := range humanPhrases {
		if fields.ContainsWord(n, p) {
			return true
		}
	}
	return false
}

func isExplicitContact(n string) bool {
	for _, p := range contactPhrases {
		if fields.ContainsWord(n, p) {
			return true
		}
	}
	return false
}

func containsAny(n string, words []string) bool {
	for _, w := range words {
		if fields.ContainsWord(n, w) {
			return true
		}
	}
	return false
}

// isGratitude reports whether text consists only of thank-you or
// acknowledgement tokens, or only of emoji.
func isGratitude(text string) bool {
	emoji := false
	stripped := strings.Map(func(r rune) rune {
		if isEmojiRune(r) {
			emoji = true
			return ' '
		}
		return r
	}, text)
	n := fields.Normalize(stripped)
	if n == "" {
		return emoji
	}
	words := strings.Fields(n)
	if len(words) > 6 {
		return false
	}
	thanked := false
	for _, w := range words {
		switch {
		case gratitudeWords[w]:
			thanked = true
		case gratitudeFillers[w]:
		default:
			return false
		}
	}
	return thanked
}

func isEmojiRune(r rune) bool {
	return unicode.Is(unicode.So, r) || unicode.Is(unicode.Sk, r) || r == '\u200d' || r == '\ufe0f'
}

var affirmatives = map[string]bool{
	"si": true, "s": true, "confirmo": true, "confirmar": true, "ok": true, "dale": true, "correcto": true,
	"1": true, "esta bien": true, "perfecto": true, "si confirmo": true, "de acuerdo": true,
}

var negatives = map[string]bool{
	"no": true, "n": true, "corregir": true, "modificar": true, "cambiar": true, "2": true,
	"incorrecto": true, "editar": true, "no gracias": true,
}

func isAffirmative(text string) bool {
	return affirmatives[fields.Normalize(text)]
}

func isNegative(text string) bool {
	return negatives[fields.Normalize(text)]
}

// parseChoice parses a 1-indexed option number in [1, n].
func parseChoice(text string, n int) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || v < 1 || v > n {
		return 0, false
	}
	return v, true
}
