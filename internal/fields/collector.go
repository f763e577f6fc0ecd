// Package fields decides which field to ask next for an intent and validates
// raw client input against each field's rule.
//
// All validators are pure: they take the input and the current time and
// return either a normalized value or a ValidationError carrying the
// re-prompt text for that field.
package fields

import (
	"log/slog"
	"strings"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

// DefaultTimezone is the calendar used to resolve "hoy"/"ayer".
const DefaultTimezone = "America/Argentina/Buenos_Aires"

// Input is a raw client answer for one field.
type Input struct {
	Text      string
	MediaURLs []string
}

// ValidationError describes why an input was rejected for a field.
type ValidationError struct {
	Field   models.FieldKey
	Reason  string
	Message string // user-facing re-prompt
}

func (e *ValidationError) Error() string {
	return string(e.Field) + ": " + e.Reason
}

// Collector sequences and validates fields.
type Collector struct {
	loc *time.Location
	now func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithLocation sets the time zone used for relative dates.
func WithLocation(loc *time.Location) Option {
	return func(c *Collector) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCollector creates a Collector. When no location is given the default
// time zone is loaded, falling back to UTC if the zone database is missing.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.loc == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			slog.Warn("Collector.New: time zone unavailable, using UTC", "tz", DefaultTimezone, "error", err)
			loc = time.UTC
		}
		c.loc = loc
	}
	return c
}

// Location returns the collector's time zone.
func (c *Collector) Location() *time.Location {
	return c.loc
}

// Next returns the first absent field, up to the intent's last field.
// It returns "" when every required field is present.
func (c *Collector) Next(conv *models.Conversation) models.FieldKey {
	for _, key := range models.RequiredFields(conv.Intent) {
		if !conv.Answers.Has(key) {
			return key
		}
	}
	return ""
}

// IsComplete reports whether every required field is present.
func (c *Collector) IsComplete(conv *models.Conversation) bool {
	if len(models.RequiredFields(conv.Intent)) == 0 {
		return false
	}
	return c.Next(conv) == ""
}

// Validate checks raw input for field and returns the value to store.
func (c *Collector) Validate(intent models.Intent, field models.FieldKey, in Input) (string, *ValidationError) {
	if !models.InOrder(intent, field) {
		return "", &ValidationError{Field: field, Reason: "field not in intent", Message: MsgGenericInvalid}
	}
	text := strings.TrimSpace(in.Text)
	if IsSkippable(field) && IsSkipKeyword(text) && len(in.MediaURLs) == 0 {
		slog.Debug("Collector.Validate: skip keyword", "field", field)
		return "", nil
	}

	var (
		value string
		verr  *ValidationError
	)
	switch field {
	case models.FieldPaymentDate:
		value, verr = validateDate(text, c.now().In(c.loc))
	case models.FieldAmount:
		value, verr = validateAmount(text)
	case models.FieldAddress:
		value, verr = validateAddress(text)
	case models.FieldUnit:
		value, verr = validateMinLength(field, text, 1, MsgInvalidUnit)
	case models.FieldReceipt:
		value, verr = validateReceipt(in)
	case models.FieldComment:
		value, verr = validateMinLength(field, text, 2, MsgInvalidComment)
	case models.FieldServiceType:
		value, verr = validateServiceType(text)
	case models.FieldDetail:
		value, verr = validateMinLength(field, text, 10, MsgInvalidDetail)
	case models.FieldAttachment:
		value, verr = validateAttachment(in)
	default:
		verr = &ValidationError{Field: field, Reason: "unknown field", Message: MsgGenericInvalid}
	}
	if verr != nil {
		slog.Debug("Collector.Validate: rejected", "field", field, "reason", verr.Reason)
		return "", verr
	}
	return value, nil
}

// IsSkippable reports whether a skip keyword may answer field.
func IsSkippable(field models.FieldKey) bool {
	return field == models.FieldReceipt || field == models.FieldComment
}

var skipKeywords = map[string]bool{
	"no": true, "omitir": true, "saltar": true, "skip": true, "ninguno": true, "ninguna": true, "-": true, "nada": true,
}

// IsSkipKeyword reports whether text asks to leave a field empty.
func IsSkipKeyword(text string) bool {
	return skipKeywords[Normalize(text)]
}

// Prompt returns the question for field.
func Prompt(field models.FieldKey) string {
	if p, ok := prompts[field]; ok {
		return p
	}
	return MsgGenericInvalid
}

// Label returns the display label for field.
func Label(field models.FieldKey) string {
	if l, ok := labels[field]; ok {
		return l
	}
	return string(field)
}

// FieldByLabel resolves a field name typed by the client, accent and case insensitive.
func FieldByLabel(intent models.Intent, text string) (models.FieldKey, bool) {
	n := Normalize(text)
	if n == "" {
		return "", false
	}
	for _, key := range models.FieldOrder(intent) {
		if n == Normalize(Label(key)) || n == Normalize(string(key)) || n == Normalize(strings.ReplaceAll(string(key), "_", " ")) {
			return key, true
		}
	}
	for _, key := range models.FieldOrder(intent) {
		for _, alias := range fieldAliases[key] {
			if n == alias {
				return key, true
			}
		}
	}
	return "", false
}

var fieldAliases = map[models.FieldKey][]string{
	models.FieldPaymentDate: {"fecha"},
	models.FieldAmount:      {"importe", "monto"},
	models.FieldAddress:     {"direccion", "domicilio"},
	models.FieldUnit:        {"piso", "depto", "departamento", "unidad"},
	models.FieldReceipt:     {"comprobante", "recibo"},
	models.FieldComment:     {"comentario", "comentarios"},
	models.FieldServiceType: {"servicio", "tipo"},
	models.FieldDetail:      {"detalle", "descripcion", "problema"},
}
