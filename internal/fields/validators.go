package fields

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

// MaxAmount is the largest accepted payment amount.
const MaxAmount = 50_000_000

// DateLayout is the canonical stored date format.
const DateLayout = "02/01/2006"

var dateRe = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)

// ResolveRelativeDate maps "hoy"/"ayer" (and English equivalents) to a
// dd/mm/yyyy string in now's location. Other input is returned unchanged.
func ResolveRelativeDate(text string, now time.Time) string {
	switch Normalize(text) {
	case "hoy", "today":
		return now.Format(DateLayout)
	case "ayer", "yesterday":
		return now.AddDate(0, 0, -1).Format(DateLayout)
	}
	return text
}

func validateDate(text string, now time.Time) (string, *ValidationError) {
	text = ResolveRelativeDate(text, now)
	m := dateRe.FindStringSubmatch(text)
	if m == nil {
		return "", &ValidationError{Field: models.FieldPaymentDate, Reason: "bad format", Message: MsgInvalidDate}
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
	if d.Day() != day || int(d.Month()) != month || d.Year() != year {
		return "", &ValidationError{Field: models.FieldPaymentDate, Reason: "not a calendar date", Message: MsgInvalidDate}
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if d.After(today) {
		return "", &ValidationError{Field: models.FieldPaymentDate, Reason: "future date", Message: MsgFutureDate}
	}
	return d.Format(DateLayout), nil
}

// ParseAmount parses a client-typed amount. It accepts an optional "$",
// digits and at most one decimal separator ("," or "."). A single "."
// followed by exactly three digits is read as a thousands separator.
func ParseAmount(text string) (float64, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	seps := 0
	sepAt := -1
	for i, r := range s {
		switch {
		case r == ',' || r == '.':
			seps++
			sepAt = i
		case !unicode.IsDigit(r):
			return 0, fmt.Errorf("invalid character %q", r)
		}
	}
	if seps > 1 {
		return 0, fmt.Errorf("more than one separator")
	}
	if seps == 1 {
		intPart, frac := s[:sepAt], s[sepAt+1:]
		if intPart == "" || frac == "" {
			return 0, fmt.Errorf("dangling separator")
		}
		if s[sepAt] == '.' && len(frac) == 3 {
			s = intPart + frac
		} else {
			s = intPart + "." + frac
		}
	}
	return strconv.ParseFloat(s, 64)
}

func validateAmount(text string) (string, *ValidationError) {
	v, err := ParseAmount(text)
	if err != nil {
		return "", &ValidationError{Field: models.FieldAmount, Reason: err.Error(), Message: MsgInvalidAmount}
	}
	if v <= 0 || v > MaxAmount {
		return "", &ValidationError{Field: models.FieldAmount, Reason: "implausible magnitude", Message: MsgImplausibleAmt}
	}
	return strconv.FormatFloat(v, 'f', 2, 64), nil
}

func validateAddress(text string) (string, *ValidationError) {
	if utf8.RuneCountInString(text) < 5 || !strings.ContainsAny(text, "0123456789") {
		return "", &ValidationError{Field: models.FieldAddress, Reason: "too short or no street number", Message: MsgInvalidAddress}
	}
	return strings.Join(strings.Fields(text), " "), nil
}

func validateMinLength(field models.FieldKey, text string, minLen int, msg string) (string, *ValidationError) {
	if utf8.RuneCountInString(text) < minLen {
		return "", &ValidationError{Field: field, Reason: fmt.Sprintf("shorter than %d", minLen), Message: msg}
	}
	return text, nil
}

func validateReceipt(in Input) (string, *ValidationError) {
	if len(in.MediaURLs) > 0 {
		return in.MediaURLs[0], nil
	}
	text := strings.TrimSpace(in.Text)
	if utf8.RuneCountInString(text) < 4 {
		return "", &ValidationError{Field: models.FieldReceipt, Reason: "no media and short reference", Message: MsgInvalidReceipt}
	}
	return text, nil
}

func validateAttachment(in Input) (string, *ValidationError) {
	if len(in.MediaURLs) == 0 {
		return "", &ValidationError{Field: models.FieldAttachment, Reason: "no media", Message: MsgInvalidAdjunto}
	}
	return strings.Join(in.MediaURLs, " "), nil
}
