package fields

import (
	"testing"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

func testCollector() *Collector {
	loc := time.FixedZone("ART", -3*60*60)
	now := time.Date(2025, 9, 10, 15, 0, 0, 0, loc)
	return NewCollector(WithLocation(loc), WithClock(func() time.Time { return now }))
}

func TestNextFollowsFieldOrder(t *testing.T) {
	c := testCollector()
	conv := models.NewConversation("whatsapp:+1", time.Now())
	conv.SelectIntent(models.IntentServiceRequest)

	if got := c.Next(conv); got != models.FieldServiceType {
		t.Fatalf("Next = %q, want tipo_servicio", got)
	}
	_ = conv.Answers.Set(models.FieldServiceType, "Gas")
	_ = conv.Answers.Set(models.FieldAddress, "Mitre 100")
	if got := c.Next(conv); got != models.FieldDetail {
		t.Fatalf("Next = %q, want detalle", got)
	}
	_ = conv.Answers.Set(models.FieldDetail, "olor a gas en la cocina")
	if got := c.Next(conv); got != "" {
		t.Errorf("Next after last field = %q, want empty (adjunto is optional)", got)
	}
	if !c.IsComplete(conv) {
		t.Error("IsComplete should be true")
	}
}

func TestNextTreatsEmptyValueAsPresent(t *testing.T) {
	c := testCollector()
	conv := models.NewConversation("whatsapp:+1", time.Now())
	conv.SelectIntent(models.IntentPaymentRegistration)
	for _, k := range []models.FieldKey{models.FieldPaymentDate, models.FieldAmount, models.FieldAddress, models.FieldUnit} {
		_ = conv.Answers.Set(k, "x")
	}
	_ = conv.Answers.Set(models.FieldReceipt, "")
	if got := c.Next(conv); got != models.FieldComment {
		t.Errorf("Next = %q, want comentario", got)
	}
}

func TestIsCompleteWithoutIntent(t *testing.T) {
	c := testCollector()
	conv := models.NewConversation("whatsapp:+1", time.Now())
	if c.IsComplete(conv) {
		t.Error("conversation without intent cannot be complete")
	}
}

func TestValidateDate(t *testing.T) {
	c := testCollector()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"05/09/2025", "05/09/2025", false},
		{"5/9/2025", "", true},
		{"05/9/2025", "", true},
		{"hoy", "10/09/2025", false},
		{"Ayer", "09/09/2025", false},
		{"yesterday", "09/09/2025", false},
		{"10/09/2025", "10/09/2025", false},
		{"2025-09-12", "", true},
		{"11/09/2025", "", true}, // tomorrow
		{"31/02/2025", "", true},
		{"05/13/2025", "", true},
		{"el martes", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, verr := c.Validate(models.IntentPaymentRegistration, models.FieldPaymentDate, Input{Text: tt.in})
			if (verr != nil) != tt.wantErr {
				t.Fatalf("Validate(%q) error = %v, wantErr %v", tt.in, verr, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Validate(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if verr != nil && verr.Message == "" {
				t.Error("validation error must carry a re-prompt message")
			}
		})
	}
}

func TestValidateAmount(t *testing.T) {
	c := testCollector()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"15000", "15000.00", false},
		{"$ 15000,50", "15000.50", false},
		{"1234.5", "1234.50", false},
		{"15.000", "15000.00", false},
		{"1.234,50", "", true},
		{"0", "", true},
		{"60000000", "", true},
		{"abc", "", true},
		{"12,", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, verr := c.Validate(models.IntentPaymentRegistration, models.FieldAmount, Input{Text: tt.in})
			if (verr != nil) != tt.wantErr {
				t.Fatalf("Validate(%q) error = %v, wantErr %v", tt.in, verr, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Validate(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateFreeText(t *testing.T) {
	c := testCollector()
	tests := []struct {
		name    string
		intent  models.Intent
		field   models.FieldKey
		in      Input
		want    string
		wantErr bool
	}{
		{"address ok", models.IntentServiceRequest, models.FieldAddress, Input{Text: "Av. Corrientes 1234 3B"}, "Av. Corrientes 1234 3B", false},
		{"address no number", models.IntentServiceRequest, models.FieldAddress, Input{Text: "Corrientes"}, "", true},
		{"address short", models.IntentServiceRequest, models.FieldAddress, Input{Text: "A 1"}, "", true},
		{"unit ok", models.IntentPaymentRegistration, models.FieldUnit, Input{Text: "3B"}, "3B", false},
		{"unit empty", models.IntentPaymentRegistration, models.FieldUnit, Input{Text: " "}, "", true},
		{"detail ok", models.IntentServiceRequest, models.FieldDetail, Input{Text: "no drena el agua"}, "no drena el agua", false},
		{"detail short", models.IntentServiceRequest, models.FieldDetail, Input{Text: "roto"}, "", true},
		{"comment skip", models.IntentPaymentRegistration, models.FieldComment, Input{Text: "No"}, "", false},
		{"comment short", models.IntentPaymentRegistration, models.FieldComment, Input{Text: "k"}, "", true},
		{"receipt media", models.IntentPaymentRegistration, models.FieldReceipt, Input{MediaURLs: []string{"https://m/1.jpg"}}, "https://m/1.jpg", false},
		{"receipt operation", models.IntentPaymentRegistration, models.FieldReceipt, Input{Text: "OP-48213"}, "OP-48213", false},
		{"receipt skip", models.IntentPaymentRegistration, models.FieldReceipt, Input{Text: "omitir"}, "", false},
		{"receipt short", models.IntentPaymentRegistration, models.FieldReceipt, Input{Text: "12"}, "", true},
		{"foreign field", models.IntentServiceRequest, models.FieldAmount, Input{Text: "100"}, "", true},
		{"detail not skippable", models.IntentServiceRequest, models.FieldDetail, Input{Text: "no"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, verr := c.Validate(tt.intent, tt.field, tt.in)
			if (verr != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", verr, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMatchServiceType(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Destapación", "Destapación", true},
		{"destapacion", "Destapación", true},
		{"1", "Destapación", true},
		{"7", "Cerrajería", true},
		{"8", "", false},
		{"plomeria", "Plomería", true},
		{"electrisidad", "Electricidad", true},
		{"se cortó la luz", "Electricidad", true},
		{"GAS", "Gas", true},
		{"pintar el palier", "Pintura", true},
		{"no se", "", false},
		{"jardinería", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := MatchServiceType(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("MatchServiceType(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestDetectAmbiguousLocation(t *testing.T) {
	tests := []struct {
		in        string
		ambiguous bool
	}{
		{"Rivadavia 4350", true},
		{"Av. San Martín 200 5A", true},
		{"Rivadavia 4350, CABA", false},
		{"Rivadavia 4350, Provincia de Buenos Aires", false},
		{"Av. Corrientes 1234", false},
		{"Mitre 55 capital", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, got := DetectAmbiguousLocation(tt.in)
			if got != tt.ambiguous {
				t.Errorf("DetectAmbiguousLocation(%q) = %v, want %v", tt.in, got, tt.ambiguous)
			}
		})
	}
}

func TestResolveLocationChoice(t *testing.T) {
	if q, ok := ResolveLocationChoice("2"); !ok || q != QualifierProvincia {
		t.Errorf("choice 2 = %q, %v", q, ok)
	}
	if q, ok := ResolveLocationChoice("CABA"); !ok || q != QualifierCABA {
		t.Errorf("choice CABA = %q, %v", q, ok)
	}
	if _, ok := ResolveLocationChoice("3"); ok {
		t.Error("choice 3 should not resolve")
	}
}

func TestFieldByLabel(t *testing.T) {
	if k, ok := FieldByLabel(models.IntentPaymentRegistration, "Dirección"); !ok || k != models.FieldAddress {
		t.Errorf("FieldByLabel(Dirección) = %q, %v", k, ok)
	}
	if k, ok := FieldByLabel(models.IntentPaymentRegistration, "piso"); !ok || k != models.FieldUnit {
		t.Errorf("FieldByLabel(piso) = %q, %v", k, ok)
	}
	if _, ok := FieldByLabel(models.IntentServiceRequest, "monto"); ok {
		t.Error("monto does not belong to service requests")
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("  ¡Hola,   Señor Pérez!  "); got != "hola senor perez" {
		t.Errorf("Normalize = %q", got)
	}
	if got, ok := MatchServiceType("necesito electrisidad"); !ok || got != "Electricidad" {
		t.Errorf("MatchServiceType(electrisidad) = %q, %v", got, ok)
	}
}
