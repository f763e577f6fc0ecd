package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/messenger"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

const messengerPayload = `{"object":"page","entry":[{"messaging":[
 {"sender":{"id":"111"},"timestamp":1700000000000,"message":{"mid":"m1","text":"hola"}},
 {"sender":{"id":"111"},"timestamp":1700000001000,"message":{"mid":"m2","text":"Registrar pago","quick_reply":{"payload":"menu_payment"}}},
 {"sender":{"id":"111"},"timestamp":1700000002000,"message":{"mid":"m3","attachments":[{"type":"image","payload":{"url":"https://cdn.example.com/r.jpg"}}]}},
 {"sender":{"id":"999"},"timestamp":1700000003000,"message":{"mid":"m4","text":"eco","is_echo":true}},
 {"sender":{"id":"111"},"timestamp":1700000004000,"delivery":{"mids":["m1"]}}
]}]}`

func TestMessengerService_SendText(t *testing.T) {
	mock := messenger.NewMockClient()
	svc := NewMessengerService(mock)
	if err := svc.SendText(context.Background(), "messenger:111", "hola"); err != nil {
		t.Fatalf("SendText returned error: %v", err)
	}
	if len(mock.Sent) != 1 || mock.Sent[0].PSID != "111" || mock.Sent[0].Text != "hola" {
		t.Errorf("Sent = %+v", mock.Sent)
	}
	if err := svc.SendText(context.Background(), "whatsapp:+5491155550000", "hola"); !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("expected ErrInvalidIdentity for a foreign identity, got %v", err)
	}
}

func TestMessengerService_SendButtonsAsQuickReplies(t *testing.T) {
	mock := messenger.NewMockClient()
	svc := NewMessengerService(mock)
	buttons := []models.Button{{ID: "menu_payment", Title: "Registrar pago"}, {ID: "menu_service", Title: "Solicitar un servicio técnico"}}
	if err := svc.SendButtons(context.Background(), "messenger:111", "¿En qué te ayudo?", buttons); err == nil {
		t.Fatal("expected title length validation error")
	}

	buttons[1].Title = "Solicitar servicio"
	if err := svc.SendButtons(context.Background(), "messenger:111", "¿En qué te ayudo?", buttons); err != nil {
		t.Fatalf("SendButtons returned error: %v", err)
	}
	got := mock.Sent[0]
	if got.Text != "¿En qué te ayudo?" || len(got.QuickReplies) != 2 {
		t.Fatalf("unexpected message %+v", got)
	}
	if qr := got.QuickReplies[0]; qr.Payload != "menu_payment" || qr.Title != "Registrar pago" || qr.ContentType != "text" {
		t.Errorf("unexpected quick reply %+v", qr)
	}
}

func TestMessengerService_SendList(t *testing.T) {
	mock := messenger.NewMockClient()
	svc := NewMessengerService(mock)
	sections := []models.ListSection{{Rows: []models.ListRow{
		{ID: "addr_1", Title: "Av. Rivadavia 4350 piso 3 depto B"},
		{ID: "addr_new", Title: "Otra dirección"},
	}}}
	if err := svc.SendList(context.Background(), "messenger:111", "¿Dónde?", sections); err != nil {
		t.Fatalf("SendList returned error: %v", err)
	}
	got := mock.Sent[0]
	if !strings.Contains(got.Text, "1. Av. Rivadavia 4350 piso 3 depto B") {
		t.Errorf("list text = %q", got.Text)
	}
	if len(got.QuickReplies) != 2 {
		t.Fatalf("QuickReplies = %+v", got.QuickReplies)
	}
	if n := len([]rune(got.QuickReplies[0].Title)); n != messenger.MaxQuickReplyTitle {
		t.Errorf("long title should be truncated to %d runes, got %d", messenger.MaxQuickReplyTitle, n)
	}
	if got.QuickReplies[0].Payload != "addr_1" {
		t.Errorf("payload = %q", got.QuickReplies[0].Payload)
	}
}

func TestMessengerService_VerifyHandler(t *testing.T) {
	svc := NewMessengerService(messenger.NewMockClient(), WithVerifyToken("tok"))
	tests := []struct {
		name  string
		query string
		code  int
		body  string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=tok&hub.challenge=42", http.StatusOK, "42"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=tok&hub.challenge=42", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			svc.VerifyHandler(rec, httptest.NewRequest(http.MethodGet, "/webhook/messenger?"+tt.query, nil))
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestMessengerService_Webhook(t *testing.T) {
	svc := NewMessengerService(messenger.NewMockClient())
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, httptest.NewRequest(http.MethodPost, "/webhook/messenger", strings.NewReader(messengerPayload)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}

	var got []models.InboundMessage
	for len(svc.Inbound()) > 0 {
		got = append(got, <-svc.Inbound())
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages (echo and delivery skipped), got %d: %+v", len(got), got)
	}
	if got[0].From != "messenger:111" || got[0].ID != "m1" || got[0].Text != "hola" {
		t.Errorf("first message = %+v", got[0])
	}
	if got[1].Text != "menu_payment" {
		t.Errorf("quick reply payload should replace text, got %q", got[1].Text)
	}
	if len(got[2].MediaURLs) != 1 || got[2].Text != "" {
		t.Errorf("attachment message = %+v", got[2])
	}
}

func TestMessengerService_WebhookSignature(t *testing.T) {
	svc := NewMessengerService(messenger.NewMockClient(), WithAppSecret("shh"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/messenger", strings.NewReader(messengerPayload))
	req.Header.Set(messenger.SignatureHeader, "sha256=00")
	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("bad signature: status = %d, want 403", rec.Code)
	}

	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write([]byte(messengerPayload))
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook/messenger", strings.NewReader(messengerPayload))
	req.Header.Set(messenger.SignatureHeader, "sha256="+hex.EncodeToString(mac.Sum(nil)))
	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("good signature: status = %d, want 200", rec.Code)
	}
}

func TestMessengerService_WebhookBadPayload(t *testing.T) {
	svc := NewMessengerService(messenger.NewMockClient())
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, httptest.NewRequest(http.MethodPost, "/webhook/messenger", strings.NewReader(`{"object":"instagram"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
