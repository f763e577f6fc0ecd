package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/twiliowhatsapp"
)

func postForm(h http.HandlerFunc, form url.Values, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestTwilioService_SendText(t *testing.T) {
	mockClient := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mockClient)
	if err := svc.SendText(context.Background(), "whatsapp:+5491155550000", "hola"); err != nil {
		t.Fatalf("SendText returned error: %v", err)
	}
	sent := mockClient.Sent()
	if len(sent) != 1 || sent[0].To != "+5491155550000" || sent[0].Body != "hola" {
		t.Errorf("Sent = %+v", sent)
	}
}

func TestTwilioService_SendList(t *testing.T) {
	mockClient := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mockClient)
	sections := []models.ListSection{{Rows: []models.ListRow{{ID: "svc_1", Title: "Gas"}, {ID: "svc_2", Title: "Agua"}}}}
	if err := svc.SendList(context.Background(), "whatsapp:+5491155550000", "Tipo de servicio:", sections); err != nil {
		t.Fatalf("SendList returned error: %v", err)
	}
	if sent := mockClient.Sent(); len(sent) != 1 || sent[0].Body != "Tipo de servicio:\n1. Gas\n2. Agua" {
		t.Errorf("Sent = %+v", sent)
	}
}

func TestTwilioService_Webhook(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	form := url.Values{
		"MessageSid":  {"SM123"},
		"From":        {"whatsapp:+5491155550000"},
		"Body":        {"hola"},
		"ProfileName": {"Ana"},
		"NumMedia":    {"1"},
		"MediaUrl0":   {"https://api.twilio.com/media/1"},
	}
	rec := postForm(svc.WebhookHandler, form, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("Content-Type = %q", ct)
	}
	select {
	case msg := <-svc.Inbound():
		if msg.ID != "SM123" || msg.From != "whatsapp:+5491155550000" || msg.Text != "hola" || msg.ProfileName != "Ana" {
			t.Errorf("unexpected message %+v", msg)
		}
		if len(msg.MediaURLs) != 1 || msg.MediaURLs[0] != "https://api.twilio.com/media/1" {
			t.Errorf("MediaURLs = %v", msg.MediaURLs)
		}
	default:
		t.Fatal("expected an inbound message")
	}
}

func TestTwilioService_WebhookInteractiveReply(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
		want string
	}{
		{"button payload", url.Values{"ButtonPayload": {"menu_payment"}, "Body": {"Registrar pago"}}, "menu_payment"},
		{"list id", url.Values{"ListId": {"svc_2"}, "Body": {"Agua"}}, "svc_2"},
		{"plain body", url.Values{"Body": {"1"}}, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewTwilioService(twiliowhatsapp.NewMockClient())
			tt.form.Set("From", "whatsapp:+5491155550000")
			tt.form.Set("MessageSid", "SM1")
			if rec := postForm(svc.WebhookHandler, tt.form, nil); rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if msg := <-svc.Inbound(); msg.Text != tt.want {
				t.Errorf("Text = %q, want %q", msg.Text, tt.want)
			}
		})
	}
}

func TestTwilioService_WebhookRejectsEmpty(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rec := postForm(svc.WebhookHandler, url.Values{"From": {"whatsapp:+5491155550000"}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTwilioService_WebhookSignature(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(), WithSignatureValidation("secret", "https://bot.example.com/webhook/whatsapp"))
	form := url.Values{"From": {"whatsapp:+5491155550000"}, "Body": {"hola"}}

	if rec := postForm(svc.WebhookHandler, form, nil); rec.Code != http.StatusForbidden {
		t.Errorf("missing signature: status = %d, want 403", rec.Code)
	}
	rec := postForm(svc.WebhookHandler, form, map[string]string{twiliowhatsapp.SignatureHeader: "bogus"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("bad signature: status = %d, want 403", rec.Code)
	}
	select {
	case msg := <-svc.Inbound():
		t.Errorf("no message should be emitted, got %+v", msg)
	default:
	}
}

func TestTwilioService_WebhookAfterStop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	_ = svc.Stop()
	rec := postForm(svc.WebhookHandler, url.Values{"From": {"whatsapp:+5491155550000"}, "Body": {"hola"}}, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
