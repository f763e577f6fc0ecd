package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/messenger"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/store"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/twiliowhatsapp"
)

func newTestRouter() (*Router, *twiliowhatsapp.MockClient, *messenger.MockClient, *TwilioService, *MessengerService) {
	tw := twiliowhatsapp.NewMockClient()
	fb := messenger.NewMockClient()
	twSvc := NewTwilioService(tw)
	fbSvc := NewMessengerService(fb)
	return NewRouter(twSvc, fbSvc), tw, fb, twSvc, fbSvc
}

func TestRouter_RoutesByChannel(t *testing.T) {
	r, tw, fb, _, _ := newTestRouter()
	ctx := context.Background()

	if err := r.SendText(ctx, "whatsapp:+5491155550000", "hola wa"); err != nil {
		t.Fatalf("SendText whatsapp: %v", err)
	}
	if err := r.SendButtons(ctx, "messenger:111", "hola fb", []models.Button{{ID: "x", Title: "X"}}); err != nil {
		t.Fatalf("SendButtons messenger: %v", err)
	}
	if len(tw.Sent()) != 1 || len(fb.Sent) != 1 {
		t.Fatalf("twilio sent %d, messenger sent %d", len(tw.Sent()), len(fb.Sent))
	}
	if err := r.SendList(ctx, "telegram:42", "hola", []models.ListSection{{Rows: []models.ListRow{{ID: "a", Title: "A"}}}}); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestRouter_Channels(t *testing.T) {
	r, _, _, _, _ := newTestRouter()
	got := r.Channels()
	if len(got) != 2 || got[0] != ChannelWhatsApp || got[1] != ChannelMessenger {
		t.Errorf("Channels = %v", got)
	}
	if _, ok := r.Service(ChannelMessenger); !ok {
		t.Error("messenger service should be registered")
	}
}

func TestRouter_DuplicateChannelKeepsLast(t *testing.T) {
	first := twiliowhatsapp.NewMockClient()
	second := twiliowhatsapp.NewMockClient()
	r := NewRouter(NewTwilioService(first), NewTwilioService(second))
	if err := r.SendText(context.Background(), "whatsapp:+5491155550000", "hola"); err != nil {
		t.Fatal(err)
	}
	if len(first.Sent()) != 0 || len(second.Sent()) != 1 {
		t.Errorf("first sent %d, second sent %d", len(first.Sent()), len(second.Sent()))
	}
	if len(r.Channels()) != 1 {
		t.Errorf("Channels = %v", r.Channels())
	}
}

func TestRouter_InboundFanIn(t *testing.T) {
	r, _, _, twSvc, fbSvc := newTestRouter()
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	twSvc.emit(models.InboundMessage{From: "whatsapp:+5491155550000", Text: "a"})
	fbSvc.emit(models.InboundMessage{From: "messenger:111", Text: "b"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-r.Inbound():
			seen[msg.From] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for inbound message")
		}
	}
	if !seen["whatsapp:+5491155550000"] || !seen["messenger:111"] {
		t.Errorf("seen = %v", seen)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case _, ok := <-r.Inbound():
		if ok {
			t.Error("expected merged inbound channel to close")
		}
	case <-time.After(time.Second):
		t.Fatal("merged inbound channel did not close")
	}
}

func TestRouter_OutboxSend(t *testing.T) {
	r, tw, _, _, _ := newTestRouter()
	ctx := context.Background()

	msg := store.OutboxMessage{ID: "o1", Identity: "whatsapp:+5491155550000", Kind: store.OutboxKindText, PayloadJSON: `{"body":"Tu pago fue registrado"}`}
	if err := r.OutboxSend(ctx, msg); err != nil {
		t.Fatalf("OutboxSend: %v", err)
	}
	if sent := tw.Sent(); len(sent) != 1 || sent[0].Body != "Tu pago fue registrado" {
		t.Errorf("Sent = %+v", sent)
	}

	msg.Kind = "poll"
	if err := r.OutboxSend(ctx, msg); err == nil {
		t.Error("expected error for unknown kind")
	}
	msg.Kind = store.OutboxKindText
	msg.PayloadJSON = "{"
	if err := r.OutboxSend(ctx, msg); err == nil {
		t.Error("expected error for malformed payload")
	}
}
