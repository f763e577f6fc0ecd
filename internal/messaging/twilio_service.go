package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/twiliowhatsapp"
)

// emptyTwiML acknowledges a webhook without replying inline; replies go
// through the REST API.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements Service for WhatsApp over Twilio.
type TwilioService struct {
	client    twiliowhatsapp.Sender // real Twilio client or MockClient
	inbound   chan models.InboundMessage
	authToken string
	publicURL string
	now       func() time.Time
	mu        sync.RWMutex
	stopped   bool
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhook requests whose X-Twilio-Signature
// does not match publicURL signed with authToken.
func WithSignatureValidation(authToken, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		s.authToken = authToken
		s.publicURL = publicURL
	}
}

// NewTwilioService creates a TwilioService over client.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client:  client,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug("TwilioService created", "signatureValidation", s.authToken != "")
	return s
}

// Channel returns the WhatsApp prefix.
func (s *TwilioService) Channel() string { return ChannelWhatsApp }

// Start is a no-op for Twilio; inbound messages arrive through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbound)
	slog.Info("TwilioService stopped")
	return nil
}

// Inbound returns the channel of received messages.
func (s *TwilioService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// SendText sends a message via Twilio.
func (s *TwilioService) SendText(ctx context.Context, to, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	number, err := canonicalPhone(to)
	if err != nil {
		slog.Error("TwilioService.SendText: invalid recipient", "to", to, "error", err)
		return fmt.Errorf("%w: %q", err, to)
	}
	if err := s.client.SendMessage(ctx, "+"+number, body); err != nil {
		return err
	}
	slog.Debug("TwilioService.SendText: sent", "to", to, "body_length", len(body))
	return nil
}

// SendButtons sends the buttons as numbered text. Interactive WhatsApp
// messages need pre-approved content templates on Twilio.
func (s *TwilioService) SendButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	if err := models.ValidateButtons(body, buttons); err != nil {
		return err
	}
	return s.SendText(ctx, to, models.RenderButtons(body, buttons))
}

// SendList sends the list as numbered text.
func (s *TwilioService) SendList(ctx context.Context, to, body string, sections []models.ListSection) error {
	if err := models.ValidateList(body, sections); err != nil {
		return err
	}
	return s.SendText(ctx, to, models.RenderList(body, sections))
}

// WebhookHandler handles inbound Twilio webhook requests and emits them on Inbound.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.WebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if s.authToken != "" && !s.validSignature(r) {
		slog.Warn("TwilioService.WebhookHandler: invalid signature", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	msg := s.parseInbound(r)
	if err := msg.Validate(); err != nil {
		slog.Warn("TwilioService.WebhookHandler: ignoring message", "from", msg.From, "sid", msg.ID, "error", err)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	slog.Info("TwilioService.WebhookHandler: inbound message", "from", msg.From, "sid", msg.ID, "media", len(msg.MediaURLs))
	if !s.emit(msg) {
		http.Error(w, "Busy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}

func (s *TwilioService) validSignature(r *http.Request) bool {
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	url := s.publicURL
	if url == "" {
		url = "https://" + r.Host + r.URL.RequestURI()
	}
	return twiliowhatsapp.ValidateSignature(s.authToken, url, params, r.Header.Get(twiliowhatsapp.SignatureHeader))
}

// parseInbound maps Twilio's form fields. Interactive replies carry the
// button or row id, which the engine maps back to a typed choice.
func (s *TwilioService) parseInbound(r *http.Request) models.InboundMessage {
	text := r.FormValue("Body")
	if id := r.FormValue("ButtonPayload"); id != "" {
		text = id
	} else if id := r.FormValue("ListId"); id != "" {
		text = id
	}
	msg := models.InboundMessage{
		ID:          r.FormValue("MessageSid"),
		From:        r.FormValue("From"),
		Text:        text,
		ProfileName: r.FormValue("ProfileName"),
		ReceivedAt:  s.now(),
	}
	if msg.From != "" {
		msg.From = whatsAppIdentity(msg.From)
	}
	n, _ := strconv.Atoi(r.FormValue("NumMedia"))
	for i := 0; i < n; i++ {
		if u := r.FormValue(fmt.Sprintf("MediaUrl%d", i)); u != "" {
			msg.MediaURLs = append(msg.MediaURLs, u)
		}
	}
	return msg
}

// emit pushes msg to the inbound channel, reporting false if it was dropped.
func (s *TwilioService) emit(msg models.InboundMessage) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService.emit: dropping inbound message (service stopped)", "from", msg.From)
		return false
	}
	select {
	case s.inbound <- msg:
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService.emit: inbound channel blocked, dropping message", "from", msg.From)
		return false
	}
}
