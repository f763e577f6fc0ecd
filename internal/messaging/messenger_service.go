package messaging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/messenger"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

// maxWebhookBody bounds the size of a Messenger webhook delivery.
const maxWebhookBody = 1 << 20

// MessengerService implements Service for Facebook Messenger.
type MessengerService struct {
	client      messenger.Sender
	inbound     chan models.InboundMessage
	verifyToken string
	appSecret   string
	mu          sync.RWMutex
	stopped     bool
}

// MessengerOption configures a MessengerService.
type MessengerOption func(*MessengerService)

// WithVerifyToken sets the token echoed back during webhook verification.
func WithVerifyToken(token string) MessengerOption {
	return func(s *MessengerService) { s.verifyToken = token }
}

// WithAppSecret enables X-Hub-Signature-256 checking on webhook deliveries.
func WithAppSecret(secret string) MessengerOption {
	return func(s *MessengerService) { s.appSecret = secret }
}

// NewMessengerService creates a MessengerService over client.
func NewMessengerService(client messenger.Sender, opts ...MessengerOption) *MessengerService {
	s := &MessengerService{
		client:  client,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug("MessengerService created", "signatureValidation", s.appSecret != "")
	return s
}

// Channel returns the Messenger prefix.
func (s *MessengerService) Channel() string { return ChannelMessenger }

// Start is a no-op; inbound messages arrive through the webhook.
func (s *MessengerService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel.
func (s *MessengerService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbound)
	slog.Info("MessengerService stopped")
	return nil
}

// Inbound returns the channel of received messages.
func (s *MessengerService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

func (s *MessengerService) recipient(to string) (string, error) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return "", ErrServiceStopped
	}
	psid, ok := strings.CutPrefix(to, ChannelMessenger+":")
	if !ok || psid == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, to)
	}
	return psid, nil
}

// SendText sends a plain text message.
func (s *MessengerService) SendText(ctx context.Context, to, body string) error {
	psid, err := s.recipient(to)
	if err != nil {
		return err
	}
	return s.client.SendText(ctx, psid, body)
}

// SendButtons sends the buttons as quick replies carrying the button ids.
func (s *MessengerService) SendButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	if err := models.ValidateButtons(body, buttons); err != nil {
		return err
	}
	psid, err := s.recipient(to)
	if err != nil {
		return err
	}
	replies := make([]messenger.QuickReply, 0, len(buttons))
	for _, b := range buttons {
		replies = append(replies, quickReply(b.ID, b.Title))
	}
	return s.client.SendQuickReplies(ctx, psid, body, replies)
}

// SendList sends the numbered list text with one quick reply per row, so the
// client can either tap or type the number.
func (s *MessengerService) SendList(ctx context.Context, to, body string, sections []models.ListSection) error {
	if err := models.ValidateList(body, sections); err != nil {
		return err
	}
	psid, err := s.recipient(to)
	if err != nil {
		return err
	}
	var replies []messenger.QuickReply
	for _, sec := range sections {
		for _, row := range sec.Rows {
			replies = append(replies, quickReply(row.ID, row.Title))
		}
	}
	return s.client.SendQuickReplies(ctx, psid, models.RenderList(body, sections), replies)
}

func quickReply(id, title string) messenger.QuickReply {
	if r := []rune(title); len(r) > messenger.MaxQuickReplyTitle {
		title = string(r[:messenger.MaxQuickReplyTitle-1]) + "…"
	}
	return messenger.QuickReply{ContentType: "text", Title: title, Payload: id}
}

// VerifyHandler answers the webhook subscription challenge.
func (s *MessengerService) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || s.verifyToken == "" || q.Get("hub.verify_token") != s.verifyToken {
		slog.Warn("MessengerService.VerifyHandler: verification rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	slog.Info("MessengerService.VerifyHandler: webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, q.Get("hub.challenge"))
}

// WebhookHandler receives message deliveries and emits them on Inbound.
func (s *MessengerService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if s.appSecret != "" {
		if err := messenger.VerifySignature(s.appSecret, body, r.Header.Get(messenger.SignatureHeader)); err != nil {
			slog.Warn("MessengerService.WebhookHandler: invalid signature", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}
	events, err := messenger.ParseWebhook(body)
	if err != nil {
		slog.Warn("MessengerService.WebhookHandler: bad payload", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	for _, ev := range events {
		msg := models.InboundMessage{
			ID:         ev.MessageID,
			From:       ChannelMessenger + ":" + ev.SenderID,
			Text:       ev.Text,
			MediaURLs:  ev.MediaURLs,
			ReceivedAt: ev.Timestamp,
		}
		if err := msg.Validate(); err != nil || ev.SenderID == "" {
			slog.Debug("MessengerService.WebhookHandler: skipping event", "from", msg.From, "error", err)
			continue
		}
		if !s.emit(msg) {
			http.Error(w, "Busy", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "EVENT_RECEIVED")
}

func (s *MessengerService) emit(msg models.InboundMessage) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("MessengerService.emit: dropping inbound message (service stopped)", "from", msg.From)
		return false
	}
	select {
	case s.inbound <- msg:
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("MessengerService.emit: inbound channel blocked, dropping message", "from", msg.From)
		return false
	}
}
