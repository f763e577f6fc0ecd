package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// mediaRefPrefix marks attachments received over whatsmeow. The media stays
// on WhatsApp's servers; the reference is the provider message id.
const mediaRefPrefix = "whatsmeow-media:"

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // underlying client for event handling, nil for mocks
	inbound  chan models.InboundMessage
	mu       sync.RWMutex
	stopped  bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{
		client:  client,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return s
}

// Channel returns the WhatsApp prefix.
func (s *WhatsAppService) Channel() string { return ChannelWhatsApp }

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no full client available, skipping event handling")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Connected:
			slog.Info("WhatsAppService: connected")
		case *events.Disconnected:
			slog.Warn("WhatsAppService: disconnected")
		}
	})
	slog.Debug("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop disconnects the client and closes the inbound channel.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.waClient != nil && s.waClient.GetClient() != nil {
		s.waClient.GetClient().Disconnect()
	}
	close(s.inbound)
	slog.Info("WhatsAppService stopped")
	return nil
}

// Inbound returns the channel of received messages.
func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// SendText sends a message to a WhatsApp identity.
func (s *WhatsAppService) SendText(ctx context.Context, to, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	number, err := canonicalPhone(to)
	if err != nil {
		return fmt.Errorf("%w: %q", err, to)
	}
	if err := s.client.SendMessage(ctx, number, body); err != nil {
		slog.Error("WhatsAppService.SendText: failed", "to", to, "error", err)
		return err
	}
	return nil
}

// SendButtons sends the buttons as numbered text.
func (s *WhatsAppService) SendButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	if err := models.ValidateButtons(body, buttons); err != nil {
		return err
	}
	return s.SendText(ctx, to, models.RenderButtons(body, buttons))
}

// SendList sends the list as numbered text.
func (s *WhatsAppService) SendList(ctx context.Context, to, body string, sections []models.ListSection) error {
	if err := models.ValidateList(body, sections); err != nil {
		return err
	}
	return s.SendText(ctx, to, models.RenderList(body, sections))
}

func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	text, hasMedia := whatsapp.MessageText(evt.Message)
	msg := models.InboundMessage{
		ID:          evt.Info.ID,
		From:        whatsAppIdentity(evt.Info.Sender.User),
		Text:        text,
		ProfileName: evt.Info.PushName,
		ReceivedAt:  evt.Info.Timestamp,
	}
	if hasMedia {
		msg.MediaURLs = []string{mediaRefPrefix + evt.Info.ID}
	}
	if err := msg.Validate(); err != nil {
		slog.Debug("WhatsAppService: ignoring unsupported message", "from", msg.From, "error", err)
		return
	}
	s.emit(msg)
}

func (s *WhatsAppService) emit(msg models.InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.inbound <- msg:
		slog.Debug("WhatsAppService: inbound message forwarded", "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService: inbound channel blocked, dropping message", "from", msg.From, "timeout", DefaultChannelTimeout)
	}
}
