// Package messaging adapts chat providers to the support engine.
//
// Each provider is a Service bound to one identity prefix ("whatsapp",
// "messenger"). The Router fans inbound messages in from every service and
// routes outbound messages by the recipient's prefix.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer of each service's inbound channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound message waits for a reader.
	DefaultChannelTimeout = 1 * time.Second
)

// Channel prefixes used in identities.
const (
	ChannelWhatsApp  = "whatsapp"
	ChannelMessenger = "messenger"
)

var (
	ErrServiceStopped  = errors.New("messaging service stopped")
	ErrUnknownChannel  = errors.New("no messaging service for channel")
	ErrInvalidIdentity = errors.New("invalid recipient identity")
)

var phoneNumberRegex = regexp.MustCompile(`[^\d]`)

// Service defines a pluggable chat provider.
type Service interface {
	// Channel returns the identity prefix this service owns.
	Channel() string

	// SendText sends a plain text message to a channel-qualified identity.
	SendText(ctx context.Context, to, body string) error

	// SendButtons sends up to three quick-reply buttons. Providers without
	// native buttons render them as numbered text.
	SendButtons(ctx context.Context, to, body string, buttons []models.Button) error

	// SendList sends a selectable list, or its numbered text rendering.
	SendList(ctx context.Context, to, body string, sections []models.ListSection) error

	// Start begins any background processing (e.g., event handlers).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the inbound channel.
	Stop() error

	// Inbound returns the channel of messages received from clients.
	Inbound() <-chan models.InboundMessage
}

// canonicalPhone strips the channel prefix and every non-digit from a
// WhatsApp identity and checks that a plausible number remains.
func canonicalPhone(identity string) (string, error) {
	if identity == "" {
		return "", ErrInvalidIdentity
	}
	digits := phoneNumberRegex.ReplaceAllString(identity, "")
	if len(digits) < 6 {
		return "", ErrInvalidIdentity
	}
	return digits, nil
}

// whatsAppIdentity builds the channel-qualified identity for a phone number.
func whatsAppIdentity(number string) string {
	return ChannelWhatsApp + ":+" + phoneNumberRegex.ReplaceAllString(number, "")
}
