package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/wneessen/go-mail"
)

var ErrMissingSMTPConfig = errors.New("SMTP address and sender must be provided")

// DefaultSMTPTimeout bounds dialing and each SMTP command.
const DefaultSMTPTimeout = 30 * time.Second

// SMTPMailer sends plain-text mail through an SMTP relay, upgrading to
// STARTTLS when the relay offers it.
type SMTPMailer struct {
	from    string
	deliver func(ctx context.Context, msg *mail.Msg) error
}

// NewSMTPMailer creates a mailer for addr ("host:port"). user may be empty
// for relays without authentication.
func NewSMTPMailer(addr, user, password, from string) (*SMTPMailer, error) {
	if addr == "" || from == "" {
		return nil, ErrMissingSMTPConfig
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP port %q: %w", portStr, err)
	}

	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(DefaultSMTPTimeout),
	}
	if user != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(user), mail.WithPassword(password))
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPMailer{
		from: from,
		deliver: func(ctx context.Context, msg *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		},
	}, nil
}

// Send delivers a UTF-8 plain-text message to every recipient.
func (m *SMTPMailer) Send(ctx context.Context, to []string, subject, body string) error {
	msg, err := m.compose(to, subject, body)
	if err != nil {
		return err
	}
	if err := m.deliver(ctx, msg); err != nil {
		slog.Error("actions.SMTPMailer.Send: failed", "to", to, "error", err)
		return fmt.Errorf("smtp send: %w", err)
	}
	slog.Debug("actions.SMTPMailer.Send: delivered", "to", to, "subject", subject)
	return nil
}

func (m *SMTPMailer) compose(to []string, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", m.from, err)
	}
	if err := msg.To(to...); err != nil {
		return nil, fmt.Errorf("invalid recipients %v: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
