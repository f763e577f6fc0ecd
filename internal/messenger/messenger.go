// Package messenger is a minimal Facebook Messenger Send API and webhook client.
package messenger

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultGraphURL is the Graph API base used for sends.
	DefaultGraphURL = "https://graph.facebook.com/v19.0"
	// SignatureHeader carries the HMAC-SHA256 of the webhook body.
	SignatureHeader = "X-Hub-Signature-256"
	// MaxQuickReplies is the Send API limit on quick replies per message.
	MaxQuickReplies = 13
	// MaxQuickReplyTitle is the Send API limit on quick reply titles.
	MaxQuickReplyTitle = 20
)

var (
	ErrMissingToken     = errors.New("messenger page access token must be provided")
	ErrEmptyRecipient   = errors.New("recipient cannot be empty")
	ErrTooManyReplies   = errors.New("too many quick replies")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Sender sends Messenger messages. Implemented by Client and MockClient.
type Sender interface {
	SendText(ctx context.Context, psid, text string) error
	SendQuickReplies(ctx context.Context, psid, text string, replies []QuickReply) error
}

// QuickReply is a tappable reply chip. Payload is echoed back on tap.
type QuickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

// Opts holds configuration for the Messenger client.
type Opts struct {
	PageToken  string
	GraphURL   string
	HTTPClient *http.Client
}

// Option configures the Messenger client.
type Option func(*Opts)

// WithPageToken sets the page access token.
func WithPageToken(token string) Option {
	return func(o *Opts) { o.PageToken = token }
}

// WithGraphURL overrides the Graph API base URL.
func WithGraphURL(url string) Option {
	return func(o *Opts) { o.GraphURL = url }
}

// WithHTTPClient sets the HTTP client used for sends.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client calls the Messenger Send API.
type Client struct {
	token    string
	graphURL string
	http     *http.Client
}

// NewClient creates a Messenger client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{GraphURL: DefaultGraphURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PageToken == "" {
		return nil, ErrMissingToken
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{token: cfg.PageToken, graphURL: strings.TrimRight(cfg.GraphURL, "/"), http: cfg.HTTPClient}, nil
}

type sendRequest struct {
	Recipient     recipient   `json:"recipient"`
	MessagingType string      `json:"messaging_type"`
	Message       sendMessage `json:"message"`
}

type recipient struct {
	ID string `json:"id"`
}

type sendMessage struct {
	Text         string       `json:"text"`
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText sends a plain text message to a page-scoped user id.
func (c *Client) SendText(ctx context.Context, psid, text string) error {
	return c.send(ctx, psid, sendMessage{Text: text})
}

// SendQuickReplies sends text with up to MaxQuickReplies reply chips.
func (c *Client) SendQuickReplies(ctx context.Context, psid, text string, replies []QuickReply) error {
	if len(replies) > MaxQuickReplies {
		return ErrTooManyReplies
	}
	return c.send(ctx, psid, sendMessage{Text: text, QuickReplies: replies})
}

func (c *Client) send(ctx context.Context, psid string, msg sendMessage) error {
	if psid == "" {
		return ErrEmptyRecipient
	}
	body, err := json.Marshal(sendRequest{Recipient: recipient{ID: psid}, MessagingType: "RESPONSE", Message: msg})
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphURL+"/me/messages?access_token="+c.token, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("messenger send to %s: %w", psid, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var ge graphError
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(data, &ge)
		slog.Error("messenger.Client.send: rejected", "psid", psid, "status", resp.StatusCode, "code", ge.Error.Code, "message", ge.Error.Message)
		return fmt.Errorf("messenger send to %s: status %d: %s", psid, resp.StatusCode, ge.Error.Message)
	}
	slog.Debug("messenger.Client.send: sent", "psid", psid, "quickReplies", len(msg.QuickReplies))
	return nil
}

// Event is one inbound message from a webhook delivery.
type Event struct {
	SenderID  string
	MessageID string
	Text      string // typed text, or the quick reply payload when tapped
	MediaURLs []string
	Timestamp time.Time
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Timestamp int64 `json:"timestamp"`
			Message   *struct {
				Mid        string `json:"mid"`
				Text       string `json:"text"`
				IsEcho     bool   `json:"is_echo"`
				QuickReply *struct {
					Payload string `json:"payload"`
				} `json:"quick_reply"`
				Attachments []struct {
					Type    string `json:"type"`
					Payload struct {
						URL string `json:"url"`
					} `json:"payload"`
				} `json:"attachments"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// ParseWebhook extracts the user messages from a webhook body. Echoes,
// delivery and read events are skipped.
func ParseWebhook(body []byte) ([]Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode messenger webhook: %w", err)
	}
	if p.Object != "page" {
		return nil, fmt.Errorf("unexpected webhook object %q", p.Object)
	}
	var out []Event
	for _, entry := range p.Entry {
		for _, m := range entry.Messaging {
			if m.Message == nil || m.Message.IsEcho {
				continue
			}
			ev := Event{
				SenderID:  m.Sender.ID,
				MessageID: m.Message.Mid,
				Text:      m.Message.Text,
				Timestamp: time.UnixMilli(m.Timestamp),
			}
			if m.Message.QuickReply != nil && m.Message.QuickReply.Payload != "" {
				ev.Text = m.Message.QuickReply.Payload
			}
			for _, a := range m.Message.Attachments {
				if a.Payload.URL != "" {
					ev.MediaURLs = append(ev.MediaURLs, a.Payload.URL)
				}
			}
			out = append(out, ev)
		}
	}
	return out, nil
}

// VerifySignature checks the X-Hub-Signature-256 header against body.
func VerifySignature(appSecret string, body []byte, header string) error {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrInvalidSignature
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrInvalidSignature
	}
	return nil
}

// MockClient records sends instead of calling the Graph API (for tests).
type MockClient struct {
	mu   sync.Mutex
	Sent []MockMessage
	Err  error
}

// MockMessage is a message recorded by MockClient.
type MockMessage struct {
	PSID         string
	Text         string
	QuickReplies []QuickReply
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendText(ctx context.Context, psid, text string) error {
	return m.SendQuickReplies(ctx, psid, text, nil)
}

func (m *MockClient) SendQuickReplies(ctx context.Context, psid, text string, replies []QuickReply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, MockMessage{PSID: psid, Text: text, QuickReplies: replies})
	return nil
}
