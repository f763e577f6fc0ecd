// Package models defines the core data structures for the Artuso support bot.
//
// It includes inbound message envelopes, interactive reply options, the
// conversation model and the API response envelope shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for outbound interactive messages
const (
	// MaxMessageBodyLength defines the maximum allowed length for an outbound message body
	MaxMessageBodyLength = 4096
	// MaxButtons defines the maximum number of reply buttons a transport accepts
	MaxButtons = 3
	// MaxButtonTitleLength defines the maximum allowed length for a reply button title
	MaxButtonTitleLength = 20
	// MaxListRows defines the maximum number of rows across all sections of a list message
	MaxListRows = 10
)

// Error variables for better error handling and testability
var (
	ErrEmptySender         = errors.New("sender cannot be empty")
	ErrEmptyInbound        = errors.New("inbound message has neither text nor media")
	ErrEmptyBody           = errors.New("message body cannot be empty")
	ErrBodyTooLong         = errors.New("message body exceeds maximum length")
	ErrTooManyButtons      = errors.New("too many reply buttons")
	ErrEmptyButtonTitle    = errors.New("button title cannot be empty")
	ErrButtonTitleTooLong  = errors.New("button title exceeds maximum length")
	ErrTooManyListRows     = errors.New("too many list rows")
	ErrEmptyListSection    = errors.New("list section has no rows")
	ErrFieldNotInIntent    = errors.New("field does not belong to the active intent")
	ErrStateAlreadyPending = errors.New("a suspended state is already pending")
	ErrNoSuspendedState    = errors.New("no suspended state to resume")
)

// InboundMessage represents a message received from a client or the agent over any channel.
type InboundMessage struct {
	ID          string    `json:"id,omitempty"`           // provider message id, used for deduplication
	From        string    `json:"from"`                   // channel-qualified identity, e.g. "whatsapp:+5491155550000"
	Text        string    `json:"text,omitempty"`         // message text or selected button/row id
	ProfileName string    `json:"profile_name,omitempty"` // display name from channel metadata
	MediaURLs   []string  `json:"media_urls,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Validate performs basic validation on an inbound message.
func (m *InboundMessage) Validate() error {
	if strings.TrimSpace(m.From) == "" {
		return ErrEmptySender
	}
	if strings.TrimSpace(m.Text) == "" && len(m.MediaURLs) == 0 {
		return ErrEmptyInbound
	}
	return nil
}

// Channel returns the identity prefix (the part before the first colon).
func (m *InboundMessage) Channel() string {
	return ChannelOf(m.From)
}

// ChannelOf returns the channel prefix of a channel-qualified identity.
func ChannelOf(identity string) string {
	if i := strings.Index(identity, ":"); i > 0 {
		return identity[:i]
	}
	return ""
}

// Button represents a quick-reply button.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListRow represents a selectable row of a list message.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListSection groups list rows under an optional title.
type ListSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []ListRow `json:"rows"`
}

// ValidateButtons checks a button set against transport limits.
func ValidateButtons(body string, buttons []Button) error {
	if err := validateBody(body); err != nil {
		return err
	}
	if len(buttons) > MaxButtons {
		return ErrTooManyButtons
	}
	for _, b := range buttons {
		if strings.TrimSpace(b.Title) == "" {
			return ErrEmptyButtonTitle
		}
		if len([]rune(b.Title)) > MaxButtonTitleLength {
			return ErrButtonTitleTooLong
		}
	}
	return nil
}

// ValidateList checks list sections against transport limits.
func ValidateList(body string, sections []ListSection) error {
	if err := validateBody(body); err != nil {
		return err
	}
	rows := 0
	for _, s := range sections {
		if len(s.Rows) == 0 {
			return ErrEmptyListSection
		}
		rows += len(s.Rows)
	}
	if rows > MaxListRows {
		return ErrTooManyListRows
	}
	return nil
}

func validateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	if len(body) > MaxMessageBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// SavedAddress is an address entry remembered for an identity.
type SavedAddress struct {
	Address string `json:"address"`
	Unit    string `json:"unit,omitempty"`
}

// Label renders the address for list display.
func (a SavedAddress) Label() string {
	if a.Unit == "" {
		return a.Address
	}
	return a.Address + " " + a.Unit
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
