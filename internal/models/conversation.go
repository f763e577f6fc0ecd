package models

import (
	"time"
)

// DefaultHistoryLimit bounds the message history kept while handed off.
const DefaultHistoryLimit = 20

// Answers holds the user-visible values collected for one intent.
// Keys outside the intent's field order are rejected.
type Answers struct {
	intent Intent
	values map[FieldKey]string
}

// NewAnswers creates an empty answer set bound to intent.
func NewAnswers(intent Intent) Answers {
	return Answers{intent: intent, values: make(map[FieldKey]string)}
}

// Intent returns the intent the answers are bound to.
func (a Answers) Intent() Intent {
	return a.intent
}

// Set stores value under key. An empty value is a valid, present answer.
func (a *Answers) Set(key FieldKey, value string) error {
	if !InOrder(a.intent, key) {
		return ErrFieldNotInIntent
	}
	if a.values == nil {
		a.values = make(map[FieldKey]string)
	}
	a.values[key] = value
	return nil
}

// Get returns the value for key and whether it is present.
func (a Answers) Get(key FieldKey) (string, bool) {
	v, ok := a.values[key]
	return v, ok
}

// Value returns the value for key, or "" when absent.
func (a Answers) Value(key FieldKey) string {
	return a.values[key]
}

// Has reports whether key is present.
func (a Answers) Has(key FieldKey) bool {
	_, ok := a.values[key]
	return ok
}

// Len returns the number of present answers.
func (a Answers) Len() int {
	return len(a.values)
}

// Keys returns the present keys in field order.
func (a Answers) Keys() []FieldKey {
	var keys []FieldKey
	for _, k := range fieldOrders[a.intent] {
		if _, ok := a.values[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Map returns a copy of the answers as a plain map.
func (a Answers) Map() map[FieldKey]string {
	out := make(map[FieldKey]string, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

func (a Answers) clone() Answers {
	return Answers{intent: a.intent, values: a.Map()}
}

// HandoffInfo describes an escalation to the human agent.
type HandoffInfo struct {
	Active              bool      `json:"active"`
	StartedAt           time.Time `json:"started_at,omitempty"`
	LastClientMessageAt time.Time `json:"last_client_message_at,omitempty"`
	ContextMessage      string    `json:"context_message,omitempty"`
	Notified            bool      `json:"notified"`
}

// HistoryEntry is one message exchanged while handed off.
type HistoryEntry struct {
	At     time.Time `json:"at"`
	Sender Sender    `json:"sender"`
	Text   string    `json:"text"`
}

// SurveyState tracks the post-handoff satisfaction survey.
type SurveyState struct {
	Offered       bool      `json:"offered"`
	Accepted      bool      `json:"accepted"`
	Responses     []int     `json:"responses,omitempty"`
	QuestionIndex int       `json:"question_index"`
	OfferedAt     time.Time `json:"offered_at,omitempty"`
}

// Conversation is the state of one chat identity.
type Conversation struct {
	Identity        string           `json:"identity"`
	DisplayName     string           `json:"display_name,omitempty"`
	States          StateStack       `json:"states"`
	Intent          Intent           `json:"intent,omitempty"`
	Answers         Answers          `json:"-"`
	Cursor          Cursor           `json:"cursor"`
	PendingLocation *PendingLocation `json:"pending_location,omitempty"`
	AddressChoices  []SavedAddress   `json:"address_choices,omitempty"`
	AddressOffered  bool             `json:"address_offered,omitempty"`
	PendingSave     *SavedAddress    `json:"pending_save,omitempty"`
	HeldAttachments []string         `json:"held_attachments,omitempty"`
	Handoff         HandoffInfo      `json:"handoff"`
	History         []HistoryEntry   `json:"history,omitempty"`
	Survey          SurveyState      `json:"survey"`
	Executing       bool             `json:"executing"`
	Failures        map[FieldKey]int `json:"failures,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Version         uint64           `json:"version"`
}

// NewConversation creates a conversation in the Start state.
func NewConversation(identity string, now time.Time) *Conversation {
	return &Conversation{
		Identity:  identity,
		States:    StateStack{Current: StateStart},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// State returns the current state.
func (c *Conversation) State() State {
	return c.States.Current
}

// SelectIntent binds the conversation to intent and clears any collected data.
func (c *Conversation) SelectIntent(intent Intent) {
	c.Intent = intent
	c.Answers = NewAnswers(intent)
	c.Cursor = Cursor{}
	c.PendingLocation = nil
	c.AddressChoices = nil
	c.AddressOffered = false
	c.PendingSave = nil
	c.Failures = nil
}

// ClearIntent discards the intent and in-progress fields.
func (c *Conversation) ClearIntent() {
	c.SelectIntent(IntentNone)
	c.Executing = false
}

// RecordFailure increments the validation failure count for field and returns it.
func (c *Conversation) RecordFailure(field FieldKey) int {
	if c.Failures == nil {
		c.Failures = make(map[FieldKey]int)
	}
	c.Failures[field]++
	return c.Failures[field]
}

// AppendHistory appends an entry, keeping at most limit entries.
func (c *Conversation) AppendHistory(entry HistoryEntry, limit int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	c.History = append(c.History, entry)
	if over := len(c.History) - limit; over > 0 {
		c.History = append([]HistoryEntry(nil), c.History[over:]...)
	}
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Answers = c.Answers.clone()
	if c.PendingLocation != nil {
		pl := *c.PendingLocation
		out.PendingLocation = &pl
	}
	if c.PendingSave != nil {
		ps := *c.PendingSave
		out.PendingSave = &ps
	}
	out.AddressChoices = append([]SavedAddress(nil), c.AddressChoices...)
	out.HeldAttachments = append([]string(nil), c.HeldAttachments...)
	out.History = append([]HistoryEntry(nil), c.History...)
	out.Survey.Responses = append([]int(nil), c.Survey.Responses...)
	if c.Failures != nil {
		out.Failures = make(map[FieldKey]int, len(c.Failures))
		for k, v := range c.Failures {
			out.Failures[k] = v
		}
	}
	return &out
}
