package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/fields"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/handoff"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/store"
)

// Default timings.
const (
	DefaultHandoffTTL      = 24 * time.Hour
	DefaultSurveyTTL       = 30 * time.Minute
	DefaultConversationTTL = 2 * time.Hour
	DefaultTombstoneWindow = 10 * time.Minute
)

// maxStepAttempts bounds how often hints are recomputed when the
// conversation moved between snapshot and update.
const maxStepAttempts = 3

var (
	// ErrNoSender is returned by NewEngine when no Sender is configured.
	ErrNoSender = errors.New("flow engine requires a sender")

	errStale = errors.New("conversation changed since snapshot")
)

// Engine routes inbound messages for every identity.
type Engine struct {
	conversations *store.ConversationStore
	queue         *handoff.Queue
	collector     *fields.Collector
	deps          Dependencies

	agent           string
	handoffTTL      time.Duration
	surveyTTL       time.Duration
	conversationTTL time.Duration
	tombstoneWindow time.Duration
	surveysEnabled  bool
	historyLimit    int
	contactInfo     string
	emergencyPhone  string
	companyName     string
	now             func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithAgentIdentity sets the identity whose messages are treated as the human agent.
func WithAgentIdentity(identity string) Option {
	return func(e *Engine) { e.agent = identity }
}

// WithHandoffTTL sets how long a handed-off conversation may stay silent before the sweep closes it.
func WithHandoffTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.handoffTTL = d
		}
	}
}

// WithSurveyTTL sets how long an offered or running survey may wait for an answer.
func WithSurveyTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.surveyTTL = d
		}
	}
}

// WithConversationTTL sets the idle time after which a bot-handled conversation is dropped.
// Zero disables idle expiry.
func WithConversationTTL(d time.Duration) Option {
	return func(e *Engine) { e.conversationTTL = d }
}

// WithTombstoneWindow sets how long gratitude after finalization is swallowed.
func WithTombstoneWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tombstoneWindow = d
		}
	}
}

// WithSurveys enables the post-handoff satisfaction survey.
func WithSurveys(enabled bool) Option {
	return func(e *Engine) { e.surveysEnabled = enabled }
}

// WithHistoryLimit bounds the handoff history kept per conversation.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// WithContactInfo sets the text sent when the client asks for contact details.
func WithContactInfo(text string) Option {
	return func(e *Engine) {
		if text != "" {
			e.contactInfo = text
		}
	}
}

// WithEmergencyPhone sets the phone number given to clients reporting an emergency.
func WithEmergencyPhone(phone string) Option {
	return func(e *Engine) {
		if phone != "" {
			e.emergencyPhone = phone
		}
	}
}

// WithCompanyName sets the name used in the welcome message.
func WithCompanyName(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.companyName = name
		}
	}
}

// WithCollector replaces the field collector.
func WithCollector(c *fields.Collector) Option {
	return func(e *Engine) {
		if c != nil {
			e.collector = c
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an Engine over the given conversation store and queue.
func NewEngine(conversations *store.ConversationStore, queue *handoff.Queue, deps Dependencies, opts ...Option) (*Engine, error) {
	if deps.Sender == nil {
		return nil, ErrNoSender
	}
	if conversations == nil {
		conversations = store.NewConversationStore()
	}
	if queue == nil {
		queue = handoff.NewQueue()
	}
	if deps.Auditor == nil {
		deps.Auditor = nopAuditor{}
	}
	if deps.Tasks == nil {
		deps.Tasks = goRunner{}
	}
	e := &Engine{
		conversations:   conversations,
		queue:           queue,
		deps:            deps,
		handoffTTL:      DefaultHandoffTTL,
		surveyTTL:       DefaultSurveyTTL,
		conversationTTL: DefaultConversationTTL,
		tombstoneWindow: DefaultTombstoneWindow,
		historyLimit:    models.DefaultHistoryLimit,
		contactInfo:     defaultContactInfo,
		emergencyPhone:  defaultEmergencyPhone,
		companyName:     defaultCompanyName,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.collector == nil {
		e.collector = fields.NewCollector(fields.WithClock(e.now))
	}
	slog.Debug("Engine.New: created", "agent", e.agent, "surveys", e.surveysEnabled,
		"handoffTTL", e.handoffTTL, "surveyTTL", e.surveyTTL, "conversationTTL", e.conversationTTL)
	return e, nil
}

// Conversations returns the engine's conversation store.
func (e *Engine) Conversations() *store.ConversationStore {
	return e.conversations
}

// Queue returns the engine's handoff queue.
func (e *Engine) Queue() *handoff.Queue {
	return e.queue
}

// HandleInbound processes one inbound message from a client or the agent.
// Panics are recovered here; the conversation is left as it was before the
// message and the sender receives a generic apology.
func (e *Engine) HandleInbound(ctx context.Context, in models.InboundMessage) (err error) {
	if err := in.Validate(); err != nil {
		return fmt.Errorf("invalid inbound message: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Engine.HandleInbound: recovered panic", "from", in.From, "panic", r)
			e.deps.Auditor.Friction(in.From, models.FrictionException, fmt.Sprint(r))
			e.sendText(ctx, in.From, msgApology)
			err = fmt.Errorf("panic handling message from %s: %v", in.From, r)
		}
	}()

	e.deps.Auditor.MessageReceived(in.Channel())
	if !e.recordInbound(in) {
		slog.Info("Engine.HandleInbound: duplicate message ignored", "id", in.ID, "from", in.From)
		return nil
	}
	defer e.markProcessed(in)

	if e.agent != "" && in.From == e.agent {
		e.handleAgent(ctx, in)
		return nil
	}
	e.handleClient(ctx, in)
	return nil
}

func (e *Engine) recordInbound(in models.InboundMessage) bool {
	if e.deps.Dedup == nil || in.ID == "" {
		return true
	}
	isNew, err := e.deps.Dedup.RecordInbound(in.ID, in.From)
	if err != nil {
		slog.Warn("Engine.recordInbound: dedup unavailable, processing anyway", "id", in.ID, "error", err)
		return true
	}
	return isNew
}

func (e *Engine) markProcessed(in models.InboundMessage) {
	if e.deps.Dedup == nil || in.ID == "" {
		return
	}
	if err := e.deps.Dedup.MarkProcessed(in.ID); err != nil {
		slog.Warn("Engine.markProcessed: failed", "id", in.ID, "error", err)
	}
}

func (e *Engine) handleClient(ctx context.Context, in models.InboundMessage) {
	if _, live := e.conversations.Snapshot(in.From); !live &&
		e.conversations.RecentlyFinalized(in.From, e.tombstoneWindow) && isGratitude(in.Text) {
		slog.Debug("Engine.handleClient: gratitude after close swallowed", "from", in.From)
		return
	}

	snap, created := e.conversations.GetOrCreate(in.From)
	if created {
		slog.Info("Engine.handleClient: new conversation", "from", in.From, "channel", in.Channel())
	}

	var (
		eff  *effects
		conv *models.Conversation
		err  error
	)
	for attempt := 1; attempt <= maxStepAttempts; attempt++ {
		h := e.prepareHints(ctx, snap, in)
		expected := snap.Version
		last := attempt == maxStepAttempts
		conv, err = e.conversations.Update(in.From, func(c *models.Conversation) error {
			if !last && c.Version != expected {
				return errStale
			}
			eff = newEffects(c.Identity)
			from := c.State()
			if err := e.step(c, in, h, eff); err != nil {
				return err
			}
			if to := c.State(); to != from {
				eff.transitions = append(eff.transitions, [2]models.State{from, to})
			}
			return nil
		})
		if errors.Is(err, errStale) || errors.Is(err, store.ErrConversationNotFound) {
			slog.Debug("Engine.handleClient: retrying step", "from", in.From, "attempt", attempt, "reason", err)
			snap, _ = e.conversations.GetOrCreate(in.From)
			continue
		}
		break
	}
	if err != nil {
		slog.Error("Engine.handleClient: step failed", "from", in.From, "error", err)
		e.deps.Auditor.Friction(in.From, models.FrictionException, err.Error())
		e.sendText(ctx, in.From, msgApology)
		return
	}
	e.apply(ctx, conv, eff)
}
