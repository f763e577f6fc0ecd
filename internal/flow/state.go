// Package flow drives support conversations: it routes each inbound message
// through interrupt detection and the per-state handlers, applies the
// resulting state change atomically, and then performs outbound sends and
// completion actions with no conversation lock held.
package flow

import (
	"context"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/store"
)

// Sender delivers outbound messages to a channel-qualified identity.
type Sender interface {
	// SendText sends a plain text message.
	SendText(ctx context.Context, to, body string) error

	// SendButtons sends a message with up to three reply buttons.
	SendButtons(ctx context.Context, to, body string, buttons []models.Button) error

	// SendList sends a message with a selectable list.
	SendList(ctx context.Context, to, body string, sections []models.ListSection) error
}

// NLU classifies free text when deterministic matching fails. Every method
// may fail; callers fall back to the deterministic result.
type NLU interface {
	// ClassifyIntent maps free text to a menu intent, or IntentNone.
	ClassifyIntent(ctx context.Context, text string) (models.Intent, error)

	// ExtractStructuredFields pulls field values out of a free-form message.
	ExtractStructuredFields(ctx context.Context, text string) (map[models.FieldKey]string, error)

	// DetectsHumanRequest reports whether the client asks for a person.
	DetectsHumanRequest(ctx context.Context, text string) (bool, error)

	// DetectsContactInfoRequest reports whether the client asks for contact details.
	DetectsContactInfoRequest(ctx context.Context, text string) (bool, error)
}

// AddressBook remembers addresses per identity.
type AddressBook interface {
	ListSaved(ctx context.Context, identity string) ([]models.SavedAddress, error)
	UpsertSaved(ctx context.Context, identity, address, unit string) (store.UpsertOutcome, error)
	DeleteSaved(ctx context.Context, identity string, index int) (bool, error)
}

// Actions performs the completion side effect of an intent.
type Actions interface {
	// AppendCompletedPayment records a confirmed payment.
	AppendCompletedPayment(ctx context.Context, conv *models.Conversation) error

	// SendServiceRequestEmail forwards a confirmed service request to staff.
	SendServiceRequestEmail(ctx context.Context, conv *models.Conversation) error
}

// SurveyRecorder persists completed satisfaction surveys.
type SurveyRecorder interface {
	RecordSurvey(ctx context.Context, identity string, scores []int) error
}

// Auditor receives fire-and-forget observations about the flow. It must not block.
type Auditor interface {
	MessageReceived(channel string)
	Transition(from, to models.State)
	Friction(identity string, kind models.FrictionKind, detail string)
	QueueDepth(n int)
	ActionResult(intent models.Intent, ok bool)
	SweepClosed(n int)
}

// TaskRunner runs work in the background. Submit reports false when the
// task was rejected, in which case the caller runs nothing.
type TaskRunner interface {
	Submit(name string, fn func(ctx context.Context)) bool
}

// Outbox durably queues a message for a later send attempt.
type Outbox interface {
	EnqueueOutboxMessage(identity, kind, payloadJSON, dedupeKey string) (string, error)
}

// Dedup records inbound message ids so provider retries are processed once.
type Dedup interface {
	RecordInbound(messageID, identity string) (bool, error)
	MarkProcessed(messageID string) error
}

// Dependencies holds the collaborators injected into the Engine. Only the
// Sender is required; nil collaborators disable the feature they back.
type Dependencies struct {
	Sender    Sender
	NLU       NLU
	Addresses AddressBook
	Actions   Actions
	Surveys   SurveyRecorder
	Auditor   Auditor
	Tasks     TaskRunner
	Outbox    Outbox
	Dedup     Dedup
}

type nopAuditor struct{}

func (nopAuditor) MessageReceived(string) {}
func (nopAuditor) Transition(models.State, models.State) {}
func (nopAuditor) Friction(string, models.FrictionKind, string) {}
func (nopAuditor) QueueDepth(int) {}
func (nopAuditor) ActionResult(models.Intent, bool) {}
func (nopAuditor) SweepClosed(int) {}

// goRunner runs each task on its own goroutine.
type goRunner struct{}

func (goRunner) Submit(_ string, fn func(ctx context.Context)) bool {
	go fn(context.Background())
	return true
}
