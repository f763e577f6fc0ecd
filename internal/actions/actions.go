// Package actions performs the completion side effects of a confirmed
// conversation: appending payments to the ledger and emailing service
// requests to staff. It also persists satisfaction surveys.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/fields"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/store"
	"github.com/google/uuid"
)

var (
	ErrNoLedger            = errors.New("payment ledger not configured")
	ErrMailerNotConfigured = errors.New("service request mailer not configured")
	ErrNoRecipients        = errors.New("no service request recipients configured")
	ErrWrongIntent         = errors.New("conversation intent does not match the action")
)

// Mailer sends a plain-text email.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// Service implements the engine's Actions over a ledger and a mailer.
type Service struct {
	ledger     store.LedgerRepo
	mailer     Mailer
	recipients []string
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMailer sets the mailer and the staff addresses that receive service requests.
func WithMailer(m Mailer, recipients ...string) Option {
	return func(s *Service) {
		s.mailer = m
		s.recipients = recipients
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an action Service. ledger may be nil, in which case
// payments fail with ErrNoLedger.
func NewService(ledger store.LedgerRepo, opts ...Option) *Service {
	s := &Service{ledger: ledger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendCompletedPayment records a confirmed payment in the ledger.
func (s *Service) AppendCompletedPayment(ctx context.Context, conv *models.Conversation) error {
	if conv.Intent != models.IntentPaymentRegistration {
		return fmt.Errorf("%w: %s", ErrWrongIntent, conv.Intent)
	}
	if s.ledger == nil {
		return ErrNoLedger
	}
	a := conv.Answers
	rec := store.PaymentRecord{
		ID:          uuid.NewString(),
		Identity:    conv.Identity,
		DisplayName: conv.DisplayName,
		PaymentDate: a.Value(models.FieldPaymentDate),
		Amount:      a.Value(models.FieldAmount),
		Address:     a.Value(models.FieldAddress),
		Unit:        a.Value(models.FieldUnit),
		Receipt:     a.Value(models.FieldReceipt),
		Comment:     a.Value(models.FieldComment),
		CreatedAt:   s.now(),
	}
	if err := s.ledger.AppendPayment(ctx, rec); err != nil {
		return fmt.Errorf("append payment for %s: %w", conv.Identity, err)
	}
	slog.Info("actions.Service.AppendCompletedPayment: payment recorded", "id", rec.ID, "identity", conv.Identity, "amount", rec.Amount)
	return nil
}

// SendServiceRequestEmail emails a confirmed service request to staff and
// keeps a copy in the ledger. The ledger copy is best effort.
func (s *Service) SendServiceRequestEmail(ctx context.Context, conv *models.Conversation) error {
	if conv.Intent != models.IntentServiceRequest {
		return fmt.Errorf("%w: %s", ErrWrongIntent, conv.Intent)
	}
	if s.mailer == nil {
		return ErrMailerNotConfigured
	}
	if len(s.recipients) == 0 {
		return ErrNoRecipients
	}
	subject, body := ServiceRequestEmail(conv, s.now())
	if err := s.mailer.Send(ctx, s.recipients, subject, body); err != nil {
		return fmt.Errorf("send service request email for %s: %w", conv.Identity, err)
	}
	slog.Info("actions.Service.SendServiceRequestEmail: email sent", "identity", conv.Identity, "recipients", len(s.recipients))

	if s.ledger != nil {
		a := conv.Answers
		rec := store.ServiceRequestRecord{
			ID:          uuid.NewString(),
			Identity:    conv.Identity,
			DisplayName: conv.DisplayName,
			ServiceType: a.Value(models.FieldServiceType),
			Address:     a.Value(models.FieldAddress),
			Detail:      a.Value(models.FieldDetail),
			Attachment:  a.Value(models.FieldAttachment),
			CreatedAt:   s.now(),
		}
		if err := s.ledger.InsertServiceRequest(ctx, rec); err != nil {
			slog.Warn("actions.Service.SendServiceRequestEmail: failed to record request", "identity", conv.Identity, "error", err)
		}
	}
	return nil
}

// ServiceRequestEmail renders the subject and body sent to staff.
func ServiceRequestEmail(conv *models.Conversation, at time.Time) (subject, body string) {
	a := conv.Answers
	subject = fmt.Sprintf("Solicitud de servicio: %s - %s", a.Value(models.FieldServiceType), a.Value(models.FieldAddress))

	var b strings.Builder
	b.WriteString("Nueva solicitud de servicio recibida por el asistente.\n\n")
	fmt.Fprintf(&b, "Fecha: %s\n", at.Format("02/01/2006 15:04"))
	fmt.Fprintf(&b, "Cliente: %s\n", contactLine(conv))
	for _, key := range a.Keys() {
		value := a.Value(key)
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(&b, "%s: %s\n", fields.Label(key), value)
	}
	return subject, b.String()
}

func contactLine(conv *models.Conversation) string {
	if conv.DisplayName == "" {
		return conv.Identity
	}
	return conv.DisplayName + " (" + conv.Identity + ")"
}

// SurveyRecorder persists survey answers through a store.SurveyRepo.
type SurveyRecorder struct {
	repo store.SurveyRepo
	now  func() time.Time
}

// NewSurveyRecorder creates a SurveyRecorder.
func NewSurveyRecorder(repo store.SurveyRepo) *SurveyRecorder {
	return &SurveyRecorder{repo: repo, now: time.Now}
}

// RecordSurvey stores one completed survey.
func (r *SurveyRecorder) RecordSurvey(ctx context.Context, identity string, scores []int) error {
	rec := store.SurveyResponseRecord{
		ID:        uuid.NewString(),
		Identity:  identity,
		Scores:    append([]int(nil), scores...),
		CreatedAt: r.now(),
	}
	if err := r.repo.InsertSurveyResponse(ctx, rec); err != nil {
		return fmt.Errorf("record survey for %s: %w", identity, err)
	}
	slog.Debug("actions.SurveyRecorder.RecordSurvey: stored", "identity", identity, "scores", scores)
	return nil
}
