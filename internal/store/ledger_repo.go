// Package store provides the LedgerRepo and SurveyRepo interfaces for completed work.
package store

import (
	"context"
	"time"
)

// PaymentRecord is one row of the payment ledger.
type PaymentRecord struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`
	PaymentDate string    `json:"payment_date"` // dd/mm/yyyy as entered
	Amount      string    `json:"amount"`       // normalized, e.g. "15000.50"
	Address     string    `json:"address"`
	Unit        string    `json:"unit"`
	Receipt     string    `json:"receipt"`
	Comment     string    `json:"comment"`
	CreatedAt   time.Time `json:"created_at"`
}

// ServiceRequestRecord is a service request that was forwarded by email.
type ServiceRequestRecord struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`
	ServiceType string    `json:"service_type"`
	Address     string    `json:"address"`
	Detail      string    `json:"detail"`
	Attachment  string    `json:"attachment"`
	CreatedAt   time.Time `json:"created_at"`
}

// SurveyResponseRecord stores the answers to the post-handoff survey.
type SurveyResponseRecord struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Scores    []int     `json:"scores"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerRepo persists completed payments and service requests.
type LedgerRepo interface {
	AppendPayment(ctx context.Context, rec PaymentRecord) error
	ListPayments(ctx context.Context, identity string) ([]PaymentRecord, error)
	InsertServiceRequest(ctx context.Context, rec ServiceRequestRecord) error
}

// SurveyRepo persists survey responses.
type SurveyRepo interface {
	InsertSurveyResponse(ctx context.Context, rec SurveyResponseRecord) error
}
