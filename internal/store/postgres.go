// Package store provides storage backends for the Artuso support bot.
//
// This file implements a PostgreSQL-backed store for addresses, the ledger and surveys.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
	deliveryLog
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, deliveryLog: deliveryLog{db: db, dialect: DSNTypePostgres}}, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}

func (s *PostgresStore) ListSavedAddresses(ctx context.Context, identity string) ([]SavedAddressRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, address, unit, created_at FROM saved_addresses WHERE identity = $1 ORDER BY created_at ASC, id ASC`,
		identity)
	if err != nil {
		slog.Error("PostgresStore ListSavedAddresses query failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to query saved addresses: %w", err)
	}
	defer rows.Close()

	var out []SavedAddressRecord
	for rows.Next() {
		var r SavedAddressRecord
		if err := rows.Scan(&r.ID, &r.Identity, &r.Address, &r.Unit, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan saved address: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate saved addresses: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) InsertSavedAddress(ctx context.Context, identity, address, unit string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO saved_addresses (identity, address, unit, created_at) VALUES ($1, $2, $3, $4)`,
		identity, address, unit, time.Now())
	if err != nil {
		slog.Error("PostgresStore InsertSavedAddress failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to insert saved address: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSavedAddress(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM saved_addresses WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteSavedAddress failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete saved address: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendPayment(ctx context.Context, rec PaymentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (id, identity, display_name, payment_date, amount, address, unit, receipt, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Identity, rec.DisplayName, rec.PaymentDate, rec.Amount, rec.Address, rec.Unit, rec.Receipt, rec.Comment, rec.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AppendPayment failed", "error", err, "identity", rec.Identity)
		return fmt.Errorf("failed to append payment: %w", err)
	}
	slog.Debug("PostgresStore AppendPayment succeeded", "identity", rec.Identity, "id", rec.ID)
	return nil
}

func (s *PostgresStore) ListPayments(ctx context.Context, identity string) ([]PaymentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, display_name, payment_date, amount, address, unit, receipt, comment, created_at
		 FROM payments WHERE identity = $1 ORDER BY created_at ASC`, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []PaymentRecord
	for rows.Next() {
		var r PaymentRecord
		if err := rows.Scan(&r.ID, &r.Identity, &r.DisplayName, &r.PaymentDate, &r.Amount, &r.Address, &r.Unit, &r.Receipt, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertServiceRequest(ctx context.Context, rec ServiceRequestRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO service_requests (id, identity, display_name, service_type, address, detail, attachment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Identity, rec.DisplayName, rec.ServiceType, rec.Address, rec.Detail, rec.Attachment, rec.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore InsertServiceRequest failed", "error", err, "identity", rec.Identity)
		return fmt.Errorf("failed to insert service request: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertSurveyResponse(ctx context.Context, rec SurveyResponseRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	scores, err := json.Marshal(rec.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal survey scores: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO survey_responses (id, identity, scores, created_at) VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.Identity, string(scores), rec.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore InsertSurveyResponse failed", "error", err, "identity", rec.Identity)
		return fmt.Errorf("failed to insert survey response: %w", err)
	}
	return nil
}
