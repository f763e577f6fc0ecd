// Package store provides storage backends for the Artuso support bot.
//
// This file implements an SQLite-backed store for addresses, the ledger and surveys.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
	deliveryLog
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// sqlite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db, deliveryLog: deliveryLog{db: db, dialect: DSNTypeSQLite}}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

func (s *SQLiteStore) ListSavedAddresses(ctx context.Context, identity string) ([]SavedAddressRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, address, unit, created_at FROM saved_addresses WHERE identity = ? ORDER BY created_at ASC, id ASC`,
		identity)
	if err != nil {
		slog.Error("SQLiteStore ListSavedAddresses query failed", "error", err, "identity", identity)
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

func (s *SQLiteStore) InsertSavedAddress(ctx context.Context, identity, address, unit string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO saved_addresses (identity, address, unit, created_at) VALUES (?, ?, ?, ?)`,
		identity, address, unit, time.Now())
	if err != nil {
		slog.Error("SQLiteStore InsertSavedAddress failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to insert saved address: %w", err)
	}
	slog.Debug("SQLiteStore InsertSavedAddress succeeded", "identity", identity)
	return nil
}

func (s *SQLiteStore) DeleteSavedAddress(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM saved_addresses WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteSavedAddress failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete saved address: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendPayment(ctx context.Context, rec PaymentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (id, identity, display_name, payment_date, amount, address, unit, receipt, comment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Identity, rec.DisplayName, rec.PaymentDate, rec.Amount, rec.Address, rec.Unit, rec.Receipt, rec.Comment, rec.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AppendPayment failed", "error", err, "identity", rec.Identity)
		return fmt.Errorf("failed to append payment: %w", err)
	}
	slog.Debug("SQLiteStore AppendPayment succeeded", "identity", rec.Identity, "id", rec.ID)
	return nil
}

func (s *SQLiteStore) ListPayments(ctx context.Context, identity string) ([]PaymentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, display_name, payment_date, amount, address, unit, receipt, comment, created_at
		 FROM payments WHERE identity = ? ORDER BY created_at ASC`, identity)
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

func (s *SQLiteStore) InsertServiceRequest(ctx context.Context, rec ServiceRequestRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO service_requests (id, identity, display_name, service_type, address, detail, attachment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Identity, rec.DisplayName, rec.ServiceType, rec.Address, rec.Detail, rec.Attachment, rec.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore InsertServiceRequest failed", "error", err, "identity", rec.Identity)
		return fmt.Errorf("failed to insert service request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertSurveyResponse(ctx context.Context, rec SurveyResponseRecord) error {
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
		`INSERT INTO survey_responses (id, identity, scores, created_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Identity, string(scores), rec.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore InsertSurveyResponse failed", "error", err, "identity", rec.Identity)
		return fmt.Errorf("failed to insert survey response: %w", err)
	}
	return nil
}
