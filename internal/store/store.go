// Package store provides storage for the Artuso support bot.
//
// It includes the in-memory ConversationStore that owns live conversation
// state and SQL backends (SQLite or PostgreSQL) for saved addresses, the
// payment ledger, service requests, survey responses, inbound message
// deduplication and the durable outbox.
package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// DefaultDBFileName is the SQLite file created under the state directory.
const DefaultDBFileName = "artuso.db"

// Opts holds configuration for SQL backends.
type Opts struct {
	DSN string
}

// Option configures a SQL backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(path string) Option {
	return func(o *Opts) { o.DSN = path }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DSNType identifies a database backend.
type DSNType string

const (
	DSNTypeSQLite   DSNType = "sqlite3"
	DSNTypePostgres DSNType = "postgres"
)

// DetectDSNType infers the backend from a connection string.
func DetectDSNType(dsn string) DSNType {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// Backend is the persistence surface used by the rest of the application.
type Backend interface {
	AddressRepo
	LedgerRepo
	SurveyRepo
	DedupRepo
	OutboxRepo
	Close() error
}

// Compile-time checks that both SQL stores satisfy Backend.
var (
	_ Backend = (*SQLiteStore)(nil)
	_ Backend = (*PostgresStore)(nil)
)

// Open connects to the backend selected by dsn. An empty dsn opens SQLite
// under stateDir.
func Open(dsn, stateDir string) (Backend, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = filepath.Join(stateDir, DefaultDBFileName)
	}
	switch DetectDSNType(dsn) {
	case DSNTypePostgres:
		slog.Info("store.Open: using PostgreSQL backend")
		s, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		slog.Info("store.Open: using SQLite backend", "path", dsn)
		s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	}
}
