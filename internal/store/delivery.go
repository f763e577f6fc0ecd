package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const outboxColumns = `id, identity, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

// deliveryLog implements DedupRepo and OutboxRepo for both SQL backends.
// Queries are written with ? placeholders and rebound for PostgreSQL.
type deliveryLog struct {
	db      *sql.DB
	dialect DSNType
}

func (l *deliveryLog) rebind(query string) string {
	if l.dialect != DSNTypePostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (l *deliveryLog) exec(query string, args ...any) (sql.Result, error) {
	return l.db.Exec(l.rebind(query), args...)
}

// IsDuplicate reports whether messageID was already recorded.
func (l *deliveryLog) IsDuplicate(messageID string) (bool, error) {
	var id string
	err := l.db.QueryRow(l.rebind(`SELECT message_id FROM inbound_dedup WHERE message_id = ?`), messageID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

// RecordInbound records messageID, reporting false when it was already known.
func (l *deliveryLog) RecordInbound(messageID, identity string) (bool, error) {
	query := `INSERT OR IGNORE INTO inbound_dedup (message_id, identity, received_at) VALUES (?, ?, ?)`
	if l.dialect == DSNTypePostgres {
		query = `INSERT INTO inbound_dedup (message_id, identity, received_at) VALUES (?, ?, ?) ON CONFLICT (message_id) DO NOTHING`
	}
	result, err := l.exec(query, messageID, identity, time.Now())
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed stamps messageID as fully handled.
func (l *deliveryLog) MarkProcessed(messageID string) error {
	if _, err := l.exec(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, time.Now(), messageID); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// EnqueueOutboxMessage queues a send. A pending message with the same
// dedupeKey is reused instead.
func (l *deliveryLog) EnqueueOutboxMessage(identity, kind, payloadJSON, dedupeKey string) (string, error) {
	if dedupeKey != "" {
		var existingID string
		err := l.db.QueryRow(
			l.rebind(`SELECT id FROM outbox_messages WHERE dedupe_key = ? AND status NOT IN ('sent', 'canceled')`),
			dedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug("deliveryLog.EnqueueOutboxMessage: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("outbox dedupe check failed: %w", err)
		}
	}

	id := uuid.NewString()
	now := time.Now()
	var key any
	if dedupeKey != "" {
		key = dedupeKey
	}
	_, err := l.exec(
		`INSERT INTO outbox_messages (id, identity, kind, payload_json, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?)`,
		id, identity, kind, payloadJSON, key, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	slog.Debug("deliveryLog.EnqueueOutboxMessage: queued", "id", id, "identity", identity, "kind", kind, "dialect", l.dialect)
	return id, nil
}

// ClaimDueOutboxMessages moves up to limit due messages to sending and
// returns them, oldest first.
func (l *deliveryLog) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	if l.dialect == DSNTypePostgres {
		rows, err := l.db.Query(
			`UPDATE outbox_messages SET status = 'sending', locked_at = $1, updated_at = $1
			 WHERE id IN (
			   SELECT id FROM outbox_messages WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
			   ORDER BY created_at ASC LIMIT $2
			   FOR UPDATE SKIP LOCKED
			 )
			 RETURNING `+outboxColumns,
			now, limit,
		)
		if err != nil {
			return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
		}
		return collectOutbox(rows)
	}

	// SQLite has a single writer, so select-then-update inside one
	// transaction cannot race another claimer.
	tx, err := l.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin outbox claim failed: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT `+outboxColumns+` FROM outbox_messages
		 WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
	}
	msgs, err := collectOutbox(rows)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if _, err := tx.Exec(`UPDATE outbox_messages SET status = 'sending', locked_at = ?, updated_at = ? WHERE id = ?`, now, now, msgs[i].ID); err != nil {
			return nil, fmt.Errorf("mark outbox sending failed: %w", err)
		}
		msgs[i].Status = OutboxStatusSending
		msgs[i].LockedAt = &now
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit outbox claim failed: %w", err)
	}
	return msgs, nil
}

func collectOutbox(rows *sql.Rows) ([]OutboxMessage, error) {
	defer rows.Close()
	var msgs []OutboxMessage
	for rows.Next() {
		var (
			m                               OutboxMessage
			payloadJSON, dedupeKey, lastErr sql.NullString
			nextAttemptAt, lockedAt         sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.Identity, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
			&nextAttemptAt, &dedupeKey, &lockedAt, &lastErr, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox message failed: %w", err)
		}
		m.PayloadJSON = payloadJSON.String
		m.DedupeKey = dedupeKey.String
		m.LastError = lastErr.String
		if nextAttemptAt.Valid {
			m.NextAttemptAt = &nextAttemptAt.Time
		}
		if lockedAt.Valid {
			m.LockedAt = &lockedAt.Time
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim outbox iteration failed: %w", err)
	}
	return msgs, nil
}

// MarkOutboxMessageSent records a successful send.
func (l *deliveryLog) MarkOutboxMessageSent(id string) error {
	if _, err := l.exec(`UPDATE outbox_messages SET status = 'sent', updated_at = ? WHERE id = ?`, time.Now(), id); err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

// FailOutboxMessage requeues a failed send for nextAttemptAt.
func (l *deliveryLog) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	_, err := l.exec(
		`UPDATE outbox_messages SET status = 'queued', attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
		errMsg, nextAttemptAt, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("fail outbox message failed: %w", err)
	}
	return nil
}

// AbandonOutboxMessage gives up on a message.
func (l *deliveryLog) AbandonOutboxMessage(id string, errMsg string) error {
	_, err := l.exec(
		`UPDATE outbox_messages SET status = 'failed', last_error = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
		errMsg, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("abandon outbox message failed: %w", err)
	}
	slog.Warn("deliveryLog.AbandonOutboxMessage: message abandoned", "id", id, "error", errMsg)
	return nil
}

// RequeueStaleSendingMessages returns messages stuck in sending since
// before staleBefore to the queue.
func (l *deliveryLog) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	result, err := l.exec(
		`UPDATE outbox_messages SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'sending' AND locked_at < ?`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
