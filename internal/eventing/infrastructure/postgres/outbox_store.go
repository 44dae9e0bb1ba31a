package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"certgen-cloud/internal/eventing"
)

const (
	defaultOutboxTable = "event_outbox"

	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"

	maxErrorLength = 2000
)

var errNilOutbox = errors.New("outbox store: nil db")

// OutboxStore keeps certificate events in Postgres until the dispatcher has
// delivered them. Inserts run on whatever DBTX it was built with, so a store
// bound to a transaction commits events atomically with aggregate changes.
type OutboxStore struct {
	db    DBTX
	table string
	now   func() time.Time
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.table = table
		}
	}
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db DBTX, opts ...OutboxOption) *OutboxStore {
	store := &OutboxStore{db: db, table: defaultOutboxTable, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *OutboxStore) q(format string) string {
	return fmt.Sprintf(format, s.table)
}

// Insert stores the envelope as pending and returns the outbox record id.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errNilOutbox
	}
	if env.EventID == "" || env.EventType == "" {
		return "", errors.New("outbox store: envelope needs event id and type")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	id := eventing.NewEventID()
	_, err = s.db.ExecContext(ctx, s.q(`
INSERT INTO %s (id, event_id, event_type, aggregate_id, payload, status, attempts)
VALUES ($1, $2, $3, $4, $5, 'pending', 0)`),
		id, env.EventID, env.EventType, env.AggregateID, payload)
	if err != nil {
		return "", fmt.Errorf("outbox insert %s: %w", env.EventType, err)
	}
	return id, nil
}

// ListPending returns up to limit pending records, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilOutbox
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT id, payload
FROM %s
WHERE status = 'pending'
ORDER BY created_at ASC, id ASC
LIMIT $1`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]eventing.OutboxRecord, 0, limit)
	for rows.Next() {
		var (
			record  eventing.OutboxRecord
			payload []byte
		)
		if err := rows.Scan(&record.ID, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &record.Envelope); err != nil {
			return nil, fmt.Errorf("outbox record %s: %w", record.ID, err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// MarkSent flags the record as delivered.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, outboxSent, nil)
}

// MarkFailed flags the record as undeliverable and keeps the cause.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string, cause error) error {
	return s.setStatus(ctx, id, outboxFailed, cause)
}

func (s *OutboxStore) setStatus(ctx context.Context, id, status string, cause error) error {
	if s == nil || s.db == nil {
		return errNilOutbox
	}
	var (
		result sql.Result
		err    error
	)
	switch status {
	case outboxSent:
		result, err = s.db.ExecContext(ctx, s.q(`
UPDATE %s
SET status = 'sent', sent_at = $1
WHERE id = $2 AND status = 'pending'`), s.now().UTC(), id)
	default:
		result, err = s.db.ExecContext(ctx, s.q(`
UPDATE %s
SET status = 'failed', attempts = attempts + 1, last_error = $1
WHERE id = $2`), errorText(cause), id)
	}
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("outbox record %s: no %s row to update", id, outboxPending)
	}
	return nil
}

// PurgeSent deletes delivered records sent before the cutoff.
func (s *OutboxStore) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNilOutbox
	}
	result, err := s.db.ExecContext(ctx, s.q(`DELETE FROM %s WHERE status = 'sent' AND sent_at < $1`), before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	return msg
}
