package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"certgen-cloud/internal/eventing"
)

const (
	defaultProcessedTable  = "processed_events"
	defaultDeadLetterTable = "dead_letter_events"
)

// ConsumerStore keeps per-consumer delivery state: the events each consumer
// has handled and the envelopes that ended up dead-lettered. It satisfies both
// eventing.ProcessedStore and eventing.DLQStore.
type ConsumerStore struct {
	db              DBTX
	processedTable  string
	deadLetterTable string
	now             func() time.Time
}

// ConsumerOption configures the consumer store.
type ConsumerOption func(*ConsumerStore)

// WithTables overrides the processed and dead-letter table names. Empty
// names keep the defaults.
func WithTables(processed, deadLetter string) ConsumerOption {
	return func(s *ConsumerStore) {
		if processed != "" {
			s.processedTable = processed
		}
		if deadLetter != "" {
			s.deadLetterTable = deadLetter
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) ConsumerOption {
	return func(s *ConsumerStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewConsumerStore constructs a consumer store.
func NewConsumerStore(db DBTX, opts ...ConsumerOption) *ConsumerStore {
	s := &ConsumerStore{
		db:              db,
		processedTable:  defaultProcessedTable,
		deadLetterTable: defaultDeadLetterTable,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ConsumerStore) check() error {
	if s == nil || s.db == nil {
		return errors.New("consumer store: nil db")
	}
	return nil
}

// HasProcessed reports whether consumerName already handled eventID.
func (s *ConsumerStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	if eventID == "" || consumerName == "" {
		return false, errors.New("consumer store: event id and consumer are required")
	}
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE event_id = $1 AND consumer_name = $2)`, s.processedTable)
	if err := s.db.QueryRowContext(ctx, query, eventID, consumerName).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// MarkProcessed records that consumerName handled eventID. Repeats are no-ops.
func (s *ConsumerStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if err := s.check(); err != nil {
		return err
	}
	if eventID == "" || consumerName == "" {
		return errors.New("consumer store: event id and consumer are required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (event_id, consumer_name, processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_id, consumer_name) DO NOTHING`, s.processedTable)
	_, err := s.db.ExecContext(ctx, query, eventID, consumerName, s.now())
	return err
}

// PurgeProcessed deletes processed markers older than before and returns how
// many were removed.
func (s *ConsumerStore) PurgeProcessed(ctx context.Context, before time.Time) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE processed_at < $1`, s.processedTable)
	result, err := s.db.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RecordFailure upserts a dead-letter record and counts the attempt.
func (s *ConsumerStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if err := s.check(); err != nil {
		return err
	}
	if env.EventID == "" {
		return errors.New("consumer store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (event_id, event_type, payload, error, first_seen_at, last_seen_at, attempts)
VALUES ($1, $2, $3, $4, $5, $5, 1)
ON CONFLICT (event_id) DO UPDATE SET
	payload = EXCLUDED.payload,
	error = EXCLUDED.error,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = %[1]s.attempts + 1`, s.deadLetterTable)
	_, err = s.db.ExecContext(ctx, query, env.EventID, env.EventType, payload, message, s.now())
	return err
}
