package eventing

import (
	"context"
	"errors"
	"sync"
)

// MemoryOutbox is an in-process outbox for tests and local runs.
type MemoryOutbox struct {
	mu      sync.Mutex
	records []memoryRecord
}

type memoryRecord struct {
	OutboxRecord
	status    string
	attempts  int
	lastError string
}

// NewMemoryOutbox constructs an empty outbox.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

// Insert appends an envelope as pending.
func (o *MemoryOutbox) Insert(_ context.Context, env Envelope) (string, error) {
	if env.EventID == "" {
		return "", errors.New("memory outbox: empty event id")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	id := NewEventID()
	o.records = append(o.records, memoryRecord{OutboxRecord: OutboxRecord{ID: id, Envelope: env}, status: "pending"})
	return id, nil
}

// ListPending returns pending records in insertion order.
func (o *MemoryOutbox) ListPending(_ context.Context, limit int) ([]OutboxRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []OutboxRecord
	for _, r := range o.records {
		if r.status != "pending" {
			continue
		}
		out = append(out, r.OutboxRecord)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkSent marks a record as sent.
func (o *MemoryOutbox) MarkSent(_ context.Context, id string) error {
	return o.mark(id, "sent", nil)
}

// MarkFailed marks a record as failed and keeps the cause.
func (o *MemoryOutbox) MarkFailed(_ context.Context, id string, cause error) error {
	return o.mark(id, "failed", cause)
}

// Envelopes returns every recorded envelope regardless of status.
func (o *MemoryOutbox) Envelopes() []Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Envelope, len(o.records))
	for i, r := range o.records {
		out[i] = r.Envelope
	}
	return out
}

// Failures returns the recorded cause of every failed record.
func (o *MemoryOutbox) Failures() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, r := range o.records {
		if r.status == "failed" {
			out = append(out, r.lastError)
		}
	}
	return out
}

// Pending counts records not yet delivered.
func (o *MemoryOutbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.records {
		if r.status == "pending" {
			n++
		}
	}
	return n
}

func (o *MemoryOutbox) mark(id, status string, cause error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.records {
		if o.records[i].ID == id {
			o.records[i].status = status
			if status == "failed" {
				o.records[i].attempts++
				if cause != nil {
					o.records[i].lastError = cause.Error()
				}
			}
			return nil
		}
	}
	return errors.New("memory outbox: unknown record")
}

// MemoryProcessedStore tracks processed events in memory.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryProcessedStore constructs an empty store.
func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: make(map[string]struct{})}
}

// HasProcessed checks if the consumer already handled the event.
func (s *MemoryProcessedStore) HasProcessed(_ context.Context, eventID, consumerName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[consumerName+"|"+eventID]
	return ok, nil
}

// MarkProcessed records the event as handled by the consumer.
func (s *MemoryProcessedStore) MarkProcessed(_ context.Context, eventID, consumerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[consumerName+"|"+eventID] = struct{}{}
	return nil
}

// MemoryDLQ keeps failed envelopes in memory.
type MemoryDLQ struct {
	mu       sync.Mutex
	failures []Envelope
}

// RecordFailure stores the failed envelope.
func (d *MemoryDLQ) RecordFailure(_ context.Context, env Envelope, _ error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, env)
	return nil
}

// Len returns the number of recorded failures.
func (d *MemoryDLQ) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.failures)
}
