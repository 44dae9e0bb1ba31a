package eventing

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Envelope is the stored and dispatched form of a domain event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	ActorID       string          `json:"actor_id"`
	AggregateID   string          `json:"aggregate_id"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta carries the envelope fields a caller can set ahead of publishing.
// Zero fields are derived from the event itself.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	ActorID       string
	AggregateID   string
	SchemaVersion int
}

// resolve fills zero fields from the event and from fresh ids.
func (m Meta) resolve(event any) Meta {
	if m.AggregateID == "" {
		if a, ok := event.(interface{ AggregateID() string }); ok {
			m.AggregateID = a.AggregateID()
		}
	}
	if m.OccurredAt.IsZero() {
		m.OccurredAt = extractTimeField(event, "OccurredAt")
	}
	if m.OccurredAt.IsZero() {
		m.OccurredAt = time.Now()
	}
	if m.EventID == "" {
		m.EventID = NewEventID()
	}
	if m.CorrelationID == "" {
		m.CorrelationID = m.EventID
	}
	if m.SchemaVersion <= 0 {
		m.SchemaVersion = 1
	}
	return m
}

// BuildEnvelope serializes event and stamps it with resolved metadata.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, ErrNilEvent
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("eventing: encode %s: %w", EventType(event), err)
	}
	m := meta.resolve(event)
	return Envelope{
		EventID:       m.EventID,
		EventType:     EventType(event),
		OccurredAt:    m.OccurredAt.UTC(),
		CorrelationID: m.CorrelationID,
		ActorID:       m.ActorID,
		AggregateID:   m.AggregateID,
		SchemaVersion: m.SchemaVersion,
		Payload:       payload,
	}, nil
}

func extractTimeField(event any, name string) time.Time {
	value := reflect.ValueOf(event)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return time.Time{}
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return time.Time{}
	}
	field := value.FieldByName(name)
	if !field.IsValid() {
		return time.Time{}
	}
	if t, ok := field.Interface().(time.Time); ok {
		return t
	}
	return time.Time{}
}
