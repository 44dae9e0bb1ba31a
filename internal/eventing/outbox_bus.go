package eventing

import (
	"context"
)

// Publisher writes events to outbox and triggers dispatch.
type Publisher struct {
	outbox   OutboxWriter
	dispatch *Dispatcher
}

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// NewPublisher constructs a publisher. A nil dispatcher only records events;
// transactional writers use that form and dispatch after commit.
func NewPublisher(outbox OutboxWriter, dispatch *Dispatcher) *Publisher {
	return &Publisher{outbox: outbox, dispatch: dispatch}
}

// Publish writes the events to outbox and triggers dispatch.
func (p *Publisher) Publish(ctx context.Context, events ...any) error {
	if p == nil || p.outbox == nil || len(events) == 0 {
		return nil
	}
	meta := MetaFromContext(ctx)
	for _, event := range events {
		env, err := BuildEnvelope(event, meta)
		if err != nil {
			return err
		}
		// Each event gets its own id; the context id only seeds the first.
		meta.EventID = ""
		if meta.CorrelationID == "" {
			meta.CorrelationID = env.CorrelationID
		}
		if _, err := p.outbox.Insert(ctx, env); err != nil {
			return err
		}
	}
	if p.dispatch != nil {
		_, _ = p.dispatch.Dispatch(ctx, len(events))
	}
	return nil
}
