package memory

import (
	"context"
	"sync"

	"certgen-cloud/internal/certificates/application"
)

// UnitOfWork runs functions against the store one at a time. A failed
// function restores the state it started from; events it published are
// handed to the publisher only after success.
type UnitOfWork struct {
	store     *Store
	publisher application.EventPublisher
}

// NewUnitOfWork constructs a unit of work. publisher may be nil.
func NewUnitOfWork(store *Store, publisher application.EventPublisher) *UnitOfWork {
	return &UnitOfWork{store: store, publisher: publisher}
}

// Do implements application.UnitOfWork.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, s application.Stores) error) error {
	buffer := &eventBuffer{}
	if err := u.run(ctx, buffer, fn); err != nil {
		return err
	}
	if u.publisher == nil || len(buffer.events) == 0 {
		return nil
	}
	return u.publisher.Publish(ctx, buffer.events...)
}

// run holds the transaction lock for the duration of fn. The saved state is
// restored unless fn returns nil, including when fn panics.
func (u *UnitOfWork) run(ctx context.Context, buffer *eventBuffer, fn func(ctx context.Context, s application.Stores) error) error {
	u.store.txMu.Lock()
	defer u.store.txMu.Unlock()

	u.store.mu.RLock()
	saved := u.store.state.clone()
	u.store.mu.RUnlock()

	committed := false
	defer func() {
		if committed {
			return
		}
		u.store.mu.Lock()
		u.store.state = saved
		u.store.mu.Unlock()
	}()

	if err := fn(ctx, u.store.Stores(buffer)); err != nil {
		return err
	}
	committed = true
	return nil
}

type eventBuffer struct {
	mu     sync.Mutex
	events []any
}

func (b *eventBuffer) Publish(_ context.Context, events ...any) error {
	b.mu.Lock()
	b.events = append(b.events, events...)
	b.mu.Unlock()
	return nil
}

// Recorder collects published events for inspection.
type Recorder struct {
	mu     sync.Mutex
	events []any
}

// Publish records the events.
func (r *Recorder) Publish(_ context.Context, events ...any) error {
	r.mu.Lock()
	r.events = append(r.events, events...)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events...)
}
