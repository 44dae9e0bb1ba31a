package eventing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certgen-cloud/internal/eventing"
)

type rowQueued struct {
	RowID      string    `json:"row_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e rowQueued) AggregateID() string { return e.RowID }

type harness struct {
	bus        *eventing.InMemoryBus
	outbox     *eventing.MemoryOutbox
	registry   *eventing.Registry
	dlq        *eventing.MemoryDLQ
	dispatcher *eventing.Dispatcher
	publisher  *eventing.Publisher
}

func newHarness() *harness {
	h := &harness{
		bus:      eventing.NewInMemoryBus(),
		outbox:   eventing.NewMemoryOutbox(),
		registry: eventing.NewRegistry(),
		dlq:      &eventing.MemoryDLQ{},
	}
	h.registry.Register(rowQueued{})
	h.dispatcher = eventing.NewDispatcher(h.bus, h.outbox, h.registry, h.dlq, nil)
	h.publisher = eventing.NewPublisher(h.outbox, h.dispatcher)
	return h
}

func TestEventing_IdempotentConsumer(t *testing.T) {
	h := newHarness()
	processed := eventing.NewMemoryProcessedStore()

	calls := 0
	eventing.Subscribe(h.bus, eventing.EventTypeOf[rowQueued](), "counter", func(ctx context.Context, event any) error {
		calls++
		return nil
	}, processed)

	ctx := eventing.WithEventID(context.Background(), "evt-1")
	event := rowQueued{RowID: "row-1", OccurredAt: time.Now().UTC()}
	require.NoError(t, h.publisher.Publish(ctx, event))
	require.NoError(t, h.publisher.Publish(ctx, event))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, h.outbox.Pending())
	assert.Len(t, h.outbox.Envelopes(), 2)

	seen, err := processed.HasProcessed(context.Background(), "evt-1", "counter")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestEventing_EnvelopeCarriesContextMetadata(t *testing.T) {
	h := newHarness()

	var got []eventing.Envelope
	h.bus.Subscribe(eventing.EventTypeOf[rowQueued](), func(ctx context.Context, event any) error {
		env, ok := eventing.EnvelopeFromContext(ctx)
		require.True(t, ok)
		got = append(got, env)
		_, isRow := event.(rowQueued)
		assert.True(t, isRow)
		return nil
	})

	ctx := eventing.WithActorID(context.Background(), "owner-1")
	ctx = eventing.WithCorrelationID(ctx, "req-9")
	require.NoError(t, h.publisher.Publish(ctx, rowQueued{RowID: "row-1"}, rowQueued{RowID: "row-2"}))

	require.Len(t, got, 2)
	for _, env := range got {
		assert.Equal(t, "owner-1", env.ActorID)
		assert.Equal(t, "req-9", env.CorrelationID)
		assert.Equal(t, 1, env.SchemaVersion)
	}
	assert.Equal(t, "row-1", got[0].AggregateID)
	assert.Equal(t, "row-2", got[1].AggregateID)
	assert.NotEqual(t, got[0].EventID, got[1].EventID)
}

func TestEventing_BatchSharesCorrelation(t *testing.T) {
	h := newHarness()
	ctx := eventing.WithEventID(context.Background(), "evt-a")
	require.NoError(t, h.publisher.Publish(ctx, rowQueued{RowID: "row-1"}, rowQueued{RowID: "row-2"}))

	envs := h.outbox.Envelopes()
	require.Len(t, envs, 2)
	assert.Equal(t, "evt-a", envs[0].EventID)
	assert.NotEqual(t, "evt-a", envs[1].EventID)
	assert.Equal(t, "evt-a", envs[0].CorrelationID)
	assert.Equal(t, "evt-a", envs[1].CorrelationID)
}

func TestEventing_HandlerFailureGoesToDLQ(t *testing.T) {
	h := newHarness()
	processed := eventing.NewMemoryProcessedStore()
	eventing.Subscribe(h.bus, eventing.EventTypeOf[rowQueued](), "broken", func(context.Context, any) error {
		return errors.New("boom")
	}, processed)

	ctx := eventing.WithEventID(context.Background(), "evt-2")
	require.NoError(t, h.publisher.Publish(ctx, rowQueued{RowID: "row-1"}))

	assert.Equal(t, 1, h.dlq.Len())
	assert.Equal(t, 0, h.outbox.Pending())
	assert.Equal(t, []string{"boom"}, h.outbox.Failures())
	seen, err := processed.HasProcessed(context.Background(), "evt-2", "broken")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestEventing_UnknownEventType(t *testing.T) {
	h := newHarness()
	assert.True(t, h.registry.Known(eventing.EventTypeOf[rowQueued]()))
	assert.False(t, h.registry.Known("certificates.Unknown"))

	_, err := h.outbox.Insert(context.Background(), eventing.Envelope{
		EventID:   "evt-3",
		EventType: "certificates.Unknown",
		Payload:   []byte(`{}`),
	})
	require.NoError(t, err)

	sent, err := h.dispatcher.Dispatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, h.dlq.Len())

	_, err = h.registry.DecodePayload(eventing.Envelope{EventType: "certificates.Unknown"})
	assert.Error(t, err)
}

func TestEventing_PublishWithoutEvents(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.publisher.Publish(context.Background()))
	assert.Empty(t, h.outbox.Envelopes())

	var nilPublisher *eventing.Publisher
	assert.NoError(t, nilPublisher.Publish(context.Background(), rowQueued{}))
}

func TestEventing_BusRejectsNilEvent(t *testing.T) {
	bus := eventing.NewInMemoryBus()
	assert.ErrorIs(t, bus.Publish(context.Background(), nil), eventing.ErrNilEvent)
}
