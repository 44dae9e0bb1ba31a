package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certgen-cloud/internal/eventing"
)

func TestOutboxStore_InsertAndListPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewOutboxStore(db)
	ctx := context.Background()

	env := eventing.Envelope{EventID: "ev-1", EventType: "certificates.CertificateCreated", AggregateID: "c1"}
	mock.ExpectExec("INSERT INTO event_outbox").
		WithArgs(sqlmock.AnyArg(), "ev-1", "certificates.CertificateCreated", "c1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	id, err := store.Insert(ctx, env)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	payload, err := json.Marshal(env)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT id, payload").WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload"}).AddRow(id, payload))
	records, err := store.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ev-1", records[0].Envelope.EventID)

	mock.ExpectExec("UPDATE event_outbox").WithArgs(sqlmock.AnyArg(), id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.MarkSent(ctx, id))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxStore_MarkFailedKeepsCause(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewOutboxStore(db, WithOutboxTable("events"))

	mock.ExpectExec("UPDATE events").WithArgs("decode failed", "ob-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.MarkFailed(context.Background(), "ob-1", errors.New("decode failed")))

	mock.ExpectExec("UPDATE events").WithArgs(sqlmock.AnyArg(), "ob-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.Error(t, store.MarkSent(context.Background(), "ob-2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxStore_InsertRejectsIncompleteEnvelope(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewOutboxStore(db).Insert(context.Background(), eventing.Envelope{EventID: "ev-1"})
	assert.Error(t, err)
}

func TestOutboxStore_PurgeSent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	cutoff := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM event_outbox").WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := NewOutboxStore(db).PurgeSent(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
