package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func certificateRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_id", "name", "status", "template", "data_source", "variable_column_mapping", "version", "created_at", "updated_at",
	})
}

func TestCertificateRepository_CreateSetsVersion(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCertificateRepository(db)
	c, _, err := certificates.NewCertificate("c1", "u1", "Course", testNow)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO certificates").
		WithArgs("c1", "u1", "Course", "DRAFT", nil, nil, nil, testNow, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), c))
	assert.Equal(t, 1, c.Version())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepository_CreateDuplicateIsConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCertificateRepository(db)
	c, _, err := certificates.NewCertificate("c1", "u1", "Course", testNow)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO certificates").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = repo.Create(context.Background(), c)
	assert.ErrorIs(t, err, certificates.ErrConflict)
}

func TestCertificateRepository_GetDecodesParts(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCertificateRepository(db)

	template := []byte(`{"id":"t1","source_method":"UPLOAD","storage_file_url":"users/u1/templates/t1-original.docx","file_name":"t.docx","file_format":"docx","variables":["name","email"]}`)
	dataSource := []byte(`{"id":"d1","source_method":"UPLOAD","storage_file_url":"users/u1/data/d1.csv","file_name":"p.csv","file_format":"csv","columns":[{"name":"Name","type":"string"}]}`)
	mapping := []byte(`{"name":"Name","email":null}`)
	mock.ExpectQuery("SELECT id, owner_id").
		WithArgs("c1").
		WillReturnRows(certificateRow().AddRow("c1", "u1", "Course", "DRAFT", template, dataSource, mapping, 3, testNow, testNow))

	c, err := repo.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 3, c.Version())
	assert.Equal(t, []string{"name", "email"}, c.Template().Variables)
	assert.Equal(t, certificates.Mapping{"name": "Name", "email": ""}, c.Mapping())
	assert.Equal(t, []string{"Name"}, c.DataSource().ColumnNames())
}

func TestCertificateRepository_GetMissingReturnsNil(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCertificateRepository(db)
	mock.ExpectQuery("SELECT id, owner_id").WithArgs("nope").WillReturnRows(certificateRow())

	c, err := repo.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestCertificateRepository_UpdateChecksVersion(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCertificateRepository(db)
	c, err := certificates.Rehydrate(certificates.Snapshot{ID: "c1", OwnerID: "u1", Name: "Course", Status: certificates.StatusDraft, Version: 2, CreatedAt: testNow, UpdatedAt: testNow})
	require.NoError(t, err)

	mock.ExpectExec("UPDATE certificates").
		WithArgs("c1", 2, "Course", "DRAFT", nil, nil, nil, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(context.Background(), c))
	assert.Equal(t, 3, c.Version())

	mock.ExpectExec("UPDATE certificates").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	err = repo.Update(context.Background(), c)
	assert.ErrorIs(t, err, certificates.ErrConflict)

	mock.ExpectExec("UPDATE certificates").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	err = repo.Update(context.Background(), c)
	assert.ErrorIs(t, err, certificates.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepository_ListByOwner(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCertificateRepository(db)
	mock.ExpectQuery("SELECT id, owner_id").WithArgs("u1").
		WillReturnRows(certificateRow().
			AddRow("c2", "u1", "Second", "PUBLISHED", nil, nil, nil, 1, testNow, testNow).
			AddRow("c1", "u1", "First", "DRAFT", nil, nil, nil, 4, testNow, testNow))

	list, err := repo.ListByOwner(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].ID())
	assert.Equal(t, certificates.StatusPublished, list[0].Status())
}

func rowColumnsList() []string {
	return []string{"id", "certificate_id", "data", "raw_data", "byte_size", "processing_status", "created_at", "updated_at"}
}

func TestRowRepository_InsertBatchSingleStatement(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRowRepository(db)
	rows := []*certificates.DataSourceRow{
		{ID: "r1", CertificateID: "c1", Data: map[string]any{"Name": "Ana"}, Raw: map[string]string{"Name": "Ana"}, ProcessingStatus: certificates.ProcessingPending, CreatedAt: testNow, UpdatedAt: testNow},
		{ID: "r2", CertificateID: "c1", Data: map[string]any{"Name": "Bo"}, ProcessingStatus: certificates.ProcessingPending, CreatedAt: testNow, UpdatedAt: testNow},
	}
	mock.ExpectExec("INSERT INTO data_source_rows").
		WithArgs("r1", "c1", []byte(`{"Name":"Ana"}`), []byte(`{"Name":"Ana"}`), nil, "PENDING", testNow, testNow,
			"r2", "c1", []byte(`{"Name":"Bo"}`), []byte(`{}`), nil, "PENDING", testNow, testNow).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.InsertBatch(context.Background(), rows))
	require.NoError(t, repo.InsertBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowRepository_ListPageFilters(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRowRepository(db)
	mock.ExpectQuery("SELECT id, certificate_id, data").
		WithArgs("c1", "FAILED", "r1", 100).
		WillReturnRows(sqlmock.NewRows(rowColumnsList()).
			AddRow("r2", "c1", []byte(`{"Name":"Bo","Age":42}`), []byte(`{"Name":"Bo","Age":"42"}`), int64(120), "FAILED", testNow, testNow))

	page, err := repo.ListPage(context.Background(), certificates.RowQuery{
		CertificateID: "c1",
		Status:        certificates.ProcessingFailed,
		AfterID:       "r1",
		Limit:         100,
	})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "r2", page[0].ID)
	assert.Equal(t, 42.0, page[0].Data["Age"])
	assert.Equal(t, "42", page[0].Raw["Age"])
	require.NotNil(t, page[0].ByteSize)
	assert.Equal(t, int64(120), *page[0].ByteSize)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowRepository_Count(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRowRepository(db)
	mock.ExpectQuery("SELECT COUNT").WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery("SELECT COUNT").WithArgs("c1", "FAILED").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.Count(context.Background(), "c1", "")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	n, err = repo.Count(context.Background(), "c1", certificates.ProcessingFailed)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRowRepository_ListColumnValues(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRowRepository(db)
	mock.ExpectQuery("SELECT id, data").WithArgs("c1", "Age").
		WillReturnRows(sqlmock.NewRows([]string{"id", "value", "raw"}).
			AddRow("r1", []byte(`"42"`), "42").
			AddRow("r2", nil, nil).
			AddRow("r3", []byte(`7.5`), "7.50"))

	values, err := repo.ListColumnValues(context.Background(), "c1", "Age")
	require.NoError(t, err)
	assert.Equal(t, []certificates.ColumnValue{
		{RowID: "r1", Value: "42", Raw: "42"},
		{RowID: "r2", Value: nil, Raw: ""},
		{RowID: "r3", Value: 7.5, Raw: "7.50"},
	}, values)
}

func TestRowRepository_UpdateColumnValuesAndDrop(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRowRepository(db)
	mock.ExpectExec("UPDATE data_source_rows").
		WithArgs("r1", "c1", "Age", []byte(`42`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE data_source_rows").
		WithArgs("r2", "c1", "Age", []byte(`null`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE data_source_rows").
		WithArgs("c1", "Old").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.UpdateColumnValues(context.Background(), "c1", "Age", []certificates.ColumnValue{
		{RowID: "r1", Value: 42.0},
		{RowID: "r2", Value: nil},
	}))
	require.NoError(t, repo.DropColumn(context.Background(), "c1", "Old"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowRepository_UpdateStatusGuardsFrom(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRowRepository(db)

	require.NoError(t, repo.UpdateStatus(context.Background(), nil, certificates.ProcessingFailed, certificates.ProcessingRetrying, testNow))

	mock.ExpectExec("UPDATE data_source_rows").
		WithArgs("RETRYING", testNow, sqlmock.AnyArg(), "FAILED").
		WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, repo.UpdateStatus(context.Background(), []string{"r1", "r2"}, certificates.ProcessingFailed, certificates.ProcessingRetrying, testNow))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowRepository_SaveMissingIsNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRowRepository(db)
	mock.ExpectExec("UPDATE data_source_rows").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Save(context.Background(), &certificates.DataSourceRow{ID: "r9", Data: map[string]any{}})
	assert.ErrorIs(t, err, certificates.ErrNotFound)
}

func TestDataSetRepository_LatestAndSave(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDataSetRepository(db)
	mock.ExpectQuery("SELECT id, certificate_id, data_source_id").WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "certificate_id", "data_source_id", "generation_status", "total_bytes", "rows", "created_at", "updated_at"}).
			AddRow("ds1", "c1", "d1", "PENDING", int64(0), []byte(`[{"Name":"Ana"}]`), testNow, testNow))

	d, err := repo.Latest(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, []map[string]string{{"Name": "Ana"}}, d.Rows)

	require.NoError(t, d.Finish(certificates.GenerationCompleted, 2048, testNow))
	mock.ExpectExec("UPDATE data_sets").
		WithArgs("ds1", "COMPLETED", int64(2048), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Save(context.Background(), d))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailRepository_RoundTrip(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEmailRepository(db)
	at := testNow.Add(time.Hour)
	email := &certificates.Email{
		ID: "e1", CertificateID: "c1", Subject: "Hi", Body: "Body", RecipientColumn: "E-mail",
		ScheduledAt: &at, ProcessingStatus: certificates.ProcessingPending, CreatedAt: testNow, UpdatedAt: testNow,
	}
	mock.ExpectExec("INSERT INTO emails").
		WithArgs("e1", "c1", "Hi", "Body", "E-mail", sqlmock.AnyArg(), "PENDING", "", testNow, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(context.Background(), email))

	mock.ExpectQuery("SELECT id, certificate_id, subject").WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "certificate_id", "subject", "body", "recipient_column", "scheduled_at", "processing_status", "error_type", "created_at", "updated_at"}).
			AddRow("e1", "c1", "Hi", "Body", "E-mail", at, "FAILED", "DISPATCH_ERROR", testNow, testNow).
			AddRow("e2", "c1", "Again", "Body", "E-mail", nil, "COMPLETED", "", testNow, testNow))

	list, err := repo.ListByCertificate(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[0].ScheduledAt)
	assert.True(t, list[0].ScheduledAt.Equal(at))
	assert.Equal(t, certificates.ErrorTypeDispatch, list[0].ErrorType)
	assert.Nil(t, list[1].ScheduledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_CommitsWithOutbox(t *testing.T) {
	db, mock := newMock(t)
	uow := NewUnitOfWork(db, nil, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO certificates").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO event_outbox").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := uow.Do(context.Background(), func(ctx context.Context, s application.Stores) error {
		c, events, err := certificates.NewCertificate("c1", "u1", "Course", testNow)
		if err != nil {
			return err
		}
		if err := s.Certificates.Create(ctx, c); err != nil {
			return err
		}
		return s.Events.Publish(ctx, events[0])
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_RollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	uow := NewUnitOfWork(db, nil, nil)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM data_source_rows").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectRollback()

	err := uow.Do(context.Background(), func(ctx context.Context, s application.Stores) error {
		if err := s.Rows.DeleteByCertificate(ctx, "c1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
