package certificates

import (
	"context"
	"time"
)

// DefaultPageSize is the row page size used by paginated scans.
const DefaultPageSize = 100

// CertificateRepository persists certificates. Get returns nil, nil when the
// certificate does not exist.
type CertificateRepository interface {
	Get(ctx context.Context, id string) (*Certificate, error)
	Create(ctx context.Context, c *Certificate) error
	// Update writes c when its stored version still equals c.Version() and
	// advances the version; a stale version fails with ErrConflict.
	Update(ctx context.Context, c *Certificate) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*Certificate, error)
}

// RowQuery selects a page of rows ordered by ascending id.
type RowQuery struct {
	CertificateID string
	Status        ProcessingStatus
	AfterID       string
	Limit         int
}

// ColumnValue is one stored cell of a column: its typed value and the text
// it was ingested from. Cells of columns added after ingestion are blank.
type ColumnValue struct {
	RowID string
	Value any
	Raw   string
}

// RowRepository persists data-source rows. Get returns nil, nil when the row
// does not exist.
type RowRepository interface {
	InsertBatch(ctx context.Context, rows []*DataSourceRow) error
	DeleteByCertificate(ctx context.Context, certificateID string) error
	Get(ctx context.Context, id string) (*DataSourceRow, error)
	// Count counts rows of a certificate; an empty status counts every row.
	Count(ctx context.Context, certificateID string, status ProcessingStatus) (int, error)
	ListPage(ctx context.Context, q RowQuery) ([]*DataSourceRow, error)
	ListColumnValues(ctx context.Context, certificateID, column string) ([]ColumnValue, error)
	// UpdateColumnValues rewrites the typed values of one column and leaves
	// the ingested text untouched.
	UpdateColumnValues(ctx context.Context, certificateID, column string, values []ColumnValue) error
	// DropColumn removes a column's cells, typed and raw, from every row of
	// the certificate.
	DropColumn(ctx context.Context, certificateID, column string) error
	// UpdateStatus moves the listed rows that are still in from to to, and
	// leaves rows that changed status meanwhile untouched.
	UpdateStatus(ctx context.Context, ids []string, from, to ProcessingStatus, now time.Time) error
	Save(ctx context.Context, row *DataSourceRow) error
}

// DataSetRepository persists data sets. Get and Latest return nil, nil when
// nothing matches.
type DataSetRepository interface {
	Create(ctx context.Context, d *DataSet) error
	Get(ctx context.Context, id string) (*DataSet, error)
	Latest(ctx context.Context, certificateID string) (*DataSet, error)
	Save(ctx context.Context, d *DataSet) error
	DeleteByCertificate(ctx context.Context, certificateID string) error
}

// EmailRepository persists emails. Get returns nil, nil when the email does
// not exist.
type EmailRepository interface {
	Create(ctx context.Context, e *Email) error
	Get(ctx context.Context, id string) (*Email, error)
	Save(ctx context.Context, e *Email) error
	ListByCertificate(ctx context.Context, certificateID string) ([]*Email, error)
	DeleteByCertificate(ctx context.Context, certificateID string) error
}
