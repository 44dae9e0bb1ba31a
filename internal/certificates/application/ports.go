package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	certificates "certgen-cloud/internal/certificates/domain"
)

// EventPublisher appends domain events to the outbox.
type EventPublisher interface {
	Publish(ctx context.Context, events ...any) error
}

// Stores groups the repositories of one unit of work.
type Stores struct {
	Certificates certificates.CertificateRepository
	Rows         certificates.RowRepository
	DataSets     certificates.DataSetRepository
	Emails       certificates.EmailRepository
	Events       EventPublisher
}

// UnitOfWork runs fn inside one transaction. Stores passed to fn are bound to
// that transaction; any error returned by fn rolls everything back.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// GenerationTask is the payload for one row's document generation.
type GenerationTask struct {
	CertificateID string                       `json:"certificate_id"`
	RowID         string                       `json:"row_id"`
	Input         certificates.GenerationInput `json:"input"`
	Data          map[string]any               `json:"data"`
	OutputKey     string                       `json:"output_key"`
}

// EmailTask is the payload for one email batch.
type EmailTask struct {
	EmailID       string     `json:"email_id"`
	CertificateID string     `json:"certificate_id"`
	Sender        string     `json:"sender"`
	Subject       string     `json:"subject"`
	Body          string     `json:"body"`
	Recipients    []string   `json:"recipients"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
}

// TaskQueue hands work to the external rendering and mailing workers.
type TaskQueue interface {
	EnqueueGeneration(ctx context.Context, task GenerationTask) error
	EnqueueEmail(ctx context.Context, task EmailTask) error
}

// ObjectStore keeps uploaded originals and generated documents.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// RemoteFile is the document host metadata of a picked file.
type RemoteFile struct {
	ID        string
	Name      string
	Format    certificates.FileFormat
	Thumbnail string
	// Native marks host-native documents that are exported rather than downloaded.
	Native bool
}

// DocumentHost reads files from the owner's remote document storage.
type DocumentHost interface {
	FileIDFromURL(rawURL string) (string, error)
	Metadata(ctx context.Context, fileID string) (RemoteFile, error)
	Download(ctx context.Context, file RemoteFile) ([]byte, error)
}

// Table is the tabular content of a data-source file.
type Table struct {
	Columns []string
	Rows    []map[string]string
}

// ContentExtractor reads text and tables out of document bytes.
type ContentExtractor interface {
	ExtractText(data []byte, format certificates.FileFormat) (string, error)
	ExtractTable(data []byte, format certificates.FileFormat) (Table, error)
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator issues entity ids.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues time-ordered UUIDv7 ids, so ascending-id row cursors
// follow insertion order.
type UUIDGenerator struct{}

// NewID returns a new UUIDv7 string.
func (UUIDGenerator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func publish(ctx context.Context, p EventPublisher, events []certificates.Event) error {
	if p == nil || len(events) == 0 {
		return nil
	}
	payloads := make([]any, len(events))
	for i, e := range events {
		payloads[i] = e
	}
	return p.Publish(ctx, payloads...)
}
