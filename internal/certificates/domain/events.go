package certificates

import "time"

// Event is a domain event produced by a certificate mutation. Mutations return
// their events; the caller hands them to the outbox inside the same transaction.
type Event interface {
	AggregateID() string
}

// CertificateCreated is emitted when an owner creates a certificate.
type CertificateCreated struct {
	CertificateID string    `json:"certificate_id"`
	OwnerID       string    `json:"owner_id"`
	Name          string    `json:"name"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// CertificateRenamed is emitted when the certificate name changes.
type CertificateRenamed struct {
	CertificateID string    `json:"certificate_id"`
	Name          string    `json:"name"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// CertificateDeleted is emitted when a certificate is deleted.
type CertificateDeleted struct {
	CertificateID   string    `json:"certificate_id"`
	OwnerID         string    `json:"owner_id"`
	StorageFileURLs []string  `json:"storage_file_urls,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// TemplateSet is emitted when a template is attached or replaced.
type TemplateSet struct {
	CertificateID          string     `json:"certificate_id"`
	TemplateID             string     `json:"template_id"`
	FileFormat             FileFormat `json:"file_format"`
	Variables              []string   `json:"variables"`
	ReplacedTemplateID     string     `json:"replaced_template_id,omitempty"`
	ReplacedStorageFileURL string     `json:"replaced_storage_file_url,omitempty"`
	OccurredAt             time.Time  `json:"occurred_at"`
}

// TemplateRemoved is emitted when the template is detached.
type TemplateRemoved struct {
	CertificateID  string    `json:"certificate_id"`
	TemplateID     string    `json:"template_id"`
	StorageFileURL string    `json:"storage_file_url,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// DataSourceSet is emitted when a data source is attached or replaced.
type DataSourceSet struct {
	CertificateID          string    `json:"certificate_id"`
	DataSourceID           string    `json:"data_source_id"`
	Columns                []string  `json:"columns"`
	ReplacedDataSourceID   string    `json:"replaced_data_source_id,omitempty"`
	ReplacedStorageFileURL string    `json:"replaced_storage_file_url,omitempty"`
	OccurredAt             time.Time `json:"occurred_at"`
}

// DataSourceRemoved is emitted when the data source is detached.
type DataSourceRemoved struct {
	CertificateID  string    `json:"certificate_id"`
	DataSourceID   string    `json:"data_source_id"`
	StorageFileURL string    `json:"storage_file_url,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// ColumnsUpdated is emitted when column types or names are changed.
type ColumnsUpdated struct {
	CertificateID string    `json:"certificate_id"`
	DataSourceID  string    `json:"data_source_id"`
	Columns       []Column  `json:"columns"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// MappingResolved is emitted whenever the variable mapping changes.
type MappingResolved struct {
	CertificateID string    `json:"certificate_id"`
	Mapping       Mapping   `json:"mapping"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// StatusChanged is emitted on certificate status transitions.
type StatusChanged struct {
	CertificateID string    `json:"certificate_id"`
	From          Status    `json:"from"`
	To            Status    `json:"to"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// RowsIngested is emitted after a data source's rows were stored.
type RowsIngested struct {
	CertificateID string    `json:"certificate_id"`
	DataSetID     string    `json:"data_set_id"`
	Rows          int       `json:"rows"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// GenerationDispatched is emitted after a batch of generation tasks was queued.
type GenerationDispatched struct {
	CertificateID string    `json:"certificate_id"`
	Requested     int       `json:"requested"`
	Dispatched    int       `json:"dispatched"`
	Retry         bool      `json:"retry"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// EmailCreated is emitted when an email batch is recorded.
type EmailCreated struct {
	CertificateID string     `json:"certificate_id"`
	EmailID       string     `json:"email_id"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

func (e CertificateCreated) AggregateID() string   { return e.CertificateID }
func (e CertificateRenamed) AggregateID() string   { return e.CertificateID }
func (e CertificateDeleted) AggregateID() string   { return e.CertificateID }
func (e TemplateSet) AggregateID() string          { return e.CertificateID }
func (e TemplateRemoved) AggregateID() string      { return e.CertificateID }
func (e DataSourceSet) AggregateID() string        { return e.CertificateID }
func (e DataSourceRemoved) AggregateID() string    { return e.CertificateID }
func (e ColumnsUpdated) AggregateID() string       { return e.CertificateID }
func (e MappingResolved) AggregateID() string      { return e.CertificateID }
func (e StatusChanged) AggregateID() string        { return e.CertificateID }
func (e RowsIngested) AggregateID() string         { return e.CertificateID }
func (e GenerationDispatched) AggregateID() string { return e.CertificateID }
func (e EmailCreated) AggregateID() string         { return e.CertificateID }

// AllEvents lists one sample of every event type, for decoder registries.
func AllEvents() []Event {
	return []Event{
		CertificateCreated{},
		CertificateRenamed{},
		CertificateDeleted{},
		TemplateSet{},
		TemplateRemoved{},
		DataSourceSet{},
		DataSourceRemoved{},
		ColumnsUpdated{},
		MappingResolved{},
		StatusChanged{},
		RowsIngested{},
		GenerationDispatched{},
		EmailCreated{},
	}
}
