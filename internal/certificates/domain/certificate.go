package certificates

import (
	"sort"
	"strings"
	"time"
)

// Status is the certificate publication status.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusScheduled Status = "SCHEDULED"
	StatusPublished Status = "PUBLISHED"
)

// Certificate is the aggregate root owning template, data source and mapping.
// Identity: id. Mutated only through its methods; each mutation returns the
// events to be written to the outbox with the new state.
type Certificate struct {
	id      string
	name    string
	ownerID string
	status  Status

	template   *Template
	dataSource *DataSource
	mapping    Mapping

	version   int
	createdAt time.Time
	updatedAt time.Time
}

// Snapshot is the persisted shape of a certificate.
type Snapshot struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	OwnerID    string      `json:"owner_id"`
	Status     Status      `json:"status"`
	Template   *Template   `json:"template"`
	DataSource *DataSource `json:"data_source"`
	Mapping    Mapping     `json:"variable_column_mapping"`
	Version    int         `json:"version"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// GenerationInput is the certificate-level input shared by every generated row.
type GenerationInput struct {
	CertificateID  string       `json:"certificate_id"`
	OwnerID        string       `json:"owner_id"`
	TemplateID     string       `json:"template_id"`
	SourceMethod   SourceMethod `json:"source_method"`
	StorageFileURL string       `json:"storage_file_url,omitempty"`
	RemoteFileID   string       `json:"remote_file_id,omitempty"`
	FileFormat     FileFormat   `json:"file_format"`
	Variables      []string     `json:"variables"`
	Columns        []Column     `json:"columns"`
	Mapping        Mapping      `json:"variable_column_mapping"`
}

// NewCertificate creates a draft certificate.
func NewCertificate(id, ownerID, name string, now time.Time) (*Certificate, []Event, error) {
	if id == "" {
		return nil, nil, Validation("certificate: empty id")
	}
	if ownerID == "" {
		return nil, nil, Validation("certificate: empty owner id")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, Validation("certificate: empty name")
	}
	now = now.UTC()
	c := &Certificate{
		id:        id,
		name:      name,
		ownerID:   ownerID,
		status:    StatusDraft,
		createdAt: now,
		updatedAt: now,
	}
	return c, []Event{CertificateCreated{CertificateID: id, OwnerID: ownerID, Name: name, OccurredAt: now}}, nil
}

// Rehydrate rebuilds a certificate from its persisted snapshot.
func Rehydrate(s Snapshot) (*Certificate, error) {
	c := &Certificate{
		id:         s.ID,
		name:       s.Name,
		ownerID:    s.OwnerID,
		status:     s.Status,
		template:   s.Template.clone(),
		dataSource: s.DataSource.clone(),
		mapping:    s.Mapping.Clone(),
		version:    s.Version,
		createdAt:  s.CreatedAt,
		updatedAt:  s.UpdatedAt,
	}
	if c.status == "" {
		c.status = StatusDraft
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Snapshot returns a detached copy of the certificate state.
func (c *Certificate) Snapshot() Snapshot {
	return Snapshot{
		ID:         c.id,
		Name:       c.name,
		OwnerID:    c.ownerID,
		Status:     c.status,
		Template:   c.template.clone(),
		DataSource: c.dataSource.clone(),
		Mapping:    c.mapping.Clone(),
		Version:    c.version,
		CreatedAt:  c.createdAt,
		UpdatedAt:  c.updatedAt,
	}
}

func (c *Certificate) ID() string              { return c.id }
func (c *Certificate) Name() string            { return c.name }
func (c *Certificate) OwnerID() string         { return c.ownerID }
func (c *Certificate) Status() Status          { return c.status }
func (c *Certificate) Version() int            { return c.version }
func (c *Certificate) CreatedAt() time.Time    { return c.createdAt }
func (c *Certificate) UpdatedAt() time.Time    { return c.updatedAt }
func (c *Certificate) Template() *Template     { return c.template.clone() }
func (c *Certificate) DataSource() *DataSource { return c.dataSource.clone() }
func (c *Certificate) Mapping() Mapping        { return c.mapping.Clone() }
func (c *Certificate) HasTemplate() bool       { return c.template != nil }
func (c *Certificate) HasDataSource() bool     { return c.dataSource != nil }

// MarkPersisted records the version assigned by the repository.
func (c *Certificate) MarkPersisted(version int) {
	if c != nil {
		c.version = version
	}
}

// EnsureOwner fails with Forbidden unless actorID owns the certificate.
func (c *Certificate) EnsureOwner(actorID string) error {
	if actorID == "" {
		return Authentication("missing actor")
	}
	if c.ownerID != actorID {
		return Forbidden("certificate %s is not owned by the caller", c.id)
	}
	return nil
}

// Validate checks the aggregate invariants.
func (c *Certificate) Validate() error {
	if c.id == "" {
		return Validation("certificate: empty id")
	}
	if c.ownerID == "" {
		return Validation("certificate: empty owner id")
	}
	switch c.status {
	case StatusDraft, StatusScheduled, StatusPublished:
	default:
		return Validation("certificate: unknown status %q", c.status)
	}
	if c.template == nil {
		if c.mapping != nil {
			return Validation("certificate: mapping without template")
		}
		return nil
	}
	if len(c.mapping) != len(c.template.Variables) {
		return Validation("certificate: mapping keys do not match template variables")
	}
	used := make(map[string]struct{}, len(c.mapping))
	for _, v := range c.template.Variables {
		column, ok := c.mapping[v]
		if !ok {
			return Validation("certificate: variable %q missing from mapping", v)
		}
		if column == "" {
			continue
		}
		if _, dup := used[column]; dup {
			return Validation("certificate: column %q mapped twice", column)
		}
		used[column] = struct{}{}
	}
	return nil
}

// Rename changes the display name.
func (c *Certificate) Rename(name string, now time.Time) ([]Event, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, Validation("certificate: empty name")
	}
	if name == c.name {
		return nil, nil
	}
	c.name = name
	c.touch(now)
	return []Event{CertificateRenamed{CertificateID: c.id, Name: name, OccurredAt: c.updatedAt}}, nil
}

// SetTemplate attaches or replaces the template and re-resolves the mapping
// against the current data-source columns.
func (c *Certificate) SetTemplate(t *Template, now time.Time) ([]Event, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	previous := c.template
	c.template = t.clone()
	c.touch(now)

	event := TemplateSet{
		CertificateID: c.id,
		TemplateID:    t.ID,
		FileFormat:    t.FileFormat,
		Variables:     append([]string(nil), t.Variables...),
		OccurredAt:    c.updatedAt,
	}
	if previous != nil {
		event.ReplacedTemplateID = previous.ID
		if previous.StorageFileURL != t.StorageFileURL {
			event.ReplacedStorageFileURL = previous.StorageFileURL
		}
	}
	events := []Event{event}
	return append(events, c.resolve()...), nil
}

// RemoveTemplate detaches the template and drops the mapping.
func (c *Certificate) RemoveTemplate(now time.Time) ([]Event, error) {
	if c.template == nil {
		return nil, NotFound("certificate %s has no template", c.id)
	}
	removed := c.template
	c.template = nil
	c.mapping = nil
	c.touch(now)
	return []Event{TemplateRemoved{
		CertificateID:  c.id,
		TemplateID:     removed.ID,
		StorageFileURL: removed.StorageFileURL,
		OccurredAt:     c.updatedAt,
	}}, nil
}

// SetDataSource attaches or replaces the data source and re-resolves the
// mapping against the current template variables.
func (c *Certificate) SetDataSource(d *DataSource, now time.Time) ([]Event, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	previous := c.dataSource
	c.dataSource = d.clone()
	c.touch(now)

	event := DataSourceSet{
		CertificateID: c.id,
		DataSourceID:  d.ID,
		Columns:       d.ColumnNames(),
		OccurredAt:    c.updatedAt,
	}
	if previous != nil {
		event.ReplacedDataSourceID = previous.ID
		if previous.StorageFileURL != d.StorageFileURL {
			event.ReplacedStorageFileURL = previous.StorageFileURL
		}
	}
	events := []Event{event}
	return append(events, c.resolve()...), nil
}

// RemoveDataSource detaches the data source; every mapping value becomes null
// while the variable keys stay.
func (c *Certificate) RemoveDataSource(now time.Time) ([]Event, error) {
	if c.dataSource == nil {
		return nil, NotFound("certificate %s has no data source", c.id)
	}
	removed := c.dataSource
	c.dataSource = nil
	c.touch(now)
	events := []Event{DataSourceRemoved{
		CertificateID:  c.id,
		DataSourceID:   removed.ID,
		StorageFileURL: removed.StorageFileURL,
		OccurredAt:     c.updatedAt,
	}}
	if c.mapping != nil {
		c.mapping = NullMapping(c.mapping)
		events = append(events, MappingResolved{CertificateID: c.id, Mapping: c.mapping.Clone(), OccurredAt: c.updatedAt})
	}
	return events, nil
}

// UpdateColumns replaces the declared columns. The mapping is re-resolved only
// when a column name was added or removed; a pure type change keeps it.
func (c *Certificate) UpdateColumns(columns []Column, now time.Time) ([]Event, error) {
	if c.dataSource == nil {
		return nil, NotFound("certificate %s has no data source", c.id)
	}
	if err := ValidateColumns(columns); err != nil {
		return nil, err
	}
	renamed := !sameNames(c.dataSource.ColumnNames(), columnNames(columns))
	c.dataSource.Columns = append([]Column(nil), columns...)
	c.touch(now)
	events := []Event{ColumnsUpdated{
		CertificateID: c.id,
		DataSourceID:  c.dataSource.ID,
		Columns:       append([]Column(nil), columns...),
		OccurredAt:    c.updatedAt,
	}}
	if renamed {
		events = append(events, c.resolve()...)
	}
	return events, nil
}

// GenerationInput captures the generation inputs once for a dispatch run.
func (c *Certificate) GenerationInput() (GenerationInput, error) {
	if c.template == nil {
		return GenerationInput{}, NotFound("certificate %s has no template", c.id)
	}
	if c.dataSource == nil {
		return GenerationInput{}, NotFound("certificate %s has no data source", c.id)
	}
	return GenerationInput{
		CertificateID:  c.id,
		OwnerID:        c.ownerID,
		TemplateID:     c.template.ID,
		SourceMethod:   c.template.SourceMethod,
		StorageFileURL: c.template.StorageFileURL,
		RemoteFileID:   c.template.RemoteFileID,
		FileFormat:     c.template.FileFormat,
		Variables:      append([]string(nil), c.template.Variables...),
		Columns:        append([]Column(nil), c.dataSource.Columns...),
		Mapping:        c.mapping.Clone(),
	}, nil
}

// MarkPublished moves the certificate to PUBLISHED.
func (c *Certificate) MarkPublished(now time.Time) []Event {
	return c.transition(StatusPublished, now)
}

// MarkScheduled moves a draft certificate to SCHEDULED. A published
// certificate stays published.
func (c *Certificate) MarkScheduled(now time.Time) []Event {
	if c.status != StatusDraft {
		return nil
	}
	return c.transition(StatusScheduled, now)
}

// RevertToDraft returns the certificate to an editable state.
func (c *Certificate) RevertToDraft(now time.Time) []Event {
	return c.transition(StatusDraft, now)
}

func (c *Certificate) transition(to Status, now time.Time) []Event {
	if c.status == to {
		return nil
	}
	from := c.status
	c.status = to
	c.touch(now)
	return []Event{StatusChanged{CertificateID: c.id, From: from, To: to, OccurredAt: c.updatedAt}}
}

func (c *Certificate) resolve() []Event {
	if c.template == nil {
		c.mapping = nil
		return nil
	}
	next := ResolveMapping(c.template.Variables, c.dataSource.ColumnNames(), c.mapping)
	if mappingsEqual(c.mapping, next) {
		c.mapping = next
		return nil
	}
	c.mapping = next
	return []Event{MappingResolved{CertificateID: c.id, Mapping: next.Clone(), OccurredAt: c.updatedAt}}
}

func (c *Certificate) touch(now time.Time) {
	c.updatedAt = now.UTC()
}

func mappingsEqual(a, b Mapping) bool {
	if (a == nil) != (b == nil) || len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if other, ok := b[k]; !ok || other != v {
			return false
		}
	}
	return true
}

func columnNames(columns []Column) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return names
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
