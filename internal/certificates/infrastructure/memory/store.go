// Package memory keeps certificate state in process. It backs tests and
// local runs without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
)

type state struct {
	certificates map[string]certificates.Snapshot
	rows         map[string]*certificates.DataSourceRow
	dataSets     map[string]*certificates.DataSet
	emails       map[string]*certificates.Email
}

func newState() state {
	return state{
		certificates: make(map[string]certificates.Snapshot),
		rows:         make(map[string]*certificates.DataSourceRow),
		dataSets:     make(map[string]*certificates.DataSet),
		emails:       make(map[string]*certificates.Email),
	}
}

func (s state) clone() state {
	out := newState()
	// Stored snapshots are replaced on write and never mutated in place.
	for id, snap := range s.certificates {
		out.certificates[id] = snap
	}
	for id, row := range s.rows {
		out.rows[id] = row.Clone()
	}
	for id, d := range s.dataSets {
		out.dataSets[id] = cloneDataSet(d)
	}
	for id, e := range s.emails {
		out.emails[id] = e.Clone()
	}
	return out
}

// Store holds every certificate entity behind one lock.
type Store struct {
	mu    sync.RWMutex
	state state

	txMu sync.Mutex
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// Stores returns repositories over the store. events receives published
// events; it may be nil.
func (s *Store) Stores(events application.EventPublisher) application.Stores {
	return application.Stores{
		Certificates: &CertificateRepository{store: s},
		Rows:         &RowRepository{store: s},
		DataSets:     &DataSetRepository{store: s},
		Emails:       &EmailRepository{store: s},
		Events:       events,
	}
}

// CertificateRepository is the in-memory certificate repository.
type CertificateRepository struct {
	store *Store
}

// Get loads a certificate.
func (r *CertificateRepository) Get(_ context.Context, id string) (*certificates.Certificate, error) {
	r.store.mu.RLock()
	snap, ok := r.store.state.certificates[id]
	r.store.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return certificates.Rehydrate(snap)
}

// Create inserts a new certificate at version 1.
func (r *CertificateRepository) Create(_ context.Context, c *certificates.Certificate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.state.certificates[c.ID()]; exists {
		return certificates.Conflict("certificate %s already exists", c.ID())
	}
	c.MarkPersisted(1)
	r.store.state.certificates[c.ID()] = c.Snapshot()
	return nil
}

// Update writes c when the stored version matches.
func (r *CertificateRepository) Update(_ context.Context, c *certificates.Certificate) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	stored, ok := r.store.state.certificates[c.ID()]
	if !ok {
		return certificates.NotFound("certificate %s not found", c.ID())
	}
	if stored.Version != c.Version() {
		return certificates.Conflict("certificate %s was modified concurrently", c.ID())
	}
	c.MarkPersisted(c.Version() + 1)
	r.store.state.certificates[c.ID()] = c.Snapshot()
	return nil
}

// Delete removes a certificate.
func (r *CertificateRepository) Delete(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.state.certificates, id)
	return nil
}

// ListByOwner returns the owner's certificates, newest first.
func (r *CertificateRepository) ListByOwner(_ context.Context, ownerID string) ([]*certificates.Certificate, error) {
	r.store.mu.RLock()
	var snaps []certificates.Snapshot
	for _, snap := range r.store.state.certificates {
		if snap.OwnerID == ownerID {
			snaps = append(snaps, snap)
		}
	}
	r.store.mu.RUnlock()
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID > snaps[j].ID
		}
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	out := make([]*certificates.Certificate, 0, len(snaps))
	for _, snap := range snaps {
		c, err := certificates.Rehydrate(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// RowRepository is the in-memory row repository.
type RowRepository struct {
	store *Store
}

// InsertBatch stores rows.
func (r *RowRepository) InsertBatch(_ context.Context, rows []*certificates.DataSourceRow) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, row := range rows {
		if _, exists := r.store.state.rows[row.ID]; exists {
			return certificates.Conflict("row %s already exists", row.ID)
		}
	}
	for _, row := range rows {
		r.store.state.rows[row.ID] = row.Clone()
	}
	return nil
}

// DeleteByCertificate removes every row of a certificate.
func (r *RowRepository) DeleteByCertificate(_ context.Context, certificateID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, row := range r.store.state.rows {
		if row.CertificateID == certificateID {
			delete(r.store.state.rows, id)
		}
	}
	return nil
}

// Get loads one row.
func (r *RowRepository) Get(_ context.Context, id string) (*certificates.DataSourceRow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	row, ok := r.store.state.rows[id]
	if !ok {
		return nil, nil
	}
	return row.Clone(), nil
}

// Count counts rows of a certificate, optionally by status.
func (r *RowRepository) Count(_ context.Context, certificateID string, status certificates.ProcessingStatus) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := 0
	for _, row := range r.store.state.rows {
		if row.CertificateID == certificateID && (status == "" || row.ProcessingStatus == status) {
			n++
		}
	}
	return n, nil
}

// ListPage returns rows ordered by id after the cursor.
func (r *RowRepository) ListPage(_ context.Context, q certificates.RowQuery) ([]*certificates.DataSourceRow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	matched := r.sortedRows(q.CertificateID)
	out := make([]*certificates.DataSourceRow, 0)
	for _, row := range matched {
		if q.Status != "" && row.ProcessingStatus != q.Status {
			continue
		}
		if q.AfterID != "" && row.ID <= q.AfterID {
			continue
		}
		out = append(out, row.Clone())
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// ListColumnValues returns every stored cell of a column in row id order.
func (r *RowRepository) ListColumnValues(_ context.Context, certificateID, column string) ([]certificates.ColumnValue, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rows := r.sortedRows(certificateID)
	out := make([]certificates.ColumnValue, 0, len(rows))
	for _, row := range rows {
		out = append(out, certificates.ColumnValue{RowID: row.ID, Value: row.Data[column], Raw: row.Raw[column]})
	}
	return out, nil
}

// UpdateColumnValues rewrites one column's cells.
func (r *RowRepository) UpdateColumnValues(_ context.Context, certificateID, column string, values []certificates.ColumnValue) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, v := range values {
		row, ok := r.store.state.rows[v.RowID]
		if !ok || row.CertificateID != certificateID {
			continue
		}
		row.Data[column] = v.Value
	}
	return nil
}

// DropColumn removes a column's cells.
func (r *RowRepository) DropColumn(_ context.Context, certificateID, column string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, row := range r.store.state.rows {
		if row.CertificateID == certificateID {
			delete(row.Data, column)
			delete(row.Raw, column)
		}
	}
	return nil
}

// UpdateStatus moves the listed rows still in from to to.
func (r *RowRepository) UpdateStatus(_ context.Context, ids []string, from, to certificates.ProcessingStatus, now time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, id := range ids {
		row, ok := r.store.state.rows[id]
		if !ok || row.ProcessingStatus != from {
			continue
		}
		row.ProcessingStatus = to
		row.UpdatedAt = now.UTC()
	}
	return nil
}

// Save replaces a stored row.
func (r *RowRepository) Save(_ context.Context, row *certificates.DataSourceRow) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.state.rows[row.ID]; !ok {
		return certificates.NotFound("row %s not found", row.ID)
	}
	r.store.state.rows[row.ID] = row.Clone()
	return nil
}

// sortedRows lists a certificate's rows by id. Callers hold the lock.
func (r *RowRepository) sortedRows(certificateID string) []*certificates.DataSourceRow {
	var rows []*certificates.DataSourceRow
	for _, row := range r.store.state.rows {
		if row.CertificateID == certificateID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

// DataSetRepository is the in-memory data-set repository.
type DataSetRepository struct {
	store *Store
}

// Create stores a data set.
func (r *DataSetRepository) Create(_ context.Context, d *certificates.DataSet) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.state.dataSets[d.ID]; exists {
		return certificates.Conflict("data set %s already exists", d.ID)
	}
	r.store.state.dataSets[d.ID] = cloneDataSet(d)
	return nil
}

// Get loads a data set.
func (r *DataSetRepository) Get(_ context.Context, id string) (*certificates.DataSet, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	d, ok := r.store.state.dataSets[id]
	if !ok {
		return nil, nil
	}
	return cloneDataSet(d), nil
}

// Latest returns the most recently created data set of a certificate.
func (r *DataSetRepository) Latest(_ context.Context, certificateID string) (*certificates.DataSet, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var latest *certificates.DataSet
	for _, d := range r.store.state.dataSets {
		if d.CertificateID != certificateID {
			continue
		}
		if latest == nil || d.CreatedAt.After(latest.CreatedAt) || (d.CreatedAt.Equal(latest.CreatedAt) && d.ID > latest.ID) {
			latest = d
		}
	}
	return cloneDataSet(latest), nil
}

// Save replaces a stored data set.
func (r *DataSetRepository) Save(_ context.Context, d *certificates.DataSet) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.state.dataSets[d.ID]; !ok {
		return certificates.NotFound("data set %s not found", d.ID)
	}
	r.store.state.dataSets[d.ID] = cloneDataSet(d)
	return nil
}

// DeleteByCertificate removes every data set of a certificate.
func (r *DataSetRepository) DeleteByCertificate(_ context.Context, certificateID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, d := range r.store.state.dataSets {
		if d.CertificateID == certificateID {
			delete(r.store.state.dataSets, id)
		}
	}
	return nil
}

// EmailRepository is the in-memory email repository.
type EmailRepository struct {
	store *Store
}

// Create stores an email.
func (r *EmailRepository) Create(_ context.Context, e *certificates.Email) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.state.emails[e.ID]; exists {
		return certificates.Conflict("email %s already exists", e.ID)
	}
	r.store.state.emails[e.ID] = e.Clone()
	return nil
}

// Get loads an email.
func (r *EmailRepository) Get(_ context.Context, id string) (*certificates.Email, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	e, ok := r.store.state.emails[id]
	if !ok {
		return nil, nil
	}
	return e.Clone(), nil
}

// Save replaces a stored email.
func (r *EmailRepository) Save(_ context.Context, e *certificates.Email) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.state.emails[e.ID]; !ok {
		return certificates.NotFound("email %s not found", e.ID)
	}
	r.store.state.emails[e.ID] = e.Clone()
	return nil
}

// ListByCertificate returns a certificate's emails, oldest first.
func (r *EmailRepository) ListByCertificate(_ context.Context, certificateID string) ([]*certificates.Email, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*certificates.Email
	for _, e := range r.store.state.emails {
		if e.CertificateID == certificateID {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteByCertificate removes every email of a certificate.
func (r *EmailRepository) DeleteByCertificate(_ context.Context, certificateID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, e := range r.store.state.emails {
		if e.CertificateID == certificateID {
			delete(r.store.state.emails, id)
		}
	}
	return nil
}

func cloneDataSet(d *certificates.DataSet) *certificates.DataSet {
	if d == nil {
		return nil
	}
	out := *d
	out.Rows = make([]map[string]string, len(d.Rows))
	for i, row := range d.Rows {
		copied := make(map[string]string, len(row))
		for k, v := range row {
			copied[k] = v
		}
		out.Rows[i] = copied
	}
	return &out
}
