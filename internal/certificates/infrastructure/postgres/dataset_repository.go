package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	certificates "certgen-cloud/internal/certificates/domain"
)

// DataSetRepository persists data sets with their raw rows as JSONB.
type DataSetRepository struct {
	db DBTX
}

// NewDataSetRepository constructs a repository.
func NewDataSetRepository(db DBTX) *DataSetRepository {
	return &DataSetRepository{db: db}
}

const dataSetColumns = `id, certificate_id, data_source_id, generation_status, total_bytes, rows, created_at, updated_at`

// Create inserts a data set.
func (r *DataSetRepository) Create(ctx context.Context, d *certificates.DataSet) error {
	if r == nil || r.db == nil {
		return errors.New("data set repo: nil db")
	}
	if d == nil {
		return errors.New("data set repo: nil data set")
	}
	rows, err := json.Marshal(d.Rows)
	if err != nil {
		return fmt.Errorf("encode data set %s: %w", d.ID, err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO data_sets (`+dataSetColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.CertificateID, d.DataSourceID, string(d.GenerationStatus), d.TotalBytes, rows, d.CreatedAt, d.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return certificates.Conflict("data set %s already exists", d.ID)
	}
	return err
}

// Get returns nil, nil when the data set does not exist.
func (r *DataSetRepository) Get(ctx context.Context, id string) (*certificates.DataSet, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("data set repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+dataSetColumns+`
FROM data_sets
WHERE id = $1`, id)
	return scanDataSet(row)
}

// Latest returns the most recent data set of a certificate, or nil, nil.
func (r *DataSetRepository) Latest(ctx context.Context, certificateID string) (*certificates.DataSet, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("data set repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+dataSetColumns+`
FROM data_sets
WHERE certificate_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1`, certificateID)
	return scanDataSet(row)
}

// Save writes the generation outcome of a data set.
func (r *DataSetRepository) Save(ctx context.Context, d *certificates.DataSet) error {
	if r == nil || r.db == nil {
		return errors.New("data set repo: nil db")
	}
	if d == nil {
		return errors.New("data set repo: nil data set")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE data_sets
SET generation_status = $2, total_bytes = $3, updated_at = $4
WHERE id = $1`, d.ID, string(d.GenerationStatus), d.TotalBytes, d.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return certificates.NotFound("data set %s not found", d.ID)
	}
	return nil
}

// DeleteByCertificate removes every data set of a certificate.
func (r *DataSetRepository) DeleteByCertificate(ctx context.Context, certificateID string) error {
	if r == nil || r.db == nil {
		return errors.New("data set repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM data_sets WHERE certificate_id = $1`, certificateID)
	return err
}

func scanDataSet(row scanner) (*certificates.DataSet, error) {
	var (
		d      certificates.DataSet
		status string
		rows   []byte
	)
	err := row.Scan(&d.ID, &d.CertificateID, &d.DataSourceID, &status, &d.TotalBytes, &rows, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	d.GenerationStatus = certificates.GenerationStatus(status)
	if len(rows) > 0 {
		if err := json.Unmarshal(rows, &d.Rows); err != nil {
			return nil, fmt.Errorf("decode data set %s: %w", d.ID, err)
		}
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}
