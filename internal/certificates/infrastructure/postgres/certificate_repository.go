package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	certificates "certgen-cloud/internal/certificates/domain"
)

// CertificateRepository persists certificates as one row with JSONB parts.
type CertificateRepository struct {
	db DBTX
}

// NewCertificateRepository constructs a repository.
func NewCertificateRepository(db DBTX) *CertificateRepository {
	return &CertificateRepository{db: db}
}

const certificateColumns = `id, owner_id, name, status, template, data_source, variable_column_mapping, version, created_at, updated_at`

// Get returns nil, nil when the certificate does not exist.
func (r *CertificateRepository) Get(ctx context.Context, id string) (*certificates.Certificate, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("certificate repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+certificateColumns+`
FROM certificates
WHERE id = $1`, id)
	return scanCertificate(row)
}

// Create inserts a new certificate at version 1.
func (r *CertificateRepository) Create(ctx context.Context, c *certificates.Certificate) error {
	if r == nil || r.db == nil {
		return errors.New("certificate repo: nil db")
	}
	if c == nil {
		return errors.New("certificate repo: nil certificate")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	s := c.Snapshot()
	template, dataSource, mapping, err := encodeParts(s)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO certificates (
	id, owner_id, name, status, template, data_source, variable_column_mapping, version, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, 1, $8, $9
)`,
		s.ID, s.OwnerID, s.Name, s.Status, template, dataSource, mapping, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return certificates.Conflict("certificate %s already exists", s.ID)
		}
		return err
	}
	c.MarkPersisted(1)
	return nil
}

// Update writes c when the stored version still matches and bumps it.
func (r *CertificateRepository) Update(ctx context.Context, c *certificates.Certificate) error {
	if r == nil || r.db == nil {
		return errors.New("certificate repo: nil db")
	}
	if c == nil {
		return errors.New("certificate repo: nil certificate")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	s := c.Snapshot()
	template, dataSource, mapping, err := encodeParts(s)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE certificates
SET name = $3,
	status = $4,
	template = $5,
	data_source = $6,
	variable_column_mapping = $7,
	updated_at = $8,
	version = version + 1
WHERE id = $1 AND version = $2`,
		s.ID, s.Version, s.Name, s.Status, template, dataSource, mapping, s.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM certificates WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return certificates.NotFound("certificate %s not found", s.ID)
		}
		return certificates.Conflict("certificate %s was modified concurrently", s.ID)
	}
	c.MarkPersisted(s.Version + 1)
	return nil
}

// Delete removes a certificate. Rows, data sets and emails cascade.
func (r *CertificateRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("certificate repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM certificates WHERE id = $1`, id)
	return err
}

// ListByOwner lists an owner's certificates, newest first.
func (r *CertificateRepository) ListByOwner(ctx context.Context, ownerID string) ([]*certificates.Certificate, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("certificate repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+certificateColumns+`
FROM certificates
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*certificates.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func encodeParts(s certificates.Snapshot) (template, dataSource, mapping any, err error) {
	if s.Template != nil {
		if template, err = jsonValue(s.Template); err != nil {
			return nil, nil, nil, fmt.Errorf("encode template: %w", err)
		}
	}
	if s.DataSource != nil {
		if dataSource, err = jsonValue(s.DataSource); err != nil {
			return nil, nil, nil, fmt.Errorf("encode data source: %w", err)
		}
	}
	if s.Mapping != nil {
		if mapping, err = jsonValue(s.Mapping); err != nil {
			return nil, nil, nil, fmt.Errorf("encode mapping: %w", err)
		}
	}
	return template, dataSource, mapping, nil
}

func scanCertificate(row scanner) (*certificates.Certificate, error) {
	var (
		s                             certificates.Snapshot
		status                        string
		template, dataSource, mapping []byte
	)
	err := row.Scan(&s.ID, &s.OwnerID, &s.Name, &status, &template, &dataSource, &mapping, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Status = certificates.Status(status)
	if len(template) > 0 {
		if err := json.Unmarshal(template, &s.Template); err != nil {
			return nil, fmt.Errorf("decode template of %s: %w", s.ID, err)
		}
	}
	if len(dataSource) > 0 {
		if err := json.Unmarshal(dataSource, &s.DataSource); err != nil {
			return nil, fmt.Errorf("decode data source of %s: %w", s.ID, err)
		}
	}
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &s.Mapping); err != nil {
			return nil, fmt.Errorf("decode mapping of %s: %w", s.ID, err)
		}
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return certificates.Rehydrate(s)
}
