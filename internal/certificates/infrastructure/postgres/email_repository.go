package postgres

import (
	"context"
	"database/sql"
	"errors"

	certificates "certgen-cloud/internal/certificates/domain"
)

// EmailRepository persists email batches.
type EmailRepository struct {
	db DBTX
}

// NewEmailRepository constructs a repository.
func NewEmailRepository(db DBTX) *EmailRepository {
	return &EmailRepository{db: db}
}

const emailColumns = `id, certificate_id, subject, body, recipient_column, scheduled_at, processing_status, error_type, created_at, updated_at`

// Create inserts an email.
func (r *EmailRepository) Create(ctx context.Context, e *certificates.Email) error {
	if r == nil || r.db == nil {
		return errors.New("email repo: nil db")
	}
	if e == nil {
		return errors.New("email repo: nil email")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO emails (`+emailColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.CertificateID, e.Subject, e.Body, e.RecipientColumn, e.ScheduledAt,
		string(e.ProcessingStatus), e.ErrorType, e.CreatedAt, e.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return certificates.Conflict("email %s already exists", e.ID)
	}
	return err
}

// Get returns nil, nil when the email does not exist.
func (r *EmailRepository) Get(ctx context.Context, id string) (*certificates.Email, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("email repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+emailColumns+`
FROM emails
WHERE id = $1`, id)
	return scanEmail(row)
}

// Save writes an email's status.
func (r *EmailRepository) Save(ctx context.Context, e *certificates.Email) error {
	if r == nil || r.db == nil {
		return errors.New("email repo: nil db")
	}
	if e == nil {
		return errors.New("email repo: nil email")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE emails
SET processing_status = $2, error_type = $3, updated_at = $4
WHERE id = $1`, e.ID, string(e.ProcessingStatus), e.ErrorType, e.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return certificates.NotFound("email %s not found", e.ID)
	}
	return nil
}

// ListByCertificate lists a certificate's emails, oldest first.
func (r *EmailRepository) ListByCertificate(ctx context.Context, certificateID string) ([]*certificates.Email, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("email repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+emailColumns+`
FROM emails
WHERE certificate_id = $1
ORDER BY created_at ASC, id ASC`, certificateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*certificates.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteByCertificate removes every email of a certificate.
func (r *EmailRepository) DeleteByCertificate(ctx context.Context, certificateID string) error {
	if r == nil || r.db == nil {
		return errors.New("email repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM emails WHERE certificate_id = $1`, certificateID)
	return err
}

func scanEmail(row scanner) (*certificates.Email, error) {
	var (
		e           certificates.Email
		scheduledAt sql.NullTime
		status      string
	)
	err := row.Scan(&e.ID, &e.CertificateID, &e.Subject, &e.Body, &e.RecipientColumn, &scheduledAt,
		&status, &e.ErrorType, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if scheduledAt.Valid {
		at := scheduledAt.Time.UTC()
		e.ScheduledAt = &at
	}
	e.ProcessingStatus = certificates.ProcessingStatus(status)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}
