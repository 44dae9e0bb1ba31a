package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	certificates "certgen-cloud/internal/certificates/domain"
)

// insertChunk bounds the rows of one multi-row INSERT.
const insertChunk = 500

// RowRepository persists data-source rows with their typed cells in data and
// the ingested text in raw_data, both JSONB.
type RowRepository struct {
	db DBTX
}

// NewRowRepository constructs a repository.
func NewRowRepository(db DBTX) *RowRepository {
	return &RowRepository{db: db}
}

const rowColumns = `id, certificate_id, data, raw_data, byte_size, processing_status, created_at, updated_at`

// InsertBatch inserts rows in chunks.
func (r *RowRepository) InsertBatch(ctx context.Context, rows []*certificates.DataSourceRow) error {
	if r == nil || r.db == nil {
		return errors.New("row repo: nil db")
	}
	for start := 0; start < len(rows); start += insertChunk {
		end := start + insertChunk
		if end > len(rows) {
			end = len(rows)
		}
		if err := r.insertChunk(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *RowRepository) insertChunk(ctx context.Context, rows []*certificates.DataSourceRow) error {
	var b strings.Builder
	b.WriteString(`INSERT INTO data_source_rows (` + rowColumns + `) VALUES `)
	args := make([]any, 0, len(rows)*8)
	for i, row := range rows {
		data, err := json.Marshal(row.Data)
		if err != nil {
			return fmt.Errorf("encode row %s: %w", row.ID, err)
		}
		raw, err := encodeRaw(row.Raw)
		if err != nil {
			return fmt.Errorf("encode row %s: %w", row.ID, err)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8)
		args = append(args, row.ID, row.CertificateID, data, raw, row.ByteSize, string(row.ProcessingStatus), row.CreatedAt, row.UpdatedAt)
	}
	_, err := r.db.ExecContext(ctx, b.String(), args...)
	return err
}

// DeleteByCertificate removes every row of a certificate.
func (r *RowRepository) DeleteByCertificate(ctx context.Context, certificateID string) error {
	if r == nil || r.db == nil {
		return errors.New("row repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM data_source_rows WHERE certificate_id = $1`, certificateID)
	return err
}

// Get returns nil, nil when the row does not exist.
func (r *RowRepository) Get(ctx context.Context, id string) (*certificates.DataSourceRow, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("row repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+rowColumns+`
FROM data_source_rows
WHERE id = $1`, id)
	return scanRow(row)
}

// Count counts rows of a certificate; an empty status counts every row.
func (r *RowRepository) Count(ctx context.Context, certificateID string, status certificates.ProcessingStatus) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("row repo: nil db")
	}
	query := `SELECT COUNT(*) FROM data_source_rows WHERE certificate_id = $1`
	args := []any{certificateID}
	if status != "" {
		query += ` AND processing_status = $2`
		args = append(args, string(status))
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListPage returns rows ordered by id after q.AfterID. A zero limit returns all.
func (r *RowRepository) ListPage(ctx context.Context, q certificates.RowQuery) ([]*certificates.DataSourceRow, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("row repo: nil db")
	}
	query := `
SELECT ` + rowColumns + `
FROM data_source_rows
WHERE certificate_id = $1`
	args := []any{q.CertificateID}
	if q.Status != "" {
		args = append(args, string(q.Status))
		query += fmt.Sprintf(` AND processing_status = $%d`, len(args))
	}
	if q.AfterID != "" {
		args = append(args, q.AfterID)
		query += fmt.Sprintf(` AND id > $%d`, len(args))
	}
	query += `
ORDER BY id ASC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(`
LIMIT $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*certificates.DataSourceRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListColumnValues returns one column's typed and raw cell for every row,
// ordered by row id.
func (r *RowRepository) ListColumnValues(ctx context.Context, certificateID, column string) ([]certificates.ColumnValue, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("row repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, data -> $2, raw_data ->> $2
FROM data_source_rows
WHERE certificate_id = $1
ORDER BY id ASC`, certificateID, column)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []certificates.ColumnValue
	for rows.Next() {
		var (
			id   string
			cell []byte
			text sql.NullString
		)
		if err := rows.Scan(&id, &cell, &text); err != nil {
			return nil, err
		}
		var value any
		if len(cell) > 0 {
			if err := json.Unmarshal(cell, &value); err != nil {
				return nil, fmt.Errorf("decode cell %s of row %s: %w", column, id, err)
			}
		}
		result = append(result, certificates.ColumnValue{RowID: id, Value: value, Raw: text.String})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateColumnValues rewrites one column's cells.
func (r *RowRepository) UpdateColumnValues(ctx context.Context, certificateID, column string, values []certificates.ColumnValue) error {
	if r == nil || r.db == nil {
		return errors.New("row repo: nil db")
	}
	for _, v := range values {
		cell, err := json.Marshal(v.Value)
		if err != nil {
			return fmt.Errorf("encode cell %s of row %s: %w", column, v.RowID, err)
		}
		_, err = r.db.ExecContext(ctx, `
UPDATE data_source_rows
SET data = jsonb_set(data, ARRAY[$3::text], $4::jsonb, true)
WHERE id = $1 AND certificate_id = $2`, v.RowID, certificateID, column, cell)
		if err != nil {
			return err
		}
	}
	return nil
}

// DropColumn removes a column's cells from every row of the certificate.
func (r *RowRepository) DropColumn(ctx context.Context, certificateID, column string) error {
	if r == nil || r.db == nil {
		return errors.New("row repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE data_source_rows
SET data = data - $2::text, raw_data = raw_data - $2::text
WHERE certificate_id = $1`, certificateID, column)
	return err
}

// UpdateStatus moves the listed rows still in from to to.
func (r *RowRepository) UpdateStatus(ctx context.Context, ids []string, from, to certificates.ProcessingStatus, now time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("row repo: nil db")
	}
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE data_source_rows
SET processing_status = $1, updated_at = $2
WHERE id = ANY($3) AND processing_status = $4`,
		string(to), now.UTC(), pq.Array(ids), string(from))
	return err
}

// Save writes a row's data, size and status.
func (r *RowRepository) Save(ctx context.Context, row *certificates.DataSourceRow) error {
	if r == nil || r.db == nil {
		return errors.New("row repo: nil db")
	}
	if row == nil {
		return errors.New("row repo: nil row")
	}
	data, err := json.Marshal(row.Data)
	if err != nil {
		return fmt.Errorf("encode row %s: %w", row.ID, err)
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE data_source_rows
SET data = $2, byte_size = $3, processing_status = $4, updated_at = $5
WHERE id = $1`, row.ID, data, row.ByteSize, string(row.ProcessingStatus), row.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return certificates.NotFound("row %s not found", row.ID)
	}
	return nil
}

func scanRow(row scanner) (*certificates.DataSourceRow, error) {
	var (
		out      certificates.DataSourceRow
		data     []byte
		raw      []byte
		byteSize sql.NullInt64
		status   string
	)
	err := row.Scan(&out.ID, &out.CertificateID, &data, &raw, &byteSize, &status, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	out.Data = map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out.Data); err != nil {
			return nil, fmt.Errorf("decode row %s: %w", out.ID, err)
		}
	}
	out.Raw = map[string]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out.Raw); err != nil {
			return nil, fmt.Errorf("decode raw row %s: %w", out.ID, err)
		}
	}
	if byteSize.Valid {
		size := byteSize.Int64
		out.ByteSize = &size
	}
	out.ProcessingStatus = certificates.ProcessingStatus(status)
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	return &out, nil
}

func encodeRaw(raw map[string]string) ([]byte, error) {
	if raw == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(raw)
}
