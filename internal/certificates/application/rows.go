package application

import (
	"context"

	certificates "certgen-cloud/internal/certificates/domain"
)

const maxRowPageSize = 500

// RowPage is one page of rows and the cursor of the next page. NextCursor is
// empty on the last page.
type RowPage struct {
	Rows       []*certificates.DataSourceRow `json:"rows"`
	NextCursor string                        `json:"next_cursor,omitempty"`
}

// ListRows pages through the rows of a certificate by ascending id. An empty
// status lists every row.
func (s *Service) ListRows(ctx context.Context, actor Actor, id string, status certificates.ProcessingStatus, cursor string, limit int) (RowPage, error) {
	if _, err := loadOwned(ctx, s.stores.Certificates, actor, id); err != nil {
		return RowPage{}, err
	}
	if status != "" && !status.Valid() {
		return RowPage{}, certificates.Validation("unknown processing status %q", status)
	}
	if limit <= 0 {
		limit = s.cfg.PageSize
	}
	if limit > maxRowPageSize {
		limit = maxRowPageSize
	}
	rows, err := s.stores.Rows.ListPage(ctx, certificates.RowQuery{
		CertificateID: id,
		Status:        status,
		AfterID:       cursor,
		Limit:         limit,
	})
	if err != nil {
		return RowPage{}, err
	}
	page := RowPage{Rows: rows}
	if len(rows) == limit {
		page.NextCursor = rows[len(rows)-1].ID
	}
	return page, nil
}

// SignedFileURL returns a time-limited download URL for a generated document.
func (s *Service) SignedFileURL(ctx context.Context, actor Actor, id, rowID string) (string, error) {
	c, err := loadOwned(ctx, s.stores.Certificates, actor, id)
	if err != nil {
		return "", err
	}
	row, err := loadRow(ctx, s.stores.Rows, id, rowID)
	if err != nil {
		return "", err
	}
	if row.ProcessingStatus != certificates.ProcessingCompleted {
		return "", certificates.NotFound("document for row %s is not generated", rowID)
	}
	return s.objects.SignedURL(ctx, certificates.GeneratedObjectKey(c.OwnerID(), id, rowID), s.cfg.SignedURLTTL)
}
