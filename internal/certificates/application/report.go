package application

import (
	"context"
	"time"

	certificates "certgen-cloud/internal/certificates/domain"
)

// RowSummary is one row line of a generation report.
type RowSummary struct {
	RowID    string                        `json:"row_id"`
	Status   certificates.ProcessingStatus `json:"status"`
	ByteSize *int64                        `json:"byte_size,omitempty"`
	Label    string                        `json:"label,omitempty"`
}

// GenerationReport summarizes generation progress for one certificate.
type GenerationReport struct {
	CertificateID    string                                `json:"certificate_id"`
	Name             string                                `json:"name"`
	Status           certificates.Status                   `json:"status"`
	GenerationStatus certificates.GenerationStatus         `json:"generation_status,omitempty"`
	TotalBytes       int64                                 `json:"total_bytes"`
	Counts           map[certificates.ProcessingStatus]int `json:"counts"`
	Rows             []RowSummary                          `json:"rows"`
	GeneratedAt      time.Time                             `json:"generated_at"`
}

// Total returns the number of rows in the report.
func (r GenerationReport) Total() int {
	return len(r.Rows)
}

// BuildReport collects every row of the certificate page by page. The label
// of a row is the value of the first column, which usually names the
// recipient of the document.
func (s *Service) BuildReport(ctx context.Context, actor Actor, id string) (GenerationReport, error) {
	c, err := loadOwned(ctx, s.stores.Certificates, actor, id)
	if err != nil {
		return GenerationReport{}, err
	}
	report := GenerationReport{
		CertificateID: id,
		Name:          c.Name(),
		Status:        c.Status(),
		Counts:        make(map[certificates.ProcessingStatus]int),
		GeneratedAt:   s.clock.Now(),
	}
	dataSet, err := s.stores.DataSets.Latest(ctx, id)
	if err != nil {
		return GenerationReport{}, err
	}
	if dataSet != nil {
		report.GenerationStatus = dataSet.GenerationStatus
	}

	labelColumn := ""
	if ds := c.DataSource(); ds != nil && len(ds.Columns) > 0 {
		labelColumn = ds.Columns[0].Name
	}
	cursor := ""
	for {
		rows, err := s.stores.Rows.ListPage(ctx, certificates.RowQuery{
			CertificateID: id,
			AfterID:       cursor,
			Limit:         s.cfg.PageSize,
		})
		if err != nil {
			return GenerationReport{}, err
		}
		for _, row := range rows {
			summary := RowSummary{RowID: row.ID, Status: row.ProcessingStatus, ByteSize: row.ByteSize}
			if labelColumn != "" {
				summary.Label = certificates.RawText(row.Data[labelColumn])
			}
			if row.ByteSize != nil {
				report.TotalBytes += *row.ByteSize
			}
			report.Counts[row.ProcessingStatus]++
			report.Rows = append(report.Rows, summary)
		}
		if len(rows) < s.cfg.PageSize {
			break
		}
		cursor = rows[len(rows)-1].ID
	}
	return report, nil
}
