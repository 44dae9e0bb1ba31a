package certificates

import "time"

// GenerationStatus is the outcome of one batch-generation run.
type GenerationStatus string

const (
	GenerationPending   GenerationStatus = "PENDING"
	GenerationCompleted GenerationStatus = "COMPLETED"
	GenerationFailed    GenerationStatus = "FAILED"
)

// Valid reports whether s is a known generation status.
func (s GenerationStatus) Valid() bool {
	switch s {
	case GenerationPending, GenerationCompleted, GenerationFailed:
		return true
	}
	return false
}

// DataSet is the raw pre-ingestion view of a data source and the outcome of
// the generation run over it.
type DataSet struct {
	ID               string              `json:"id"`
	CertificateID    string              `json:"certificate_id"`
	DataSourceID     string              `json:"data_source_id"`
	GenerationStatus GenerationStatus    `json:"generation_status"`
	TotalBytes       int64               `json:"total_bytes"`
	Rows             []map[string]string `json:"rows"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// NewDataSet snapshots the raw rows of a freshly ingested data source.
func NewDataSet(id, certificateID, dataSourceID string, rows []map[string]string, now time.Time) (*DataSet, error) {
	if id == "" || certificateID == "" || dataSourceID == "" {
		return nil, Validation("data set: empty id")
	}
	snapshot := make([]map[string]string, len(rows))
	for i, row := range rows {
		copied := make(map[string]string, len(row))
		for k, v := range row {
			copied[k] = v
		}
		snapshot[i] = copied
	}
	now = now.UTC()
	return &DataSet{
		ID:               id,
		CertificateID:    certificateID,
		DataSourceID:     dataSourceID,
		GenerationStatus: GenerationPending,
		Rows:             snapshot,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Finish records the batch outcome reported by the generation worker.
func (d *DataSet) Finish(status GenerationStatus, totalBytes int64, now time.Time) error {
	if status != GenerationCompleted && status != GenerationFailed {
		return Validation("data set %s: invalid outcome %q", d.ID, status)
	}
	if totalBytes < 0 {
		return Validation("data set %s: negative total bytes", d.ID)
	}
	d.GenerationStatus = status
	d.TotalBytes = totalBytes
	d.UpdatedAt = now.UTC()
	return nil
}

// Restart marks the data set as pending for a new generation run.
func (d *DataSet) Restart(now time.Time) {
	d.GenerationStatus = GenerationPending
	d.TotalBytes = 0
	d.UpdatedAt = now.UTC()
}
