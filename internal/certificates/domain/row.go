package certificates

import "time"

// ProcessingStatus tracks a row or email through generation and delivery.
type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "PENDING"
	ProcessingRunning   ProcessingStatus = "RUNNING"
	ProcessingRetrying  ProcessingStatus = "RETRYING"
	ProcessingCompleted ProcessingStatus = "COMPLETED"
	ProcessingFailed    ProcessingStatus = "FAILED"
)

// Valid reports whether s is a known processing status.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case ProcessingPending, ProcessingRunning, ProcessingRetrying, ProcessingCompleted, ProcessingFailed:
		return true
	}
	return false
}

// A FAILED row only runs again by way of RETRYING. RETRYING rows may also
// take a worker outcome directly, since the batch retry never marks them RUNNING.
var rowTransitions = map[ProcessingStatus][]ProcessingStatus{
	ProcessingPending:  {ProcessingRunning},
	ProcessingRunning:  {ProcessingCompleted, ProcessingFailed},
	ProcessingFailed:   {ProcessingRetrying},
	ProcessingRetrying: {ProcessingRunning, ProcessingCompleted, ProcessingFailed},
}

// CanTransitionRow reports whether a row may move from one status to another.
func CanTransitionRow(from, to ProcessingStatus) bool {
	for _, next := range rowTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DataSourceRow is one ingested record destined for one generated document.
// Raw keeps the ingested text of every cell; retyping a column coerces from
// Raw, never from the typed value in Data.
type DataSourceRow struct {
	ID               string            `json:"id"`
	CertificateID    string            `json:"certificate_id"`
	Data             map[string]any    `json:"data"`
	Raw              map[string]string `json:"-"`
	ByteSize         *int64            `json:"byte_size,omitempty"`
	ProcessingStatus ProcessingStatus  `json:"processing_status"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewRow coerces raw cells against the declared columns. A cell naming an
// unknown column or failing coercion rejects the whole row. Declared columns
// missing from raw are stored as blank.
func NewRow(id, certificateID string, raw map[string]string, columns []Column, now time.Time) (*DataSourceRow, error) {
	if id == "" || certificateID == "" {
		return nil, Validation("row: empty id")
	}
	declared := make(map[string]Column, len(columns))
	for _, c := range columns {
		declared[c.Name] = c
	}
	for name := range raw {
		if _, ok := declared[name]; !ok {
			return nil, Validation("row: unknown column %q", name)
		}
	}
	data := make(map[string]any, len(columns))
	text := make(map[string]string, len(columns))
	for _, c := range columns {
		value, err := Coerce(c.Type, raw[c.Name])
		if err != nil {
			return nil, Validation("row: column %q: value %q is not a valid %s", c.Name, raw[c.Name], c.Type)
		}
		data[c.Name] = value
		text[c.Name] = raw[c.Name]
	}
	now = now.UTC()
	return &DataSourceRow{
		ID:               id,
		CertificateID:    certificateID,
		Data:             data,
		Raw:              text,
		ProcessingStatus: ProcessingPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Transition moves the row to the next status.
func (r *DataSourceRow) Transition(to ProcessingStatus, now time.Time) error {
	if !CanTransitionRow(r.ProcessingStatus, to) {
		return Validation("row %s: cannot move from %s to %s", r.ID, r.ProcessingStatus, to)
	}
	r.ProcessingStatus = to
	r.UpdatedAt = now.UTC()
	return nil
}

// Complete records a successful generation.
func (r *DataSourceRow) Complete(byteSize int64, now time.Time) error {
	if byteSize < 0 {
		return Validation("row %s: negative byte size", r.ID)
	}
	if err := r.Transition(ProcessingCompleted, now); err != nil {
		return err
	}
	r.ByteSize = &byteSize
	return nil
}

// Fail records a failed generation.
func (r *DataSourceRow) Fail(now time.Time) error {
	return r.Transition(ProcessingFailed, now)
}

// Clone returns a detached copy.
func (r *DataSourceRow) Clone() *DataSourceRow {
	if r == nil {
		return nil
	}
	out := *r
	out.Data = make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		out.Data[k] = v
	}
	if r.Raw != nil {
		out.Raw = make(map[string]string, len(r.Raw))
		for k, v := range r.Raw {
			out.Raw[k] = v
		}
	}
	if r.ByteSize != nil {
		size := *r.ByteSize
		out.ByteSize = &size
	}
	return &out
}
