package certificates

import (
	"strings"
	"time"
)

const (
	// ErrorTypeInternal marks an email the sending worker reported as failed.
	ErrorTypeInternal = "INTERNAL_ERROR"
	// ErrorTypeDispatch marks an email that could not be handed to the queue.
	ErrorTypeDispatch = "DISPATCH_ERROR"
)

var emailTransitions = map[ProcessingStatus][]ProcessingStatus{
	ProcessingPending: {ProcessingRunning, ProcessingCompleted, ProcessingFailed},
	ProcessingRunning: {ProcessingCompleted, ProcessingFailed},
}

// Email is one batch of result emails for a certificate.
type Email struct {
	ID               string           `json:"id"`
	CertificateID    string           `json:"certificate_id"`
	Subject          string           `json:"subject"`
	Body             string           `json:"body"`
	RecipientColumn  string           `json:"recipient_column"`
	ScheduledAt      *time.Time       `json:"scheduled_at,omitempty"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ErrorType        string           `json:"error_type,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// EmailDraft is the owner input for a new email.
type EmailDraft struct {
	Subject         string     `json:"subject"`
	Body            string     `json:"body"`
	RecipientColumn string     `json:"recipient_column"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
}

// NewEmail validates a draft against the data source it will be sent from.
func NewEmail(id, certificateID string, draft EmailDraft, ds *DataSource, rowCount int, now time.Time) (*Email, error) {
	if id == "" || certificateID == "" {
		return nil, Validation("email: empty id")
	}
	if strings.TrimSpace(draft.Subject) == "" {
		return nil, Validation("email: empty subject")
	}
	if draft.RecipientColumn == "" {
		return nil, Validation("email: recipient column is required")
	}
	if ds == nil {
		return nil, NotFound("certificate %s has no data source", certificateID)
	}
	if _, ok := ds.Column(draft.RecipientColumn); !ok {
		return nil, Validation("email: recipient column %q is not a data source column", draft.RecipientColumn)
	}
	if rowCount <= 0 {
		return nil, Validation("email: no rows available to email")
	}
	now = now.UTC()
	var scheduledAt *time.Time
	if draft.ScheduledAt != nil {
		at := draft.ScheduledAt.UTC()
		if !at.After(now) {
			return nil, Validation("email: scheduled time must be in the future")
		}
		scheduledAt = &at
	}
	return &Email{
		ID:               id,
		CertificateID:    certificateID,
		Subject:          draft.Subject,
		Body:             draft.Body,
		RecipientColumn:  draft.RecipientColumn,
		ScheduledAt:      scheduledAt,
		ProcessingStatus: ProcessingPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Scheduled reports whether the email waits for a future send time.
func (e *Email) Scheduled() bool { return e.ScheduledAt != nil }

// AwaitingSend reports whether a scheduled email is still queued or sending.
func (e *Email) AwaitingSend() bool {
	if !e.Scheduled() {
		return false
	}
	return e.ProcessingStatus == ProcessingPending || e.ProcessingStatus == ProcessingRunning
}

// MarkRunning records that the email was handed to the sending worker.
func (e *Email) MarkRunning(now time.Time) error {
	return e.transition(ProcessingRunning, "", now)
}

// MarkCompleted records a successful send.
func (e *Email) MarkCompleted(now time.Time) error {
	return e.transition(ProcessingCompleted, "", now)
}

// MarkFailed records a failure with its error type.
func (e *Email) MarkFailed(errorType string, now time.Time) error {
	if errorType == "" {
		errorType = ErrorTypeInternal
	}
	return e.transition(ProcessingFailed, errorType, now)
}

func (e *Email) transition(to ProcessingStatus, errorType string, now time.Time) error {
	allowed := false
	for _, next := range emailTransitions[e.ProcessingStatus] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return Validation("email %s: cannot move from %s to %s", e.ID, e.ProcessingStatus, to)
	}
	e.ProcessingStatus = to
	e.ErrorType = errorType
	e.UpdatedAt = now.UTC()
	return nil
}

// Clone returns a detached copy.
func (e *Email) Clone() *Email {
	if e == nil {
		return nil
	}
	out := *e
	if e.ScheduledAt != nil {
		at := *e.ScheduledAt
		out.ScheduledAt = &at
	}
	return &out
}
