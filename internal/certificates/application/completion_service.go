package application

import (
	"context"

	certificates "certgen-cloud/internal/certificates/domain"
	"certgen-cloud/internal/observability/metrics"
)

const (
	callbackRow   = "row"
	callbackBatch = "batch"
	callbackEmail = "email"
)

// dispatchEdge is the status a row takes when its dispatch is recorded.
var dispatchEdge = map[certificates.ProcessingStatus]certificates.ProcessingStatus{
	certificates.ProcessingPending: certificates.ProcessingRunning,
	certificates.ProcessingFailed:  certificates.ProcessingRetrying,
}

// RowOutcome is a generation worker report for one row.
type RowOutcome struct {
	RowID    string
	Success  bool
	ByteSize int64
}

// MarkRowOutcome records the generation result of one row. A repeated report
// of the outcome the row already has is a no-op. A report that overtakes the
// dispatch bookkeeping first advances the row along its dispatch edge.
func (s *Service) MarkRowOutcome(ctx context.Context, in RowOutcome) (*certificates.DataSourceRow, error) {
	status := string(certificates.ProcessingFailed)
	if in.Success {
		status = string(certificates.ProcessingCompleted)
	}
	var out *certificates.DataSourceRow
	err := s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		if in.RowID == "" {
			return certificates.Validation("row id required")
		}
		row, err := st.Rows.Get(ctx, in.RowID)
		if err != nil {
			return err
		}
		if row == nil {
			return certificates.NotFound("row %s not found", in.RowID)
		}
		out = row
		if string(row.ProcessingStatus) == status {
			return nil
		}
		now := s.clock.Now()
		if next, ok := dispatchEdge[row.ProcessingStatus]; ok {
			if err := row.Transition(next, now); err != nil {
				return err
			}
		}
		if in.Success {
			err = row.Complete(in.ByteSize, now)
		} else {
			err = row.Fail(now)
		}
		if err != nil {
			return err
		}
		return st.Rows.Save(ctx, row)
	})
	metrics.IncCallback(callbackRow, callbackResult(status, err))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkBatchOutcome records the outcome of a generation run over a data set.
func (s *Service) MarkBatchOutcome(ctx context.Context, dataSetID string, status certificates.GenerationStatus, totalBytes int64) (*certificates.DataSet, error) {
	var out *certificates.DataSet
	err := s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		if dataSetID == "" {
			return certificates.Validation("data set id required")
		}
		dataSet, err := st.DataSets.Get(ctx, dataSetID)
		if err != nil {
			return err
		}
		if dataSet == nil {
			return certificates.NotFound("data set %s not found", dataSetID)
		}
		if err := dataSet.Finish(status, totalBytes, s.clock.Now()); err != nil {
			return err
		}
		out = dataSet
		return st.DataSets.Save(ctx, dataSet)
	})
	metrics.IncCallback(callbackBatch, callbackResult(string(status), err))
	if err != nil {
		return nil, err
	}
	s.logger.Info("generation batch finished",
		"data_set_id", dataSetID,
		"certificate_id", out.CertificateID,
		"status", status,
		"total_bytes", totalBytes,
	)
	return out, nil
}

// MarkEmailOutcome records the mailing worker result. COMPLETED publishes the
// certificate; FAILED marks the email INTERNAL_ERROR and returns the
// certificate to DRAFT. Both sides commit together.
func (s *Service) MarkEmailOutcome(ctx context.Context, emailID string, status certificates.ProcessingStatus) (*certificates.Email, error) {
	var out *certificates.Email
	var err error
	switch status {
	case certificates.ProcessingCompleted:
		err = s.settleEmail(ctx, emailID, func(_ context.Context, _ Stores, e *certificates.Email, c *certificates.Certificate) ([]certificates.Event, error) {
			out = e
			if e.ProcessingStatus == certificates.ProcessingCompleted {
				return nil, nil
			}
			if err := e.MarkCompleted(s.clock.Now()); err != nil {
				return nil, err
			}
			return c.MarkPublished(s.clock.Now()), nil
		})
	case certificates.ProcessingFailed:
		err = s.settleEmail(ctx, emailID, func(_ context.Context, _ Stores, e *certificates.Email, c *certificates.Certificate) ([]certificates.Event, error) {
			out = e
			if e.ProcessingStatus == certificates.ProcessingFailed {
				return nil, nil
			}
			if err := e.MarkFailed(certificates.ErrorTypeInternal, s.clock.Now()); err != nil {
				return nil, err
			}
			return c.RevertToDraft(s.clock.Now()), nil
		})
	default:
		err = certificates.Validation("invalid email outcome %q", status)
	}
	metrics.IncCallback(callbackEmail, callbackResult(string(status), err))
	if err != nil {
		return nil, err
	}
	s.logger.Info("email outcome recorded", "email_id", emailID, "status", status)
	return out, nil
}

func callbackResult(status string, err error) string {
	if err != nil {
		return metrics.ResultError
	}
	return status
}
