package application

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	certificates "certgen-cloud/internal/certificates/domain"
	"certgen-cloud/internal/observability/metrics"
)

// RetryResult reports how many failed rows a retry run targeted.
type RetryResult struct {
	TotalRetrying int `json:"total_retrying"`
}

// GenerateResult reports a full generation run.
type GenerateResult struct {
	Total      int `json:"total"`
	Dispatched int `json:"dispatched"`
}

// dispatchRun describes one paginated dispatch pass over a certificate's rows.
type dispatchRun struct {
	mode  string
	input certificates.GenerationInput
	from  certificates.ProcessingStatus
	to    certificates.ProcessingStatus
}

// RetryFailed dispatches generation again for every FAILED row. Rows whose
// dispatch succeeded move to RETRYING; a failed dispatch leaves its row FAILED
// for a later pass. The result is the FAILED count taken before dispatching.
func (s *Service) RetryFailed(ctx context.Context, actor Actor, id string) (RetryResult, error) {
	c, err := loadOwned(ctx, s.stores.Certificates, actor, id)
	if err != nil {
		return RetryResult{}, err
	}
	input, err := c.GenerationInput()
	if err != nil {
		return RetryResult{}, err
	}
	failed, err := s.stores.Rows.Count(ctx, id, certificates.ProcessingFailed)
	if err != nil {
		return RetryResult{}, err
	}
	if failed == 0 {
		return RetryResult{}, certificates.Validation("nothing to retry")
	}

	dispatched, err := s.dispatchPages(ctx, dispatchRun{
		mode:  metrics.ModeRetry,
		input: input,
		from:  certificates.ProcessingFailed,
		to:    certificates.ProcessingRetrying,
	})
	if err != nil {
		return RetryResult{}, err
	}
	s.recordDispatch(ctx, id, failed, dispatched, true)
	return RetryResult{TotalRetrying: failed}, nil
}

// GenerateAll dispatches generation for every PENDING row and restarts the
// latest data set.
func (s *Service) GenerateAll(ctx context.Context, actor Actor, id string) (GenerateResult, error) {
	c, err := loadOwned(ctx, s.stores.Certificates, actor, id)
	if err != nil {
		return GenerateResult{}, err
	}
	input, err := c.GenerationInput()
	if err != nil {
		return GenerateResult{}, err
	}
	pending, err := s.stores.Rows.Count(ctx, id, certificates.ProcessingPending)
	if err != nil {
		return GenerateResult{}, err
	}
	if pending == 0 {
		return GenerateResult{}, certificates.Validation("no pending rows to generate")
	}

	err = s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		dataSet, err := st.DataSets.Latest(ctx, id)
		if err != nil {
			return err
		}
		if dataSet == nil {
			return nil
		}
		dataSet.Restart(s.clock.Now())
		return st.DataSets.Save(ctx, dataSet)
	})
	if err != nil {
		return GenerateResult{}, err
	}

	dispatched, err := s.dispatchPages(ctx, dispatchRun{
		mode:  metrics.ModeGenerate,
		input: input,
		from:  certificates.ProcessingPending,
		to:    certificates.ProcessingRunning,
	})
	if err != nil {
		return GenerateResult{}, err
	}
	s.recordDispatch(ctx, id, pending, dispatched, false)
	return GenerateResult{Total: pending, Dispatched: dispatched}, nil
}

// RetryRow dispatches generation for one FAILED or PENDING row and moves it
// to RUNNING, passing a FAILED row through RETRYING. Unlike the batch paths a
// dispatch failure is returned.
func (s *Service) RetryRow(ctx context.Context, actor Actor, id, rowID string) (*certificates.DataSourceRow, error) {
	c, err := loadOwned(ctx, s.stores.Certificates, actor, id)
	if err != nil {
		return nil, err
	}
	input, err := c.GenerationInput()
	if err != nil {
		return nil, err
	}
	row, err := loadRow(ctx, s.stores.Rows, id, rowID)
	if err != nil {
		return nil, err
	}
	if row.ProcessingStatus != certificates.ProcessingFailed && row.ProcessingStatus != certificates.ProcessingPending {
		return nil, certificates.Validation("row %s is %s and cannot be retried", rowID, row.ProcessingStatus)
	}

	if err := s.queue.EnqueueGeneration(ctx, s.generationTask(input, row)); err != nil {
		metrics.AddDispatch(metrics.ModeSingle, 0, 1)
		return nil, fmt.Errorf("dispatch row %s: %w", rowID, err)
	}
	metrics.AddDispatch(metrics.ModeSingle, 1, 0)

	err = s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		current, err := loadRow(ctx, st.Rows, id, rowID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if current.ProcessingStatus == certificates.ProcessingFailed {
			if err := current.Transition(certificates.ProcessingRetrying, now); err != nil {
				return err
			}
		}
		if err := current.Transition(certificates.ProcessingRunning, now); err != nil {
			return err
		}
		if err := st.Rows.Save(ctx, current); err != nil {
			return err
		}
		row = current
		return publish(ctx, st.Events, []certificates.Event{certificates.GenerationDispatched{
			CertificateID: id,
			Requested:     1,
			Dispatched:    1,
			Retry:         true,
			OccurredAt:    s.clock.Now(),
		}})
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// dispatchPages walks rows in run.from by ascending id, one page at a time.
// Each page is fetched fresh, so rows ingested or moved by someone else
// between pages are simply skipped. The walk stops on a short page.
func (s *Service) dispatchPages(ctx context.Context, run dispatchRun) (int, error) {
	dispatched := 0
	cursor := ""
	for {
		page, err := s.stores.Rows.ListPage(ctx, certificates.RowQuery{
			CertificateID: run.input.CertificateID,
			Status:        run.from,
			AfterID:       cursor,
			Limit:         s.cfg.PageSize,
		})
		if err != nil {
			return dispatched, err
		}
		if len(page) == 0 {
			break
		}
		metrics.IncDispatchPage(run.mode)

		succeeded := s.dispatchPage(ctx, run, page)
		metrics.AddDispatch(run.mode, len(succeeded), len(page)-len(succeeded))
		if len(succeeded) > 0 {
			if err := s.stores.Rows.UpdateStatus(ctx, succeeded, run.from, run.to, s.clock.Now()); err != nil {
				return dispatched, err
			}
			dispatched += len(succeeded)
		}

		if len(page) < s.cfg.PageSize {
			break
		}
		cursor = page[len(page)-1].ID
	}
	return dispatched, nil
}

// dispatchPage enqueues every row of the page concurrently and waits for all
// of them. It returns the ids whose enqueue succeeded, in page order.
func (s *Service) dispatchPage(ctx context.Context, run dispatchRun, page []*certificates.DataSourceRow) []string {
	ok := make([]bool, len(page))
	var g errgroup.Group
	g.SetLimit(s.cfg.DispatchConcurrency)
	for i, row := range page {
		i, row := i, row
		g.Go(func() error {
			if err := s.queue.EnqueueGeneration(ctx, s.generationTask(run.input, row)); err != nil {
				s.logger.Warn("generation dispatch failed",
					"certificate_id", row.CertificateID,
					"row_id", row.ID,
					"mode", run.mode,
					"error", err,
				)
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	succeeded := make([]string, 0, len(page))
	for i, row := range page {
		if ok[i] {
			succeeded = append(succeeded, row.ID)
		}
	}
	return succeeded
}

func (s *Service) generationTask(input certificates.GenerationInput, row *certificates.DataSourceRow) GenerationTask {
	return GenerationTask{
		CertificateID: input.CertificateID,
		RowID:         row.ID,
		Input:         input,
		Data:          row.Data,
		OutputKey:     certificates.GeneratedObjectKey(input.OwnerID, input.CertificateID, row.ID),
	}
}

func (s *Service) recordDispatch(ctx context.Context, id string, requested, dispatched int, retry bool) {
	s.logger.Info("generation dispatched",
		"certificate_id", id,
		"requested", requested,
		"dispatched", dispatched,
		"retry", retry,
	)
	err := s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		return publish(ctx, st.Events, []certificates.Event{certificates.GenerationDispatched{
			CertificateID: id,
			Requested:     requested,
			Dispatched:    dispatched,
			Retry:         retry,
			OccurredAt:    s.clock.Now(),
		}})
	})
	if err != nil {
		s.logger.Warn("record dispatch event failed", "certificate_id", id, "error", err)
	}
}

func loadRow(ctx context.Context, rows certificates.RowRepository, certificateID, rowID string) (*certificates.DataSourceRow, error) {
	if rowID == "" {
		return nil, certificates.Validation("row id required")
	}
	row, err := rows.Get(ctx, rowID)
	if err != nil {
		return nil, err
	}
	if row == nil || row.CertificateID != certificateID {
		return nil, certificates.NotFound("row %s not found", rowID)
	}
	return row, nil
}
