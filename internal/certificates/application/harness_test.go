package application_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
	"certgen-cloud/internal/certificates/infrastructure/memory"
)

var (
	owner    = application.Actor{ID: "owner-1", Email: "owner@example.com"}
	stranger = application.Actor{ID: "owner-2", Email: "other@example.com"}
	baseTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%06d", s.n)
}

type stubExtractor struct {
	text  string
	table application.Table
	err   error
}

func (e *stubExtractor) ExtractText([]byte, certificates.FileFormat) (string, error) {
	return e.text, e.err
}

func (e *stubExtractor) ExtractTable([]byte, certificates.FileFormat) (application.Table, error) {
	return e.table, e.err
}

var errQueueDown = errors.New("queue unavailable")

// flakyQueue records tasks and fails the ones matched by failRow or failEmail.
type flakyQueue struct {
	memory.Queue
	mu        sync.Mutex
	failRow   func(rowID string) bool
	failEmail bool
}

func (q *flakyQueue) EnqueueGeneration(ctx context.Context, task application.GenerationTask) error {
	q.mu.Lock()
	fail := q.failRow != nil && q.failRow(task.RowID)
	q.mu.Unlock()
	if fail {
		return errQueueDown
	}
	return q.Queue.EnqueueGeneration(ctx, task)
}

func (q *flakyQueue) EnqueueEmail(ctx context.Context, task application.EmailTask) error {
	q.mu.Lock()
	fail := q.failEmail
	q.mu.Unlock()
	if fail {
		return errQueueDown
	}
	return q.Queue.EnqueueEmail(ctx, task)
}

// pageRecorder remembers the size of every row page read.
type pageRecorder struct {
	certificates.RowRepository
	mu    sync.Mutex
	sizes []int
}

func (p *pageRecorder) ListPage(ctx context.Context, q certificates.RowQuery) ([]*certificates.DataSourceRow, error) {
	rows, err := p.RowRepository.ListPage(ctx, q)
	p.mu.Lock()
	p.sizes = append(p.sizes, len(rows))
	p.mu.Unlock()
	return rows, err
}

func (p *pageRecorder) reset() {
	p.mu.Lock()
	p.sizes = nil
	p.mu.Unlock()
}

func (p *pageRecorder) pages() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.sizes...)
}

type harness struct {
	svc       *application.Service
	store     *memory.Store
	objects   *memory.ObjectStore
	queue     *flakyQueue
	extractor *stubExtractor
	events    *memory.Recorder
	pages     *pageRecorder
	ids       *seqIDs
}

func newHarness(t *testing.T, cfg application.Config) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		objects:   memory.NewObjectStore(),
		queue:     &flakyQueue{},
		extractor: &stubExtractor{},
		events:    &memory.Recorder{},
		ids:       &seqIDs{},
	}
	stores := h.store.Stores(nil)
	h.pages = &pageRecorder{RowRepository: stores.Rows}
	stores.Rows = h.pages
	svc, err := application.NewService(application.Deps{
		Stores:     stores,
		UnitOfWork: memory.NewUnitOfWork(h.store, h.events),
		Objects:    h.objects,
		Extractor:  h.extractor,
		Queue:      h.queue,
		Clock:      fixedClock{now: baseTime},
		IDs:        h.ids,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:     cfg,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

// certificateWith creates a certificate with an uploaded template holding
// variables and an uploaded CSV data source holding table.
func (h *harness) certificateWith(t *testing.T, variables string, table application.Table) *certificates.Certificate {
	t.Helper()
	ctx := context.Background()
	c, err := h.svc.CreateCertificate(ctx, owner, "Workshop")
	require.NoError(t, err)

	h.extractor.text = variables
	_, err = h.svc.SetTemplate(ctx, owner, c.ID(), application.FileInput{
		SourceMethod: certificates.SourceUpload,
		FileName:     "template.docx",
		Content:      []byte("docx"),
	})
	require.NoError(t, err)

	h.extractor.table = table
	c, err = h.svc.SetDataSource(ctx, owner, c.ID(), application.FileInput{
		SourceMethod: certificates.SourceUpload,
		FileName:     "people.csv",
		Content:      []byte("csv"),
	})
	require.NoError(t, err)
	return c
}

func (h *harness) rowsWithStatus(t *testing.T, certificateID string, status certificates.ProcessingStatus) int {
	t.Helper()
	n, err := h.store.Stores(nil).Rows.Count(context.Background(), certificateID, status)
	require.NoError(t, err)
	return n
}

func peopleTable(n int) application.Table {
	table := application.Table{Columns: []string{"Name", "E-mail"}}
	for i := 0; i < n; i++ {
		table.Rows = append(table.Rows, map[string]string{
			"Name":   fmt.Sprintf("Person %d", i),
			"E-mail": fmt.Sprintf("person%d@example.com", i),
		})
	}
	return table
}

// failAll generates every row and reports each one as failed.
func (h *harness) failAll(t *testing.T, certificateID string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.svc.GenerateAll(ctx, owner, certificateID)
	require.NoError(t, err)
	for _, task := range h.queue.Generations() {
		if task.CertificateID != certificateID {
			continue
		}
		_, err := h.svc.MarkRowOutcome(ctx, application.RowOutcome{RowID: task.RowID, Success: false})
		require.NoError(t, err)
	}
}
