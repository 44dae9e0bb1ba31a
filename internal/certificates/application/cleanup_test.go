package application_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
	"certgen-cloud/internal/certificates/infrastructure/memory"
	"certgen-cloud/internal/eventing"
)

// cleanupHarness routes committed events through the outbox, the dispatcher
// and the bus to the storage cleaner.
func cleanupHarness(t *testing.T) (*harness, *eventing.MemoryOutbox) {
	t.Helper()
	h := newHarness(t, application.Config{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := eventing.NewRegistry()
	for _, sample := range certificates.AllEvents() {
		registry.Register(sample)
	}
	bus := eventing.NewInMemoryBus()
	outbox := eventing.NewMemoryOutbox()
	dispatcher := eventing.NewDispatcher(bus, outbox, registry, &eventing.MemoryDLQ{}, logger)
	publisher := eventing.NewPublisher(outbox, dispatcher)

	stores := h.store.Stores(nil)
	stores.Rows = h.pages
	svc, err := application.NewService(application.Deps{
		Stores:     stores,
		UnitOfWork: memory.NewUnitOfWork(h.store, publisher),
		Objects:    h.objects,
		Extractor:  h.extractor,
		Queue:      h.queue,
		Clock:      fixedClock{now: baseTime},
		IDs:        h.ids,
		Logger:     logger,
	})
	require.NoError(t, err)
	h.svc = svc

	cleaner := application.NewStorageCleaner(h.objects, stores.Certificates, logger)
	application.WireStorageCleanup(bus, cleaner, eventing.NewMemoryProcessedStore())
	return h, outbox
}

func TestCleanupReleasesReplacedTemplate(t *testing.T) {
	ctx := context.Background()
	h, outbox := cleanupHarness(t)
	c := h.certificateWith(t, "{{ name }}", peopleTable(1))
	original := c.Template().StorageFileURL
	require.Contains(t, h.objects.Keys(), original)

	h.extractor.text = "{{ name }} {{ email }}"
	c, err := h.svc.SetTemplate(ctx, owner, c.ID(), application.FileInput{
		SourceMethod: certificates.SourceUpload,
		FileName:     "v2.docx",
		Content:      []byte("docx"),
	})
	require.NoError(t, err)

	keys := h.objects.Keys()
	assert.NotContains(t, keys, original)
	assert.Contains(t, keys, c.Template().StorageFileURL)
	assert.Zero(t, outbox.Pending())
}

func TestCleanupReleasesGeneratedDocuments(t *testing.T) {
	ctx := context.Background()
	h, _ := cleanupHarness(t)
	c := h.certificateWith(t, "{{ name }}", peopleTable(1))
	generated := certificates.GeneratedObjectKey(owner.ID, c.ID(), "row-1")
	require.NoError(t, h.objects.Put(ctx, generated, []byte("%PDF"), "application/pdf"))

	_, err := h.svc.RemoveDataSource(ctx, owner, c.ID())
	require.NoError(t, err)
	assert.NotContains(t, h.objects.Keys(), generated)
	assert.Len(t, h.objects.Keys(), 1)

	require.NoError(t, h.svc.DeleteCertificate(ctx, owner, c.ID()))
	assert.Empty(t, h.objects.Keys())
}
