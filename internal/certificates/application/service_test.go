package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
)

func TestCreateAndListCertificates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})

	c, err := h.svc.CreateCertificate(ctx, owner, "  Workshop  ")
	require.NoError(t, err)
	assert.Equal(t, "Workshop", c.Name())
	assert.Equal(t, certificates.StatusDraft, c.Status())

	list, err := h.svc.ListCertificates(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = h.svc.ListCertificates(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = h.svc.CreateCertificate(ctx, application.Actor{}, "x")
	assert.True(t, errors.Is(err, certificates.ErrAuthentication))
}

func TestOwnershipIsEnforced(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})
	c, err := h.svc.CreateCertificate(ctx, owner, "Workshop")
	require.NoError(t, err)

	_, err = h.svc.GetCertificate(ctx, stranger, c.ID())
	assert.True(t, errors.Is(err, certificates.ErrForbidden))

	_, err = h.svc.RenameCertificate(ctx, stranger, c.ID(), "Mine")
	assert.True(t, errors.Is(err, certificates.ErrForbidden))

	_, err = h.svc.GetCertificate(ctx, owner, "missing")
	assert.True(t, errors.Is(err, certificates.ErrNotFound))
}

func TestTemplateAndDataSourceResolveMapping(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})
	c := h.certificateWith(t, "Dear {{ name }}, {{random}} {{ email }}", peopleTable(2))

	mapping := c.Mapping()
	require.Len(t, mapping, 3)
	assert.Equal(t, certificates.Mapping{"name": "Name", "random": "", "email": "E-mail"}, mapping)

	template := c.Template()
	require.NotNil(t, template)
	assert.Equal(t, certificates.TemplateObjectKey(owner.ID, template.ID, certificates.FormatDOCX), template.StorageFileURL)
	assert.Contains(t, h.objects.Keys(), template.StorageFileURL)
	assert.Equal(t, 2, h.rowsWithStatus(t, c.ID(), certificates.ProcessingPending))

	c, err := h.svc.RemoveDataSource(ctx, owner, c.ID())
	require.NoError(t, err)
	mapping = c.Mapping()
	require.Len(t, mapping, 3)
	for variable, column := range mapping {
		assert.Empty(t, column, variable)
	}
	assert.Zero(t, h.rowsWithStatus(t, c.ID(), ""))

	c, err = h.svc.RemoveTemplate(ctx, owner, c.ID())
	require.NoError(t, err)
	assert.Nil(t, c.Mapping())
}

func TestSetTemplateRejectsSpreadsheet(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})
	c, err := h.svc.CreateCertificate(ctx, owner, "Workshop")
	require.NoError(t, err)

	_, err = h.svc.SetTemplate(ctx, owner, c.ID(), application.FileInput{
		SourceMethod: certificates.SourceUpload,
		FileName:     "people.xlsx",
		Content:      []byte("xlsx"),
	})
	assert.True(t, errors.Is(err, certificates.ErrValidation))
	assert.Empty(t, h.objects.Keys())
}

func TestIngestionIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})
	c := h.certificateWith(t, "{{ name }}", peopleTable(3))
	before := c.DataSource()
	require.Len(t, h.objects.Keys(), 2)

	broken := peopleTable(3)
	broken.Rows[2]["Unknown"] = "stray cell"
	h.extractor.table = broken
	_, err := h.svc.SetDataSource(ctx, owner, c.ID(), application.FileInput{
		SourceMethod: certificates.SourceUpload,
		FileName:     "people.csv",
		Content:      []byte("csv"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, certificates.ErrValidation))

	stored, err := h.svc.GetCertificate(ctx, owner, c.ID())
	require.NoError(t, err)
	assert.Equal(t, before.ID, stored.DataSource().ID)
	assert.Equal(t, 3, h.rowsWithStatus(t, c.ID(), ""))
	assert.Len(t, h.objects.Keys(), 2)
}

func TestReplacingDataSourceReplacesRows(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})
	c := h.certificateWith(t, "{{ name }}", peopleTable(4))

	h.extractor.table = peopleTable(2)
	_, err := h.svc.SetDataSource(ctx, owner, c.ID(), application.FileInput{
		SourceMethod: certificates.SourceUpload,
		FileName:     "people.csv",
		Content:      []byte("csv"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, h.rowsWithStatus(t, c.ID(), ""))
}

func TestDeleteCertificateRemovesEverything(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})
	c := h.certificateWith(t, "{{ name }}", peopleTable(2))

	require.NoError(t, h.svc.DeleteCertificate(ctx, owner, c.ID()))
	_, err := h.svc.GetCertificate(ctx, owner, c.ID())
	assert.True(t, errors.Is(err, certificates.ErrNotFound))
	assert.Zero(t, h.rowsWithStatus(t, c.ID(), ""))

	var deleted *certificates.CertificateDeleted
	for _, e := range h.events.Events() {
		if evt, ok := e.(certificates.CertificateDeleted); ok {
			deleted = &evt
		}
	}
	require.NotNil(t, deleted)
	assert.Len(t, deleted.StorageFileURLs, 2)
}

func TestRenameConflictKeepsFirstWriter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})
	c, err := h.svc.CreateCertificate(ctx, owner, "Workshop")
	require.NoError(t, err)

	renamed, err := h.svc.RenameCertificate(ctx, owner, c.ID(), "Seminar")
	require.NoError(t, err)
	assert.Equal(t, 2, renamed.Version())

	stale := c
	_, err = stale.Rename("Stale", baseTime)
	require.NoError(t, err)
	err = h.store.Stores(nil).Certificates.Update(ctx, stale)
	assert.True(t, errors.Is(err, certificates.ErrConflict))
}
