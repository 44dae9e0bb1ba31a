package certificates

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

func newTestTemplate(id string, variables ...string) *Template {
	return &Template{
		FileRef: FileRef{
			ID:             id,
			SourceMethod:   SourceUpload,
			StorageFileURL: TemplateObjectKey("owner-1", id, FormatDOCX),
			FileName:       id + ".docx",
			FileFormat:     FormatDOCX,
		},
		Variables: variables,
	}
}

func newTestDataSource(id string, columns ...string) *DataSource {
	cols := make([]Column, len(columns))
	for i, name := range columns {
		cols[i] = Column{Name: name, Type: ColumnString}
	}
	return &DataSource{
		FileRef: FileRef{
			ID:           id,
			SourceMethod: SourceRemotePick,
			RemoteFileID: "remote-" + id,
			FileName:     id + ".xlsx",
			FileFormat:   FormatXLSX,
		},
		Columns: cols,
	}
}

func newTestCertificate(t *testing.T) *Certificate {
	t.Helper()
	c, events, err := NewCertificate("cert-1", "owner-1", "  Course  ", testNow)
	if err != nil {
		t.Fatalf("new certificate: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected created event, got %d", len(events))
	}
	if c.Name() != "Course" || c.Status() != StatusDraft {
		t.Fatalf("unexpected certificate state %q %q", c.Name(), c.Status())
	}
	return c
}

func TestCertificate_TemplateWithoutDataSource(t *testing.T) {
	c := newTestCertificate(t)

	events, err := c.SetTemplate(newTestTemplate("t1", "name", "email"), testNow)
	if err != nil {
		t.Fatalf("set template: %v", err)
	}
	assertMapping(t, c.Mapping(), Mapping{"name": "", "email": ""})
	if len(events) != 2 {
		t.Fatalf("expected template and mapping events, got %d", len(events))
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("invariant: %v", err)
	}
}

func TestCertificate_DataSourceThenTemplate(t *testing.T) {
	c := newTestCertificate(t)
	if _, err := c.SetDataSource(newTestDataSource("d1", "Name", "E-mail"), testNow); err != nil {
		t.Fatalf("set data source: %v", err)
	}
	if c.Mapping() != nil {
		t.Fatalf("expected no mapping without template")
	}

	if _, err := c.SetTemplate(newTestTemplate("t1", "name", "random", "email"), testNow); err != nil {
		t.Fatalf("set template: %v", err)
	}
	assertMapping(t, c.Mapping(), Mapping{"name": "Name", "random": "", "email": "E-mail"})
}

func TestCertificate_ReplaceTemplateKeepsBindings(t *testing.T) {
	c := newTestCertificate(t)
	_, _ = c.SetDataSource(newTestDataSource("d1", "column1", "column2"), testNow)
	_, _ = c.SetTemplate(newTestTemplate("t1", "variable1"), testNow)
	c.mapping = Mapping{"variable1": "column1"}

	events, err := c.SetTemplate(newTestTemplate("t2", "variable1", "column1", "column2"), testNow)
	if err != nil {
		t.Fatalf("replace template: %v", err)
	}
	assertMapping(t, c.Mapping(), Mapping{"variable1": "column1", "column1": "", "column2": "column2"})

	set, ok := events[0].(TemplateSet)
	if !ok {
		t.Fatalf("expected TemplateSet first, got %T", events[0])
	}
	if set.ReplacedTemplateID != "t1" || set.ReplacedStorageFileURL != TemplateObjectKey("owner-1", "t1", FormatDOCX) {
		t.Fatalf("unexpected replaced refs %+v", set)
	}
}

func TestCertificate_RemoveTemplateDropsMapping(t *testing.T) {
	c := newTestCertificate(t)
	_, _ = c.SetDataSource(newTestDataSource("d1", "name"), testNow)
	_, _ = c.SetTemplate(newTestTemplate("t1", "name"), testNow)

	if _, err := c.RemoveTemplate(testNow); err != nil {
		t.Fatalf("remove template: %v", err)
	}
	if c.HasTemplate() || c.Mapping() != nil {
		t.Fatalf("expected template and mapping removed")
	}
	if _, err := c.RemoveTemplate(testNow); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCertificate_RemoveDataSourceNullsMapping(t *testing.T) {
	c := newTestCertificate(t)
	_, _ = c.SetDataSource(newTestDataSource("d1", "name", "email"), testNow)
	_, _ = c.SetTemplate(newTestTemplate("t1", "name", "email"), testNow)

	if _, err := c.RemoveDataSource(testNow); err != nil {
		t.Fatalf("remove data source: %v", err)
	}
	assertMapping(t, c.Mapping(), Mapping{"name": "", "email": ""})
	if err := c.Validate(); err != nil {
		t.Fatalf("invariant: %v", err)
	}
}

func TestCertificate_UpdateColumnsTypeChangeKeepsMapping(t *testing.T) {
	c := newTestCertificate(t)
	_, _ = c.SetDataSource(newTestDataSource("d1", "name", "age"), testNow)
	_, _ = c.SetTemplate(newTestTemplate("t1", "name", "years"), testNow)
	c.mapping = Mapping{"name": "name", "years": "age"}

	events, err := c.UpdateColumns([]Column{{Name: "name", Type: ColumnString}, {Name: "age", Type: ColumnNumber}}, testNow)
	if err != nil {
		t.Fatalf("update columns: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected only ColumnsUpdated, got %d events", len(events))
	}
	assertMapping(t, c.Mapping(), Mapping{"name": "name", "years": "age"})
	col, _ := c.DataSource().Column("age")
	if col.Type != ColumnNumber {
		t.Fatalf("expected age retyped")
	}
}

func TestCertificate_UpdateColumnsRenameResolves(t *testing.T) {
	c := newTestCertificate(t)
	_, _ = c.SetDataSource(newTestDataSource("d1", "Full Name"), testNow)
	_, _ = c.SetTemplate(newTestTemplate("t1", "name"), testNow)

	events, err := c.UpdateColumns([]Column{{Name: "Name", Type: ColumnString}}, testNow)
	if err != nil {
		t.Fatalf("update columns: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected columns and mapping events, got %d", len(events))
	}
	assertMapping(t, c.Mapping(), Mapping{"name": "Name"})
}

func TestCertificate_UpdateColumnsRejectsInvalid(t *testing.T) {
	c := newTestCertificate(t)
	_, _ = c.SetDataSource(newTestDataSource("d1", "a"), testNow)

	_, err := c.UpdateColumns([]Column{{Name: "a", Type: ColumnNumber, ArraySeparator: ","}}, testNow)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = c.UpdateColumns([]Column{{Name: "a", Type: ColumnString}, {Name: "a", Type: ColumnString}}, testNow)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected duplicate column rejected, got %v", err)
	}
}

func TestCertificate_RejectsSpreadsheetAsTemplate(t *testing.T) {
	c := newTestCertificate(t)
	tpl := newTestTemplate("t1")
	tpl.FileFormat = FormatCSV
	if _, err := c.SetTemplate(tpl, testNow); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if c.HasTemplate() {
		t.Fatalf("template must not be attached")
	}
}

func TestCertificate_StatusTransitions(t *testing.T) {
	c := newTestCertificate(t)

	if events := c.MarkScheduled(testNow); len(events) != 1 || c.Status() != StatusScheduled {
		t.Fatalf("expected scheduled, got %s", c.Status())
	}
	if events := c.MarkPublished(testNow); len(events) != 1 || c.Status() != StatusPublished {
		t.Fatalf("expected published, got %s", c.Status())
	}
	if events := c.MarkScheduled(testNow); len(events) != 0 || c.Status() != StatusPublished {
		t.Fatalf("published certificate must stay published")
	}
	if events := c.MarkPublished(testNow); len(events) != 0 {
		t.Fatalf("expected no-op transition")
	}
	events := c.RevertToDraft(testNow)
	changed, ok := events[0].(StatusChanged)
	if !ok || changed.From != StatusPublished || changed.To != StatusDraft {
		t.Fatalf("unexpected event %+v", events)
	}
}

func TestCertificate_EnsureOwner(t *testing.T) {
	c := newTestCertificate(t)
	if err := c.EnsureOwner("owner-1"); err != nil {
		t.Fatalf("owner: %v", err)
	}
	if err := c.EnsureOwner("someone"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := c.EnsureOwner(""); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestCertificate_GenerationInput(t *testing.T) {
	c := newTestCertificate(t)
	if _, err := c.GenerationInput(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found without template, got %v", err)
	}
	_, _ = c.SetTemplate(newTestTemplate("t1", "name"), testNow)
	if _, err := c.GenerationInput(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found without data source, got %v", err)
	}
	_, _ = c.SetDataSource(newTestDataSource("d1", "Name"), testNow)

	input, err := c.GenerationInput()
	if err != nil {
		t.Fatalf("generation input: %v", err)
	}
	if input.FileFormat != FormatDOCX || input.Mapping["name"] != "Name" || len(input.Columns) != 1 {
		t.Fatalf("unexpected input %+v", input)
	}
	input.Mapping["name"] = "changed"
	if c.Mapping()["name"] != "Name" {
		t.Fatalf("generation input must be detached from the aggregate")
	}
}

func TestRehydrate_ValidatesInvariant(t *testing.T) {
	c := newTestCertificate(t)
	_, _ = c.SetTemplate(newTestTemplate("t1", "name"), testNow)
	snapshot := c.Snapshot()

	if _, err := Rehydrate(snapshot); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	snapshot.Mapping = Mapping{"other": ""}
	if _, err := Rehydrate(snapshot); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected invalid mapping to fail, got %v", err)
	}
	snapshot.Template = nil
	snapshot.Mapping = Mapping{}
	if _, err := Rehydrate(snapshot); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected mapping without template to fail, got %v", err)
	}
}
