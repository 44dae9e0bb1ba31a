package application

import (
	"context"
	"fmt"
	"time"

	certificates "certgen-cloud/internal/certificates/domain"
	"certgen-cloud/internal/observability/metrics"
)

// FileInput describes where a template or data-source file comes from.
// Content is used for UPLOAD, RemoteFileID for REMOTE_PICK and URL for URL.
type FileInput struct {
	SourceMethod certificates.SourceMethod
	FileName     string
	ContentType  string
	Content      []byte
	RemoteFileID string
	URL          string
}

type resolvedFile struct {
	ref  certificates.FileRef
	data []byte
}

// SetTemplate attaches or replaces the certificate template. Placeholders are
// read from the document text and the mapping is re-resolved.
func (s *Service) SetTemplate(ctx context.Context, actor Actor, id string, in FileInput) (*certificates.Certificate, error) {
	c, err := loadOwned(ctx, s.stores.Certificates, actor, id)
	if err != nil {
		return nil, err
	}
	file, err := s.resolveFile(ctx, c.OwnerID(), in, certificates.FileFormat.IsTemplate, certificates.TemplateObjectKey)
	if err != nil {
		return nil, err
	}
	text, err := s.extractor.ExtractText(file.data, file.ref.FileFormat)
	if err != nil {
		s.discardUpload(ctx, file.ref)
		return nil, certificates.Validation("cannot read template: %v", err)
	}
	template := &certificates.Template{FileRef: file.ref, Variables: certificates.ExtractVariables(text)}

	out, err := s.mutate(ctx, actor, id, func(ctx context.Context, st Stores, c *certificates.Certificate) ([]certificates.Event, error) {
		return c.SetTemplate(template, s.clock.Now())
	})
	if err != nil {
		s.discardUpload(ctx, file.ref)
		return nil, err
	}
	s.logger.Info("template set",
		"certificate_id", id,
		"template_id", template.ID,
		"format", template.FileFormat,
		"variables", len(template.Variables),
	)
	return out, nil
}

// RemoveTemplate detaches the template and drops the mapping.
func (s *Service) RemoveTemplate(ctx context.Context, actor Actor, id string) (*certificates.Certificate, error) {
	return s.mutate(ctx, actor, id, func(ctx context.Context, st Stores, c *certificates.Certificate) ([]certificates.Event, error) {
		return c.RemoveTemplate(s.clock.Now())
	})
}

// SetDataSource attaches or replaces the data source and ingests its rows.
// Every column starts as a string column. Ingestion is all or nothing: the
// old rows, the new rows, the data-set snapshot and the certificate change
// commit together.
func (s *Service) SetDataSource(ctx context.Context, actor Actor, id string, in FileInput) (*certificates.Certificate, error) {
	start := time.Now()
	c, err := loadOwned(ctx, s.stores.Certificates, actor, id)
	if err != nil {
		return nil, err
	}
	file, err := s.resolveFile(ctx, c.OwnerID(), in, certificates.FileFormat.IsSpreadsheet, certificates.DataSourceObjectKey)
	if err != nil {
		return nil, err
	}

	out, rows, err := s.ingest(ctx, actor, id, file)
	if err != nil {
		s.discardUpload(ctx, file.ref)
		metrics.ObserveIngest(metrics.ResultError, 0, time.Since(start))
		return nil, err
	}
	metrics.ObserveIngest(metrics.ResultSuccess, rows, time.Since(start))
	s.logger.Info("data source ingested",
		"certificate_id", id,
		"data_source_id", file.ref.ID,
		"rows", rows,
	)
	return out, nil
}

func (s *Service) ingest(ctx context.Context, actor Actor, id string, file resolvedFile) (*certificates.Certificate, int, error) {
	table, err := s.extractor.ExtractTable(file.data, file.ref.FileFormat)
	if err != nil {
		return nil, 0, certificates.Validation("cannot read data source: %v", err)
	}
	columns := make([]certificates.Column, len(table.Columns))
	for i, name := range table.Columns {
		columns[i] = certificates.Column{Name: name, Type: certificates.ColumnString}
	}
	dataSource := &certificates.DataSource{FileRef: file.ref, Columns: columns}
	if err := dataSource.Validate(); err != nil {
		return nil, 0, err
	}

	now := s.clock.Now()
	rows := make([]*certificates.DataSourceRow, 0, len(table.Rows))
	for i, raw := range table.Rows {
		row, err := certificates.NewRow(s.ids.NewID(), id, raw, columns, now)
		if err != nil {
			return nil, 0, fmt.Errorf("row %d: %w", i+1, err)
		}
		rows = append(rows, row)
	}
	dataSet, err := certificates.NewDataSet(s.ids.NewID(), id, dataSource.ID, table.Rows, now)
	if err != nil {
		return nil, 0, err
	}

	out, err := s.mutate(ctx, actor, id, func(ctx context.Context, st Stores, c *certificates.Certificate) ([]certificates.Event, error) {
		events, err := c.SetDataSource(dataSource, now)
		if err != nil {
			return nil, err
		}
		if err := st.Rows.DeleteByCertificate(ctx, id); err != nil {
			return nil, err
		}
		if err := st.DataSets.DeleteByCertificate(ctx, id); err != nil {
			return nil, err
		}
		if err := st.Rows.InsertBatch(ctx, rows); err != nil {
			return nil, err
		}
		if err := st.DataSets.Create(ctx, dataSet); err != nil {
			return nil, err
		}
		return append(events, certificates.RowsIngested{
			CertificateID: id,
			DataSetID:     dataSet.ID,
			Rows:          len(rows),
			OccurredAt:    now,
		}), nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, len(rows), nil
}

// RemoveDataSource detaches the data source and its rows. Mapping values
// become null.
func (s *Service) RemoveDataSource(ctx context.Context, actor Actor, id string) (*certificates.Certificate, error) {
	return s.mutate(ctx, actor, id, func(ctx context.Context, st Stores, c *certificates.Certificate) ([]certificates.Event, error) {
		events, err := c.RemoveDataSource(s.clock.Now())
		if err != nil {
			return nil, err
		}
		if err := st.Rows.DeleteByCertificate(ctx, id); err != nil {
			return nil, err
		}
		if err := st.DataSets.DeleteByCertificate(ctx, id); err != nil {
			return nil, err
		}
		return events, nil
	})
}

type objectKeyFunc func(ownerID, fileID string, format certificates.FileFormat) string

// resolveFile loads the bytes and metadata of an input file. Uploaded files
// are stored under the owner's folder before anything else happens.
func (s *Service) resolveFile(ctx context.Context, ownerID string, in FileInput, accept func(certificates.FileFormat) bool, key objectKeyFunc) (resolvedFile, error) {
	fileID := s.ids.NewID()
	switch in.SourceMethod {
	case certificates.SourceUpload:
		return s.resolveUpload(ctx, ownerID, fileID, in, accept, key)
	case certificates.SourceRemotePick, certificates.SourceURL:
		return s.resolveRemote(ctx, fileID, in, accept)
	default:
		return resolvedFile{}, certificates.Validation("unknown source method %q", in.SourceMethod)
	}
}

func (s *Service) resolveUpload(ctx context.Context, ownerID, fileID string, in FileInput, accept func(certificates.FileFormat) bool, key objectKeyFunc) (resolvedFile, error) {
	if len(in.Content) == 0 {
		return resolvedFile{}, certificates.Validation("empty upload")
	}
	format, err := certificates.FormatFromFileName(in.FileName)
	if err != nil && in.ContentType != "" {
		format, err = certificates.FormatFromContentType(in.ContentType)
	}
	if err != nil {
		return resolvedFile{}, err
	}
	if !accept(format) {
		return resolvedFile{}, certificates.Validation("unsupported file format %q", format)
	}
	objectKey := key(ownerID, fileID, format)
	if err := s.objects.Put(ctx, objectKey, in.Content, format.ContentType()); err != nil {
		return resolvedFile{}, fmt.Errorf("store upload: %w", err)
	}
	return resolvedFile{
		ref: certificates.FileRef{
			ID:             fileID,
			SourceMethod:   certificates.SourceUpload,
			StorageFileURL: objectKey,
			FileName:       in.FileName,
			FileFormat:     format,
		},
		data: in.Content,
	}, nil
}

func (s *Service) resolveRemote(ctx context.Context, fileID string, in FileInput, accept func(certificates.FileFormat) bool) (resolvedFile, error) {
	if s.host == nil {
		return resolvedFile{}, certificates.Validation("remote documents are not configured")
	}
	remoteID := in.RemoteFileID
	if in.SourceMethod == certificates.SourceURL {
		id, err := s.host.FileIDFromURL(in.URL)
		if err != nil {
			return resolvedFile{}, certificates.Validation("invalid document url: %v", err)
		}
		remoteID = id
	}
	if remoteID == "" {
		return resolvedFile{}, certificates.Validation("remote file id required")
	}
	meta, err := s.host.Metadata(ctx, remoteID)
	if err != nil {
		return resolvedFile{}, err
	}
	if !accept(meta.Format) {
		return resolvedFile{}, certificates.Validation("unsupported file format %q", meta.Format)
	}
	data, err := s.host.Download(ctx, meta)
	if err != nil {
		return resolvedFile{}, err
	}
	return resolvedFile{
		ref: certificates.FileRef{
			ID:           fileID,
			SourceMethod: in.SourceMethod,
			RemoteFileID: remoteID,
			FileName:     meta.Name,
			FileFormat:   meta.Format,
			Thumbnail:    meta.Thumbnail,
		},
		data: data,
	}, nil
}

// discardUpload removes an upload whose certificate change did not commit.
func (s *Service) discardUpload(ctx context.Context, ref certificates.FileRef) {
	if ref.StorageFileURL == "" {
		return
	}
	if err := s.objects.Delete(ctx, ref.StorageFileURL); err != nil {
		s.logger.Warn("discard upload failed", "key", ref.StorageFileURL, "error", err)
	}
}
