package certificates

import (
	"path"
	"strings"
)

// SourceMethod tells where a template or data-source file came from.
type SourceMethod string

const (
	SourceURL        SourceMethod = "URL"
	SourceRemotePick SourceMethod = "REMOTE_PICK"
	SourceUpload     SourceMethod = "UPLOAD"
)

// Valid reports whether m is a known source method.
func (m SourceMethod) Valid() bool {
	switch m {
	case SourceURL, SourceRemotePick, SourceUpload:
		return true
	}
	return false
}

// FileFormat is the closed set of document formats the service understands.
type FileFormat string

const (
	FormatDOCX FileFormat = "docx"
	FormatPPTX FileFormat = "pptx"
	FormatODT  FileFormat = "odt"
	FormatODP  FileFormat = "odp"
	FormatXLSX FileFormat = "xlsx"
	FormatCSV  FileFormat = "csv"
)

// FormatKind separates formats usable as templates from tabular data formats.
type FormatKind int

const (
	KindTemplate FormatKind = iota + 1
	KindSpreadsheet
)

var formatKinds = map[FileFormat]FormatKind{
	FormatDOCX: KindTemplate,
	FormatPPTX: KindTemplate,
	FormatODT:  KindTemplate,
	FormatODP:  KindTemplate,
	FormatXLSX: KindSpreadsheet,
	FormatCSV:  KindSpreadsheet,
}

var formatContentTypes = map[FileFormat]string{
	FormatDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	FormatPPTX: "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	FormatODT:  "application/vnd.oasis.opendocument.text",
	FormatODP:  "application/vnd.oasis.opendocument.presentation",
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	FormatCSV:  "text/csv",
}

// IsTemplate reports whether the format can hold a certificate template.
func (f FileFormat) IsTemplate() bool { return formatKinds[f] == KindTemplate }

// IsSpreadsheet reports whether the format can hold tabular data.
func (f FileFormat) IsSpreadsheet() bool { return formatKinds[f] == KindSpreadsheet }

// ContentType returns the MIME type of the format.
func (f FileFormat) ContentType() string {
	if ct, ok := formatContentTypes[f]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ParseFileFormat validates a format name such as "docx" or ".XLSX".
func ParseFileFormat(value string) (FileFormat, error) {
	format := FileFormat(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(value)), "."))
	if _, ok := formatKinds[format]; !ok {
		return "", Validation("unsupported file format %q", value)
	}
	return format, nil
}

// FormatFromFileName derives the format from a file extension.
func FormatFromFileName(name string) (FileFormat, error) {
	ext := path.Ext(name)
	if ext == "" {
		return "", Validation("file %q has no extension", name)
	}
	return ParseFileFormat(ext)
}

// FormatFromContentType maps a MIME type to a known format.
func FormatFromContentType(contentType string) (FileFormat, error) {
	ct := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	for format, known := range formatContentTypes {
		if strings.EqualFold(known, ct) {
			return format, nil
		}
	}
	return "", Validation("unsupported content type %q", contentType)
}

// FileRef is the file part shared by templates and data sources.
type FileRef struct {
	ID             string       `json:"id"`
	SourceMethod   SourceMethod `json:"source_method"`
	RemoteFileID   string       `json:"remote_file_id,omitempty"`
	StorageFileURL string       `json:"storage_file_url,omitempty"`
	FileName       string       `json:"file_name"`
	FileFormat     FileFormat   `json:"file_format"`
	Thumbnail      string       `json:"thumbnail,omitempty"`
}

// Validate checks the source-method invariants of a file reference.
func (f FileRef) Validate() error {
	if f.ID == "" {
		return Validation("file: empty id")
	}
	if !f.SourceMethod.Valid() {
		return Validation("file: unknown source method %q", f.SourceMethod)
	}
	if f.FileName == "" {
		return Validation("file: empty file name")
	}
	if f.SourceMethod == SourceUpload {
		if f.RemoteFileID != "" {
			return Validation("file: uploaded file cannot reference a remote file")
		}
	} else {
		if f.RemoteFileID == "" {
			return Validation("file: remote file id required for %s", f.SourceMethod)
		}
		if f.StorageFileURL != "" {
			return Validation("file: storage url only allowed for uploads")
		}
	}
	return nil
}
