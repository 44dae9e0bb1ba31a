// Package extract reads placeholder text out of document templates and
// tables out of spreadsheets.
package extract

import (
	"errors"
	"fmt"

	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
)

// ErrUnsupported is returned for a format without a reader of the requested kind.
var ErrUnsupported = errors.New("extract: unsupported format")

type textReader func(data []byte) (string, error)

type tableReader func(data []byte) (application.Table, error)

type formatReader struct {
	text  textReader
	table tableReader
}

// Extractor selects a reader by file format.
type Extractor struct {
	readers map[certificates.FileFormat]formatReader
	maxRows int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxRows caps the number of data rows a table may hold. Zero means no cap.
func WithMaxRows(n int) Option {
	return func(e *Extractor) { e.maxRows = n }
}

// New constructs an extractor for every supported format.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		readers: map[certificates.FileFormat]formatReader{
			certificates.FormatDOCX: {text: zipText(docxParts, ooxmlText)},
			certificates.FormatPPTX: {text: zipText(pptxParts, ooxmlText)},
			certificates.FormatODT:  {text: zipText(odfParts, odfText)},
			certificates.FormatODP:  {text: zipText(odfParts, odfText)},
			certificates.FormatXLSX: {table: readXLSX},
			certificates.FormatCSV:  {table: readCSV},
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractText returns the plain text of a template document.
func (e *Extractor) ExtractText(data []byte, format certificates.FileFormat) (string, error) {
	reader, ok := e.readers[format]
	if !ok || reader.text == nil {
		return "", fmt.Errorf("%w: text from %q", ErrUnsupported, format)
	}
	return reader.text(data)
}

// ExtractTable returns the header and data rows of a spreadsheet.
func (e *Extractor) ExtractTable(data []byte, format certificates.FileFormat) (application.Table, error) {
	reader, ok := e.readers[format]
	if !ok || reader.table == nil {
		return application.Table{}, fmt.Errorf("%w: table from %q", ErrUnsupported, format)
	}
	table, err := reader.table(data)
	if err != nil {
		return application.Table{}, err
	}
	if e.maxRows > 0 && len(table.Rows) > e.maxRows {
		return application.Table{}, fmt.Errorf("extract: %d rows exceed the limit of %d", len(table.Rows), e.maxRows)
	}
	return table, nil
}
