package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"certgen-cloud/internal/certificates/application"
)

var errNoHeader = errors.New("extract: table has no header row")

// readXLSX reads the first sheet of a workbook.
func readXLSX(data []byte) (application.Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return application.Table{}, fmt.Errorf("extract: open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return application.Table{}, errNoHeader
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return application.Table{}, fmt.Errorf("extract: read sheet %q: %w", sheets[0], err)
	}
	return buildTable(records)
}

// readCSV reads comma separated values with a header row.
func readCSV(data []byte) (application.Table, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return application.Table{}, fmt.Errorf("extract: read csv: %w", err)
		}
		records = append(records, record)
	}
	return buildTable(records)
}

// buildTable turns the first record into column names and the rest into
// rows. Blank records are skipped; short records leave trailing cells empty.
func buildTable(records [][]string) (application.Table, error) {
	header := -1
	for i, record := range records {
		if !blankRecord(record) {
			header = i
			break
		}
	}
	if header < 0 {
		return application.Table{}, errNoHeader
	}
	columns := make([]string, 0, len(records[header]))
	for _, cell := range records[header] {
		columns = append(columns, strings.TrimSpace(cell))
	}
	for len(columns) > 0 && columns[len(columns)-1] == "" {
		columns = columns[:len(columns)-1]
	}
	seen := make(map[string]struct{}, len(columns))
	for i, name := range columns {
		if name == "" {
			return application.Table{}, fmt.Errorf("extract: column %d has no name", i+1)
		}
		if _, dup := seen[name]; dup {
			return application.Table{}, fmt.Errorf("extract: duplicate column %q", name)
		}
		seen[name] = struct{}{}
	}

	table := application.Table{Columns: columns}
	for _, record := range records[header+1:] {
		if blankRecord(record) {
			continue
		}
		if len(record) > len(columns) && !blankRecord(record[len(columns):]) {
			return application.Table{}, fmt.Errorf("extract: row %d has more cells than columns", len(table.Rows)+1)
		}
		row := make(map[string]string, len(columns))
		for i, name := range columns {
			if i < len(record) {
				row[name] = record[i]
			} else {
				row[name] = ""
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func blankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
