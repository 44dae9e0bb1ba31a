package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
	"certgen-cloud/internal/observability/metrics"
)

const (
	formatJSON = "json"
	formatXLSX = "xlsx"
	formatPDF  = "pdf"

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var reportStatuses = []certificates.ProcessingStatus{
	certificates.ProcessingPending,
	certificates.ProcessingRunning,
	certificates.ProcessingRetrying,
	certificates.ProcessingCompleted,
	certificates.ProcessingFailed,
}

// handleReport serves GET .../report?format=json|xlsx|pdf.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = formatJSON
	}
	if format != formatJSON && format != formatXLSX && format != formatPDF {
		h.respondBadRequest(w, "format must be json, xlsx or pdf")
		return
	}
	report, err := h.service.BuildReport(r.Context(), a, chi.URLParam(r, "certificateID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if format == formatJSON {
		if report.Rows == nil {
			report.Rows = []application.RowSummary{}
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	start := time.Now()
	var (
		data        []byte
		contentType string
	)
	switch format {
	case formatXLSX:
		data, err = BuildReportXLSX(report)
		contentType = xlsxContentType
	case formatPDF:
		data, err = BuildReportPDF(report)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveReportExport(format, metrics.ResultError, time.Since(start))
		h.respondError(w, r, err)
		return
	}
	metrics.ObserveReportExport(format, metrics.ResultSuccess, time.Since(start))

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", reportFileName(report, format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func reportFileName(report application.GenerationReport, format string) string {
	return fmt.Sprintf("certificate-%s-report.%s", report.CertificateID, format)
}

func byteSizeText(size *int64) string {
	if size == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *size)
}

// BuildReportPDF renders a generation report as a PDF table.
func BuildReportPDF(report application.GenerationReport) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Certificate Generation Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Certificate: %s", report.Name))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("ID: %s", report.CertificateID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", report.Status))
	pdf.Ln(5)
	if report.GenerationStatus != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Generation: %s", report.GenerationStatus))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Rows: %d  Total bytes: %d", report.Total(), report.TotalBytes))
	pdf.Ln(5)
	for _, status := range reportStatuses {
		pdf.Cell(0, 6, fmt.Sprintf("%s: %d", status, report.Counts[status]))
		pdf.Ln(5)
	}
	pdf.Ln(3)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(60, 6, "Row", "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 6, "Label", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Bytes", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, row := range report.Rows {
		pdf.CellFormat(60, 6, row.RowID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(60, 6, row.Label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, string(row.Status), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, byteSizeText(row.ByteSize), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReportXLSX renders a generation report as a workbook with a summary
// sheet and one line per row.
func BuildReportXLSX(report application.GenerationReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	rowsSheet := "rows"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(rowsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Certificate Generation Report")
	_ = f.SetCellValue(summarySheet, "A3", "Certificate")
	_ = f.SetCellValue(summarySheet, "B3", report.Name)
	_ = f.SetCellValue(summarySheet, "A4", "ID")
	_ = f.SetCellValue(summarySheet, "B4", report.CertificateID)
	_ = f.SetCellValue(summarySheet, "A5", "Status")
	_ = f.SetCellValue(summarySheet, "B5", string(report.Status))
	_ = f.SetCellValue(summarySheet, "A6", "Generation")
	_ = f.SetCellValue(summarySheet, "B6", string(report.GenerationStatus))
	_ = f.SetCellValue(summarySheet, "A7", "Generated")
	_ = f.SetCellValue(summarySheet, "B7", report.GeneratedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A8", "Rows")
	_ = f.SetCellValue(summarySheet, "B8", report.Total())
	_ = f.SetCellValue(summarySheet, "A9", "Total Bytes")
	_ = f.SetCellValue(summarySheet, "B9", report.TotalBytes)
	for i, status := range reportStatuses {
		line := 11 + i
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", line), string(status))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", line), report.Counts[status])
	}

	_ = f.SetCellValue(rowsSheet, "A1", "Row")
	_ = f.SetCellValue(rowsSheet, "B1", "Label")
	_ = f.SetCellValue(rowsSheet, "C1", "Status")
	_ = f.SetCellValue(rowsSheet, "D1", "Bytes")
	for i, row := range report.Rows {
		line := i + 2
		_ = f.SetCellValue(rowsSheet, fmt.Sprintf("A%d", line), row.RowID)
		_ = f.SetCellValue(rowsSheet, fmt.Sprintf("B%d", line), row.Label)
		_ = f.SetCellValue(rowsSheet, fmt.Sprintf("C%d", line), string(row.Status))
		if row.ByteSize != nil {
			_ = f.SetCellValue(rowsSheet, fmt.Sprintf("D%d", line), *row.ByteSize)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
