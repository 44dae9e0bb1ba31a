package http

import (
	"net/http"
	"strings"

	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
)

type rowCallback struct {
	RowID    string `json:"row_id"`
	Success  bool   `json:"success"`
	ByteSize int64  `json:"byte_size"`
}

type batchCallback struct {
	DataSetID  string                        `json:"data_set_id"`
	Status     certificates.GenerationStatus `json:"status"`
	TotalBytes int64                         `json:"total_bytes"`
}

type emailCallback struct {
	EmailID string                        `json:"email_id"`
	Status  certificates.ProcessingStatus `json:"status"`
}

func (h *Handler) handleRowCallback(w http.ResponseWriter, r *http.Request) {
	var req rowCallback
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.service.MarkRowOutcome(r.Context(), application.RowOutcome{
		RowID:    req.RowID,
		Success:  req.Success,
		ByteSize: req.ByteSize,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) handleBatchCallback(w http.ResponseWriter, r *http.Request) {
	var req batchCallback
	if !h.decode(w, r, &req) {
		return
	}
	status := certificates.GenerationStatus(strings.ToUpper(string(req.Status)))
	dataSet, err := h.service.MarkBatchOutcome(r.Context(), req.DataSetID, status, req.TotalBytes)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                dataSet.ID,
		"certificate_id":    dataSet.CertificateID,
		"generation_status": dataSet.GenerationStatus,
		"total_bytes":       dataSet.TotalBytes,
	})
}

func (h *Handler) handleEmailCallback(w http.ResponseWriter, r *http.Request) {
	var req emailCallback
	if !h.decode(w, r, &req) {
		return
	}
	status := certificates.ProcessingStatus(strings.ToUpper(string(req.Status)))
	email, err := h.service.MarkEmailOutcome(r.Context(), req.EmailID, status)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, email)
}
