package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
)

type columnsRequest struct {
	Columns []certificates.Column `json:"columns"`
}

type validateColumnsResponse struct {
	Valid          bool                        `json:"valid"`
	InvalidColumns []application.InvalidColumn `json:"invalid_columns"`
}

func (h *Handler) handleUpdateColumns(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req columnsRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "certificateID")
	c, err := h.service.UpdateColumns(r.Context(), a, id, req.Columns)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logAudit(r, a, "certificate.columns.update", id, map[string]any{"columns": len(req.Columns)})
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (h *Handler) handleValidateColumns(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req columnsRequest
	if !h.decode(w, r, &req) {
		return
	}
	invalid, err := h.service.ValidateColumns(r.Context(), a, chi.URLParam(r, "certificateID"), req.Columns)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if invalid == nil {
		invalid = []application.InvalidColumn{}
	}
	writeJSON(w, http.StatusOK, validateColumnsResponse{Valid: len(invalid) == 0, InvalidColumns: invalid})
}

// handleListRows serves GET .../rows?status=FAILED&cursor=<row id>&limit=50.
func (h *Handler) handleListRows(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit := 0
	if value := query.Get("limit"); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			h.respondBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	status := certificates.ProcessingStatus(strings.ToUpper(query.Get("status")))
	page, err := h.service.ListRows(r.Context(), a, chi.URLParam(r, "certificateID"), status, query.Get("cursor"), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if page.Rows == nil {
		page.Rows = []*certificates.DataSourceRow{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleSignedFileURL(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	url, err := h.service.SignedFileURL(r.Context(), a, chi.URLParam(r, "certificateID"), chi.URLParam(r, "rowID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) handleRetryRow(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "certificateID")
	rowID := chi.URLParam(r, "rowID")
	row, err := h.service.RetryRow(r.Context(), a, id, rowID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logAudit(r, a, "certificate.row.retry", id, map[string]any{"row_id": rowID})
	writeJSON(w, http.StatusAccepted, row)
}

func (h *Handler) handleGenerateAll(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "certificateID")
	result, err := h.service.GenerateAll(r.Context(), a, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logAudit(r, a, "certificate.generate", id, map[string]any{"total": result.Total, "dispatched": result.Dispatched})
	writeJSON(w, http.StatusAccepted, result)
}

func (h *Handler) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "certificateID")
	result, err := h.service.RetryFailed(r.Context(), a, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logAudit(r, a, "certificate.retry", id, map[string]any{"total_retrying": result.TotalRetrying})
	writeJSON(w, http.StatusAccepted, result)
}
