package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"certgen-cloud/internal/audit"
	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
)

const maxJSONBody = 1 << 20

type nameRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleCreateCertificate(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req nameRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.service.CreateCertificate(r.Context(), a, req.Name)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logAudit(r, a, "certificate.create", c.ID(), map[string]any{"name": c.Name()})
	writeJSON(w, http.StatusCreated, c.Snapshot())
}

func (h *Handler) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListCertificates(r.Context(), a)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]certificates.Snapshot, len(list))
	for i, c := range list {
		out[i] = c.Snapshot()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	c, err := h.service.GetCertificate(r.Context(), a, chi.URLParam(r, "certificateID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (h *Handler) handleRenameCertificate(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req nameRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.service.RenameCertificate(r.Context(), a, chi.URLParam(r, "certificateID"), req.Name)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logAudit(r, a, "certificate.rename", c.ID(), map[string]any{"name": c.Name()})
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (h *Handler) handleDeleteCertificate(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "certificateID")
	if err := h.service.DeleteCertificate(r.Context(), a, id); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logAudit(r, a, "certificate.delete", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (application.Actor, bool) {
	a, ok := actor(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: string(certificates.KindAuthentication)})
		return application.Actor{}, false
	}
	return a, true
}

// decode reads a JSON body into v, answering 400 when it is malformed.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		h.respondBadRequest(w, "read body error")
		return false
	}
	defer r.Body.Close()
	if err := json.Unmarshal(body, v); err != nil {
		h.respondBadRequest(w, "invalid json")
		return false
	}
	return true
}

func (h *Handler) logAudit(r *http.Request, a application.Actor, action, certificateID string, metadata map[string]any) {
	if h.auditLogger == nil {
		return
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	if id := requestID(r); id != "" {
		metadata["request_id"] = id
	}
	entry := audit.FromRequest(r, a.ID, action, "certificate", certificateID, metadata)
	entry.CreatedAt = h.now().UTC()
	if err := h.auditLogger.Log(r.Context(), entry); err != nil {
		h.logger.Warn("audit log failed", "action", action, "certificate_id", certificateID, "error", err)
	}
}
