package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	certificates "certgen-cloud/internal/certificates/domain"
)

func (h *Handler) handleCreateEmail(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var draft certificates.EmailDraft
	if !h.decode(w, r, &draft) {
		return
	}
	id := chi.URLParam(r, "certificateID")
	email, err := h.service.CreateEmail(r.Context(), a, id, draft)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logAudit(r, a, "certificate.email.create", id, map[string]any{
		"email_id":  email.ID,
		"scheduled": email.Scheduled(),
		"status":    email.ProcessingStatus,
	})
	writeJSON(w, http.StatusCreated, email)
}

func (h *Handler) handleListEmails(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	emails, err := h.service.ListEmails(r.Context(), a, chi.URLParam(r, "certificateID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if emails == nil {
		emails = []*certificates.Email{}
	}
	writeJSON(w, http.StatusOK, emails)
}

func (h *Handler) handlePreviewEmail(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var draft certificates.EmailDraft
	if !h.decode(w, r, &draft) {
		return
	}
	preview, err := h.service.PreviewEmail(r.Context(), a, chi.URLParam(r, "certificateID"), draft)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}
