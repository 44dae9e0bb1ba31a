package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
)

const multipartMemory = 8 << 20

// remoteFileRequest selects a file on the document host, by id or by URL.
type remoteFileRequest struct {
	SourceMethod certificates.SourceMethod `json:"source_method"`
	RemoteFileID string                    `json:"remote_file_id"`
	URL          string                    `json:"url"`
}

type fileSetter func(ctx context.Context, a application.Actor, id string, in application.FileInput) (*certificates.Certificate, error)

func (h *Handler) handleSetTemplate(w http.ResponseWriter, r *http.Request) {
	h.setFile(w, r, "certificate.template.set", h.service.SetTemplate)
}

func (h *Handler) handleSetDataSource(w http.ResponseWriter, r *http.Request) {
	h.setFile(w, r, "certificate.data_source.set", h.service.SetDataSource)
}

func (h *Handler) handleRemoveTemplate(w http.ResponseWriter, r *http.Request) {
	h.removeFile(w, r, "certificate.template.remove", h.service.RemoveTemplate)
}

func (h *Handler) handleRemoveDataSource(w http.ResponseWriter, r *http.Request) {
	h.removeFile(w, r, "certificate.data_source.remove", h.service.RemoveDataSource)
}

// setFile accepts either a multipart upload in the "file" field or a JSON
// body pointing at a document host file.
func (h *Handler) setFile(w http.ResponseWriter, r *http.Request, action string, set fileSetter) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	in, ok := h.readFileInput(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "certificateID")
	c, err := set(r.Context(), a, id, in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logAudit(r, a, action, id, map[string]any{
		"source_method": in.SourceMethod,
		"file_name":     in.FileName,
	})
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (h *Handler) removeFile(w http.ResponseWriter, r *http.Request, action string, remove func(context.Context, application.Actor, string) (*certificates.Certificate, error)) {
	a, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "certificateID")
	c, err := remove(r.Context(), a, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logAudit(r, a, action, id, nil)
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (h *Handler) readFileInput(w http.ResponseWriter, r *http.Request) (application.FileInput, bool) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var req remoteFileRequest
		if !h.decode(w, r, &req) {
			return application.FileInput{}, false
		}
		if req.SourceMethod == "" {
			req.SourceMethod = certificates.SourceRemotePick
			if req.URL != "" {
				req.SourceMethod = certificates.SourceURL
			}
		}
		if req.SourceMethod == certificates.SourceUpload {
			h.respondBadRequest(w, "uploads must be sent as multipart/form-data")
			return application.FileInput{}, false
		}
		return application.FileInput{
			SourceMethod: req.SourceMethod,
			RemoteFileID: req.RemoteFileID,
			URL:          req.URL,
		}, true
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.respondUploadError(w, err)
		return application.FileInput{}, false
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondBadRequest(w, "file field required")
		return application.FileInput{}, false
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		h.respondUploadError(w, err)
		return application.FileInput{}, false
	}
	return application.FileInput{
		SourceMethod: certificates.SourceUpload,
		FileName:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Content:      content,
	}, true
}

func (h *Handler) respondUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload too large", Code: "too_large"})
		return
	}
	h.respondBadRequest(w, "invalid upload")
}
