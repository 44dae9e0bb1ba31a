package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
	"certgen-cloud/internal/logging"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error          string                      `json:"error"`
	Code           string                      `json:"code"`
	InvalidColumns []application.InvalidColumn `json:"invalid_columns,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// respondError translates a service error into its status code. Internal
// failures are logged with the request id and hidden from the client.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	resp := errorResponse{Error: err.Error(), Code: code}

	var conflict *application.SchemaConflictError
	if errors.As(err, &conflict) {
		resp.Code = "schema_conflict"
		resp.InvalidColumns = conflict.InvalidColumns
	}
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.logger).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func (h *Handler) respondBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: message, Code: "bad_request"})
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, certificates.ErrNotFound):
		return http.StatusNotFound, string(certificates.KindNotFound)
	case errors.Is(err, certificates.ErrForbidden):
		return http.StatusForbidden, string(certificates.KindForbidden)
	case errors.Is(err, certificates.ErrValidation):
		return http.StatusUnprocessableEntity, string(certificates.KindValidation)
	case errors.Is(err, certificates.ErrAuthentication):
		return http.StatusUnauthorized, string(certificates.KindAuthentication)
	case errors.Is(err, certificates.ErrConflict):
		return http.StatusConflict, string(certificates.KindConflict)
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// requestID returns the chi request id, used to correlate audit entries.
func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
