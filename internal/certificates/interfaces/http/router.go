package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certgen-cloud/internal/audit"
	"certgen-cloud/internal/auth"
	"certgen-cloud/internal/certificates/application"
	"certgen-cloud/internal/eventing"
)

const defaultMaxUploadBytes = 20 << 20

// publicRoutes skip bearer auth; callbacks carry their own signature.
var publicRoutes = auth.NewPolicy("/healthz", "/metrics", "/callbacks/")

// Options configures the HTTP surface.
type Options struct {
	JWTSecret       []byte
	CallbackSecret  []byte
	CallbackMaxSkew time.Duration
	CORSOrigins     []string
	MaxUploadBytes  int64
	RequestTimeout  time.Duration
}

// Handler serves the owner API and the worker callbacks.
type Handler struct {
	service     *application.Service
	auditLogger audit.Logger
	logger      *slog.Logger
	opts        Options
	now         func() time.Time
}

// NewHandler constructs a handler.
func NewHandler(service *application.Service, auditLogger audit.Logger, logger *slog.Logger, opts Options) (*Handler, error) {
	if service == nil {
		return nil, errors.New("certificates handler: nil service")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		service:     service,
		auditLogger: auditLogger,
		logger:      logger,
		opts:        opts,
		now:         time.Now,
	}, nil
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(correlate)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if h.opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(h.opts.RequestTimeout))
	}
	if len(h.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(auth.NewMiddleware(h.opts.JWTSecret, publicRoutes).Wrap)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/callbacks", func(r chi.Router) {
		r.Use(auth.NewCallbackMiddleware(h.opts.CallbackSecret, h.opts.CallbackMaxSkew).Wrap)
		r.Post("/rows", h.handleRowCallback)
		r.Post("/datasets", h.handleBatchCallback)
		r.Post("/emails", h.handleEmailCallback)
	})

	r.Route("/api/v1/certificates", func(r chi.Router) {
		r.Post("/", h.handleCreateCertificate)
		r.Get("/", h.handleListCertificates)
		r.Route("/{certificateID}", func(r chi.Router) {
			r.Get("/", h.handleGetCertificate)
			r.Patch("/", h.handleRenameCertificate)
			r.Delete("/", h.handleDeleteCertificate)

			r.Put("/template", h.handleSetTemplate)
			r.Delete("/template", h.handleRemoveTemplate)
			r.Put("/data-source", h.handleSetDataSource)
			r.Delete("/data-source", h.handleRemoveDataSource)

			r.Put("/columns", h.handleUpdateColumns)
			r.Post("/columns/validate", h.handleValidateColumns)

			r.Get("/rows", h.handleListRows)
			r.Get("/rows/{rowID}/file", h.handleSignedFileURL)
			r.Post("/rows/{rowID}/retry", h.handleRetryRow)

			r.Post("/generate", h.handleGenerateAll)
			r.Post("/retry", h.handleRetryFailed)

			r.Post("/emails", h.handleCreateEmail)
			r.Get("/emails", h.handleListEmails)
			r.Post("/emails/preview", h.handlePreviewEmail)

			r.Get("/report", h.handleReport)
		})
	})
	return r
}

// actor returns the authenticated owner of the request.
func actor(r *http.Request) (application.Actor, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return application.Actor{}, false
	}
	return application.Actor{ID: id.Subject, Email: id.Email}, true
}

// correlate tags events raised by the request with its request id.
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(eventing.WithCorrelationID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
