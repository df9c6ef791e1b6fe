package httpserver

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	appreconcile "github.com/bryanwahyu/skinroutine/internal/application/reconcile"
	"github.com/bryanwahyu/skinroutine/internal/domain/analysis"
	"github.com/bryanwahyu/skinroutine/internal/domain/locking"
	"github.com/bryanwahyu/skinroutine/internal/logger"
	"github.com/bryanwahyu/skinroutine/internal/metrics"
	"github.com/bryanwahyu/skinroutine/internal/middleware"
)

const (
	maxUploadBytes = 10 << 20
	maxJSONBytes   = 1 << 20
)

// Options carries the cross-cutting pieces the router mounts.
type Options struct {
	CORSOrigins []string
	APIKeys     map[string]string
	Limiter     *middleware.RateLimiter
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Checkers    map[string]middleware.HealthChecker
	Log         *logger.Logger
}

type Router struct {
	svc *appreconcile.Service
	log *logger.Logger
}

func NewRouter(svc *appreconcile.Service, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	r := &Router{svc: svc, log: log}
	mux := chi.NewRouter()

	mux.Use(middleware.LoggingMiddleware(log))
	mux.Use(middleware.MetricsMiddleware(opts.Metrics))
	if len(opts.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	mux.Get("/health", middleware.HealthHandler(opts.Checkers))
	mux.Get("/health/ready", middleware.HealthHandler(opts.Checkers))
	mux.Get("/health/live", middleware.LivenessHandler)
	if opts.Gatherer != nil {
		mux.Method(http.MethodGet, "/metrics", middleware.MetricsHandler(opts.Gatherer))
	}

	mux.Route("/v1/users/{userID}", func(rt chi.Router) {
		rt.Use(middleware.APIKeyAuth(opts.APIKeys, log))
		if opts.Limiter != nil {
			rt.Use(middleware.PerUserRateLimit(opts.Limiter))
		}
		rt.Post("/analyses", r.wrap(r.handleAnalyzeImage))
		rt.Post("/analyses/form", r.wrap(r.handleSubmitForm))
		rt.Post("/analyses/raw", r.wrap(r.handleSubmitRaw))
		rt.Get("/analyses/latest", r.wrap(r.handleLatestSnapshot))
		rt.Get("/routines", r.wrap(r.handleListRoutines))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks request-shape errors caught in the handlers.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var br badRequest
		switch {
		case errors.As(err, &br),
			errors.Is(err, appreconcile.ErrInvalidUser),
			errors.Is(err, analysis.ErrInvalidPayload):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, analysis.ErrUpstream):
			http.Error(w, "skin analysis failed: "+err.Error(), http.StatusBadRequest)
		case errors.Is(err, locking.ErrNotObtained):
			w.Header().Set("Retry-After", "1")
			http.Error(w, "another analysis for this user is in progress", http.StatusConflict)
		case errors.Is(err, sql.ErrNoRows):
			http.Error(w, "not found", http.StatusNotFound)
		default:
			r.log.Error("request failed",
				"request_id", middleware.GetRequestID(req.Context()),
				"path", req.URL.Path,
				"error", err,
			)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

func userID(req *http.Request) (int64, error) {
	id, err := middleware.ParseUserID(chi.URLParam(req, "userID"))
	if err != nil {
		return 0, badRequest{err}
	}
	return id, nil
}

// writeJSON encodes before writing the header so an encoding failure can
// still become a 500.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// POST /v1/users/{userID}/analyses
// multipart form with an "image" file part
func (r *Router) handleAnalyzeImage(w http.ResponseWriter, req *http.Request) error {
	uid, err := userID(req)
	if err != nil {
		return err
	}
	req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
	if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
		return badRequest{fmt.Errorf("invalid multipart form: %w", err)}
	}
	file, hdr, err := req.FormFile("image")
	if err != nil {
		return badRequest{fmt.Errorf("image is required: %w", err)}
	}
	defer file.Close()

	contentType := hdr.Header.Get("Content-Type")
	if err := middleware.ValidateImageContentType(contentType); err != nil {
		return badRequest{err}
	}

	res, err := r.svc.AnalyzeImage(req.Context(), uid, file, middleware.SanitizeFilename(hdr.Filename), contentType)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// POST /v1/users/{userID}/analyses/form
func (r *Router) handleSubmitForm(w http.ResponseWriter, req *http.Request) error {
	uid, err := userID(req)
	if err != nil {
		return err
	}
	var form analysis.FormSubmission
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxJSONBytes)).Decode(&form); err != nil {
		return fmt.Errorf("%w: %v", analysis.ErrInvalidPayload, err)
	}
	res, err := r.svc.SubmitForm(req.Context(), uid, form)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// POST /v1/users/{userID}/analyses/raw
// Body: the vendor analysis result, optionally inside a "result" envelope.
func (r *Router) handleSubmitRaw(w http.ResponseWriter, req *http.Request) error {
	uid, err := userID(req)
	if err != nil {
		return err
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxJSONBytes))
	if err != nil {
		return badRequest{err}
	}
	res, err := r.svc.SubmitRaw(req.Context(), uid, payload)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// GET /v1/users/{userID}/analyses/latest
func (r *Router) handleLatestSnapshot(w http.ResponseWriter, req *http.Request) error {
	uid, err := userID(req)
	if err != nil {
		return err
	}
	snap, err := r.svc.LatestSnapshot(req.Context(), uid)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, snap)
}

// GET /v1/users/{userID}/routines
func (r *Router) handleListRoutines(w http.ResponseWriter, req *http.Request) error {
	uid, err := userID(req)
	if err != nil {
		return err
	}
	rows, err := r.svc.ListAssignments(req.Context(), uid)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}
