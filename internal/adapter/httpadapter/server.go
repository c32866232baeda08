package httpadapter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/relative-yield-service/internal/adapter/remote"
	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"github.com/couchcryptid/relative-yield-service/internal/preview"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
	previewTitle     = "Relative yield"
)

// OutputSource provides the raster shown by the preview endpoints.
type OutputSource interface {
	LatestOutput() (domain.OutputRaster, bool)
}

// RunHistory looks up recorded run reports.
type RunHistory interface {
	Get(ctx context.Context, runID string) (domain.RunReport, error)
	Recent(ctx context.Context, limit int) ([]domain.RunReport, error)
}

// Routes are the optional endpoints. A nil field leaves its routes unregistered.
type Routes struct {
	Outputs OutputSource
	History RunHistory
	// Evaluator serves POST /v1/evaluate for other instances using the remote engine.
	Evaluator domain.RasterPipeline
	// EvaluateMaxPixels caps the region grid of an evaluation request.
	EvaluateMaxPixels int64
}

// Server exposes health, readiness, metrics, preview and run history endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// routes enabled in routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, routes Routes, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	writeTimeout := 10 * time.Second
	if routes.Evaluator != nil {
		// Evaluations run for minutes and are bounded by the caller's timeout.
		writeTimeout = 0
	}

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: writeTimeout,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	if routes.Outputs != nil {
		mux.HandleFunc("GET /preview", s.handlePreview(routes.Outputs, "text/html; charset=utf-8", preview.HTML))
		mux.HandleFunc("GET /preview.png", s.handlePreview(routes.Outputs, "image/png", preview.PNG))
	}
	if routes.History != nil {
		mux.HandleFunc("GET /runs", s.handleRuns(routes.History))
		mux.HandleFunc("GET /runs/{id}", s.handleRun(routes.History))
	}
	if routes.Evaluator != nil {
		mux.HandleFunc("POST "+remote.EvaluatePath, remote.Handler(routes.Evaluator, routes.EvaluateMaxPixels, logger))
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type renderFunc func(w io.Writer, o domain.OutputRaster, title string) error

func (s *Server) handlePreview(src OutputSource, contentType string, render renderFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, ok := src.LatestOutput()
		if !ok {
			sharedobs.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "no run has completed yet"})
			return
		}
		title := r.URL.Query().Get("title")
		if title == "" {
			title = previewTitle
		}

		var buf bytes.Buffer
		if err := render(&buf, out, title); err != nil {
			s.logger.Error("render preview failed", "path", r.URL.Path, "error", err)
			sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes()) //nolint:errcheck // client may have gone away
	}
}

func (s *Server) handleRuns(history RunHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRunsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxRunsLimit {
				sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be 1-100"})
				return
			}
			limit = n
		}
		runs, err := history.Recent(r.Context(), limit)
		if err != nil {
			s.logger.Error("list runs failed", "error", err)
			sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if runs == nil {
			runs = []domain.RunReport{}
		}
		sharedobs.WriteJSON(w, http.StatusOK, runs)
	}
}

func (s *Server) handleRun(history RunHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := history.Get(r.Context(), r.PathValue("id"))
		switch {
		case errors.Is(err, domain.ErrRunNotFound):
			sharedobs.WriteJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case err != nil:
			s.logger.Error("get run failed", "error", err)
			sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			sharedobs.WriteJSON(w, http.StatusOK, run)
		}
	}
}
