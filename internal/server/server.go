// Package server exposes run status, history and metrics over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"whm-backup/internal/backup"
	"whm-backup/internal/daemon"
	"whm-backup/internal/history"
)

// Runs is the scheduler surface used by the API.
type Runs interface {
	Trigger() error
	Status() daemon.Status
	LastReport() *backup.RunReport
}

// Reports is the history surface used by the API.
type Reports interface {
	List(ctx context.Context, limit int) ([]history.RunSummary, error)
	Get(ctx context.Context, runID string) (*backup.RunReport, error)
	Latest(ctx context.Context, kind backup.RunKind) (*backup.RunReport, error)
	AccountHistory(ctx context.Context, accountID string, limit int) ([]history.AccountRun, error)
}

// Config holds the server options.
type Config struct {
	Listen     string
	PathPrefix string
}

// Server serves the HTTP API.
type Server struct {
	cfg     Config
	runs    Runs
	reports Reports
	metrics http.Handler
	logger  zerolog.Logger
	router  *mux.Router
}

// New builds the router. reports and metrics may be nil.
func New(cfg Config, runs Runs, reports Reports, metrics http.Handler, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		runs:    runs,
		reports: reports,
		metrics: metrics,
		logger:  logger.With().Str("component", "server").Logger(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	api := router
	if prefix := strings.TrimRight(s.cfg.PathPrefix, "/"); prefix != "" {
		if !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		api = router.PathPrefix(prefix).Subrouter()
	}

	api.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/api/runs", s.handleTrigger).Methods(http.MethodPost)
	api.HandleFunc("/api/reports", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/api/reports/latest", s.handleLatest).Methods(http.MethodGet)
	api.HandleFunc("/api/reports/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/api/accounts/{id}/history", s.handleAccount).Methods(http.MethodGet)
	if s.metrics != nil {
		api.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return router
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.router,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Listen).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info().Msg("HTTP server stopped")
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Scheduler daemon.Status `json:"scheduler"`
		Summary   string        `json:"last_summary,omitempty"`
	}{Scheduler: s.runs.Status()}
	if last := s.runs.LastReport(); last != nil {
		body.Summary = last.Summary()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	err := s.runs.Trigger()
	switch {
	case errors.Is(err, daemon.ErrBusy):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if !s.requireReports(w) {
		return
	}
	runs, err := s.reports.List(r.Context(), limitParam(r, 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if !s.requireReports(w) {
		return
	}
	kind := backup.RunKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = backup.KindBackup
	}
	report, err := s.reports.Latest(r.Context(), kind)
	s.writeReport(w, report, err)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if !s.requireReports(w) {
		return
	}
	report, err := s.reports.Get(r.Context(), mux.Vars(r)["id"])
	s.writeReport(w, report, err)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireReports(w) {
		return
	}
	runs, err := s.reports.AccountHistory(r.Context(), mux.Vars(r)["id"], limitParam(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) requireReports(w http.ResponseWriter) bool {
	if s.reports == nil {
		writeError(w, http.StatusNotFound, errors.New("run history is not enabled"))
		return false
	}
	return true
}

func (s *Server) writeReport(w http.ResponseWriter, report *backup.RunReport, err error) {
	switch {
	case errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Str("ip", clientIP).
			Msg("HTTP request")
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
