package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"autoredeem/internal/core"
)

// StatusSource exposes the scheduler state.
type StatusSource interface {
	Snapshot() core.ScheduleState
}

// RunSource reads the run journal.
type RunSource interface {
	GetRun(ctx context.Context, id string) (*core.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*core.Run, error)
}

// Options configures the status server. Runs and Metrics are optional.
type Options struct {
	Addr      string
	AuthToken string
	RunConfig core.RunConfig
	Status    StatusSource
	Runs      RunSource
	Metrics   http.Handler
	Location  *time.Location
	Logger    *slog.Logger
}

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	opts       Options
	logger     *slog.Logger
	location   *time.Location
}

// NewServer constructs the status API server.
func NewServer(opts Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	s := &Server{
		router:   router,
		opts:     opts,
		logger:   opts.Logger,
		location: opts.Location,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("status server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		if s.opts.AuthToken != "" {
			r.Use(AuthMiddleware(s.opts.AuthToken))
		}
		if s.opts.Metrics != nil {
			r.Handle("/metrics", s.opts.Metrics)
		}
		r.Route("/v1", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Post("/schedule/preview", s.handleSchedulePreview)
			r.Route("/runs", func(r chi.Router) {
				r.Get("/", s.handleListRuns)
				r.Get("/{runID}", s.handleGetRun)
				r.Get("/{runID}/log", s.handleRunLog)
			})
		})
	})
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
