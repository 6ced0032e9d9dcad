// Package api serves the latest refresh snapshot over a read-only JSON API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/IshaanNene/medfeed/internal/config"
	"github.com/IshaanNene/medfeed/internal/entity"
	"github.com/IshaanNene/medfeed/internal/observability"
	"github.com/IshaanNene/medfeed/internal/storage"
)

// Server provides the query API over a snapshot store.
type Server struct {
	router    chi.Router
	cfg       config.APIConfig
	store     *storage.SnapshotStore
	extractor *entity.Extractor
	metrics   *observability.Metrics
	metricsAt string
	httpSrv   *http.Server
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts the Prometheus handler of m at path.
func WithMetrics(m *observability.Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsAt = path
	}
}

// NewServer creates a new API server.
func NewServer(cfg config.APIConfig, store *storage.SnapshotStore, extractor *entity.Extractor, logger *slog.Logger, opts ...Option) *Server {
	if extractor == nil {
		extractor = entity.New()
	}
	s := &Server{
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		logger:    logger.With("component", "api_server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metricsAt == "" {
		s.metricsAt = "/metrics"
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.Timeout > 0 {
		r.Use(middleware.Timeout(s.cfg.Timeout))
	}

	if s.metrics != nil {
		r.Method(http.MethodGet, s.metricsAt, s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/sites", s.handleSites)
		r.Get("/articles", s.handleArticles)
		r.Get("/failures", s.handleFailures)
		r.Get("/entities", s.handleEntities)
	})

	return r
}

// Start listens on the configured port in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	s.logger.Info("API server stopping")
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Load()
	resp := map[string]any{
		"status":           "ok",
		"version":          config.Version,
		"ready":            s.store.Ready(),
		"sites_configured": len(snap.Sites),
		"total_articles":   len(snap.Articles),
		"total_failures":   len(snap.Failures),
	}
	if s.store.Ready() {
		resp["last_refresh"] = snap.RefreshedAt
		resp["refresh_duration"] = snap.Duration.String()
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Load()
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"count": len(snap.Sites),
		"sites": snap.Sites,
	})
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	limit, err := s.parseLimit(r)
	if err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	q := r.URL.Query()
	snap := s.store.Load()
	filtered := FilterArticles(snap.Articles, q.Get("site"), q.Get("q"), limit)

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"last_refresh": snap.RefreshedAt,
		"count":        len(filtered),
		"articles":     filtered,
	})
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Load()
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"count":    len(snap.Failures),
		"failures": snap.Failures,
	})
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	limit, err := s.parseLimit(r)
	if err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	counts := s.extractor.Tally(s.store.Load().Articles)
	if len(counts) > limit {
		counts = counts[:limit]
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"count":    len(counts),
		"entities": counts,
	})
}

// parseLimit reads ?limit=, defaulting to the configured limit and
// capping at the configured maximum.
func (s *Server) parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return s.cfg.DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	if s.cfg.MaxLimit > 0 && n > s.cfg.MaxLimit {
		n = s.cfg.MaxLimit
	}
	return n, nil
}

// requestLogger logs each request through slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("encode response", "error", err)
	}
}
