package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/txntag/autotag/internal/domain"
)

// Handler serves the process's liveness/readiness surface. This is the
// entire HTTP surface the engine exposes (spec §2.12, §6): rule CRUD and
// tagging run exclusively through the CLI.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler binds a Handler to the components whose health it reports.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{repo: repo, cache: cache, bus: bus, version: version}
}

// Health reports "healthy" unless a backing component fails its ping.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports readiness to accept CLI-driven work. There is no
// connection-draining concern like an HTTP API would have; this exists so
// orchestrators (k8s readiness probes) have something to poll while
// `serve` is up.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Server wraps the chi router the `serve` subcommand starts.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer builds the ops server's router and middleware stack.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Server {
	handler := NewHandler(repo, cache, bus, version)
	router := chi.NewRouter()

	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Logger)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	return &Server{router: router, handler: handler, config: cfg}
}

// Start runs the HTTP server until it is shut down or fails.
func (s *Server) Start() error {
	host := s.config.Host
	if host == "" {
		host = "0.0.0.0"
	}
	readTimeout := s.config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30
	}
	writeTimeout := s.config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(readTimeout) * time.Second,
		WriteTimeout: time.Duration(writeTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
