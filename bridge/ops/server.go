// Package ops serves the health, readiness and metrics endpoints of a running bridge.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "ops").Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "ops").Logger()
}

// ReadyCheck reports whether one dependency is usable.
type ReadyCheck func(ctx context.Context) error

// ServerConfig holds configuration for the ops server
type ServerConfig struct {
	Address       string
	EnableMetrics bool
	RatePerMinute int // 0 disables the per-IP limit
	CheckTimeout  time.Duration
	Checks        map[string]ReadyCheck
}

// Server wraps the HTTP server and provides lifecycle management
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	mux        *chi.Mux
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(config ServerConfig) *Server {
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 5 * time.Second
	}

	mux := chi.NewMux()
	mux.Use(zerologMiddleware)
	mux.Use(zerologRecoverer)
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Timeout(30 * time.Second))

	if config.RatePerMinute > 0 {
		mux.Use(httprate.LimitByIP(config.RatePerMinute, time.Minute))
	}

	if config.EnableMetrics {
		mux.Handle("/server/metrics", promhttp.Handler())
	}

	mux.Get("/server/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "aptos-bridge"})
	})

	s := &Server{config: config, mux: mux}
	mux.Get("/server/ready", s.handleReady)

	s.httpServer = &http.Server{
		Addr:              config.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.CheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.config.Checks))
	for name := range s.config.Checks {
		names = append(names, name)
	}
	slices.Sort(names)

	resp := readyResponse{Status: "ready", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := s.config.Checks[name](ctx); err != nil {
			log.Warn().Err(err).Str("check", name).Msg("readiness check failed")
			resp.Checks[name] = err.Error()
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	log.Info().
		Str("address", s.config.Address).
		Bool("metrics", s.config.EnableMetrics).
		Int("rate_per_minute", s.config.RatePerMinute).
		Msg("ops server starting")

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down ops server")
	return s.httpServer.Shutdown(ctx)
}
