// Package api exposes the control endpoints and the gateway proxy over a
// single HTTP listener.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/porter/internal/gateway"
	"github.com/seantiz/porter/internal/sandbox"
	"github.com/seantiz/porter/internal/storage"
	"github.com/seantiz/porter/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Server wraps the chi router and application dependencies.
type Server struct {
	router      *chi.Mux
	manager     *gateway.Manager
	syncer      *storage.Syncer
	store       store.Store
	sandboxes   *sandbox.Registry
	sandboxName string
	proxy       http.Handler
	logger      *slog.Logger
	addr        string
}

// NewServer creates and configures the HTTP server. proxy handles everything
// the control routes do not claim.
func NewServer(addr string, mgr *gateway.Manager, syncer *storage.Syncer, st store.Store, reg *sandbox.Registry, sandboxName string, proxy http.Handler, logger *slog.Logger) *Server {
	srv := &Server{
		router:      chi.NewRouter(),
		manager:     mgr,
		syncer:      syncer,
		store:       st,
		sandboxes:   reg,
		sandboxName: sandboxName,
		proxy:       proxy,
		logger:      logger,
		addr:        addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers control routes first; the catch-all proxies everything
// else to the gateway.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Route("/v1/gateway", func(r chi.Router) {
		r.Get("/status", s.handleGatewayStatus)
		r.Post("/restart", s.handleGatewayRestart)
		r.Get("/launches", s.handleListLaunches)
	})

	s.router.Route("/v1/storage", func(r chi.Router) {
		r.Get("/status", s.handleStorageStatus)
		r.Post("/sync", s.handleTriggerSync)
		r.Get("/syncs", s.handleListSyncRuns)
	})

	s.router.Route("/v1/devices", func(r chi.Router) {
		r.Get("/", s.handleListDevices)
		r.Post("/{id}/approve", s.handleApproveDevice)
	})

	s.router.Handle("/*", http.HandlerFunc(s.handleProxy))
}

// Router returns the chi router for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// handleProxy brings the gateway up if needed and forwards the request.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.EnsureReady(r.Context()); err != nil {
		s.writeStartupError(w, err)
		return
	}
	s.proxy.ServeHTTP(w, r)
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeStartupError maps a gateway startup failure to a diagnostic JSON
// response carrying the failure kind and remediation hint.
func (s *Server) writeStartupError(w http.ResponseWriter, err error) {
	var serr *gateway.StartupError
	if !errors.As(err, &serr) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusBadGateway
	switch serr.Kind {
	case gateway.KindMissingCredential:
		status = http.StatusServiceUnavailable
	case gateway.KindTimeout:
		status = http.StatusGatewayTimeout
	}

	s.writeJSON(w, status, map[string]string{
		"error": serr.Detail,
		"kind":  string(serr.Kind),
		"hint":  serr.Hint,
	})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return v
}
