// Package adminapi is a small, read-only HTTP status surface for a
// confplane daemon: GET /status, GET /modules, GET /modules/{name}/segments,
// and GET /modules/{name}/segments/{id}. It reports generation and
// per-segment loaded/failed_load state and digest for the "host process
// observes success/failure" requirement. Adapted from the teacher's
// internal/proxy/server.go chi wiring (router setup, graceful shutdown),
// but serving JSON status views instead of proxying requests.
package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/allaspects/confplane/internal/confdispatch"
	"github.com/allaspects/confplane/internal/tracing"
)

// Server is the admin HTTP status surface.
type Server struct {
	router     chi.Router
	dispatcher *confdispatch.Dispatcher
	startTime  time.Time
	addr       string
	httpSrv    *http.Server
}

// NewServer creates a Server bound to addr, reporting on every module
// registered with dispatcher. If tracingEnabled is true, incoming
// requests get a server span via the OpenTelemetry middleware.
func NewServer(dispatcher *confdispatch.Dispatcher, addr string, tracingEnabled bool) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(tracing.HTTPMiddleware)
	}

	s := &Server{
		router:     r,
		dispatcher: dispatcher,
		startTime:  time.Now(),
		addr:       addr,
	}

	r.Get("/status", s.handleStatus)
	r.Get("/modules", s.handleModules)
	r.Get("/modules/{name}/segments", s.handleModuleSegments)
	r.Get("/modules/{name}/segments/{id}", s.handleModuleSegmentByID)

	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: r,
	}

	return s
}

// Router returns the underlying chi.Router, useful for testing.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening for HTTP connections. It blocks until the
// server is shut down or encounters a fatal error.
func (s *Server) Start() error {
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin api server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	Version string   `json:"version"`
	Uptime  string   `json:"uptime"`
	Modules []string `json:"modules"`
}

func formatUptime(start time.Time) string {
	return time.Since(start).Round(time.Second).String()
}
