// Package server exposes a running simulation over HTTP: scheduler
// snapshots, per-core queues, simulation statistics, recorded trace
// runs and a live SSE event stream. The server only observes; all
// scheduling happens in the simulator it is given.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/runq/internal/sim"
	"github.com/me/runq/internal/trace"
)

const version = "0.1.0"

// Server is the runq monitor API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	startTime time.Time
	sim       *sim.Sim
	store     *trace.Store  // optional; trace endpoints 503 without it
	mem       *trace.Memory // optional; SSE endpoint 503 without it
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithTraceStore enables the /trace endpoints backed by st.
func WithTraceStore(st *trace.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithLiveTrace enables the SSE event stream backed by the in-memory
// ring the simulator records into.
func WithLiveTrace(mem *trace.Memory) Option {
	return func(s *Server) { s.mem = mem }
}

// New creates a Server with all routes registered.
func New(simulator *sim.Sim, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "monitor"),
		startTime: time.Now(),
		sim:       simulator,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Get("/state", s.handleState)
		r.Get("/stats", s.handleStats)
		r.Get("/threads", s.handleListThreads)
		r.Route("/cores", func(r chi.Router) {
			r.Get("/", s.handleListCores)
			r.Get("/{id}", s.handleGetCore)
		})

		r.Route("/trace", func(r chi.Router) {
			r.Route("/runs", func(r chi.Router) {
				r.Get("/", s.handleListRuns)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetRun)
					r.Delete("/", s.handleDeleteRun)
					r.Get("/events", s.handleListRunEvents)
				})
			})
		})

		r.Route("/sse", func(r chi.Router) {
			r.Get("/events", s.handleSSEEvents)
		})
	})
}
