package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/clusterq/internal/actionqueue"
	"github.com/me/clusterq/internal/config"
	"github.com/me/clusterq/internal/hosts"
	"github.com/me/clusterq/internal/lifecycle"
	"github.com/me/clusterq/internal/metrics"
	"github.com/me/clusterq/internal/scheduler"
	"github.com/me/clusterq/internal/store"
	"github.com/me/clusterq/internal/ui"
)

// Server is the clusterq REST API server.
type Server struct {
	router      chi.Router
	logger      *slog.Logger
	config      config.ServerConfig
	startTime   time.Time
	store       store.Store
	scheduler   scheduler.Scheduler
	queue       *actionqueue.Queue
	hosts       *hosts.Registry
	jobs        *lifecycle.Machine
	metrics     *metrics.Metrics // optional; nil serves the default registry
	agentKeys   *AgentKeyConfig  // optional; nil disables agent auth
	sseInterval time.Duration
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithMetrics sets the metrics exposed at the configured metrics path.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithAgentKeys enables X-Agent-Key authentication on agent endpoints.
func WithAgentKeys(keys *AgentKeyConfig) Option {
	return func(s *Server) {
		s.agentKeys = keys
	}
}

// WithSSEInterval sets how often job streams poll for state changes.
func WithSSEInterval(d time.Duration) Option {
	return func(s *Server) {
		s.sseInterval = d
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, st store.Store, sched scheduler.Scheduler, q *actionqueue.Queue,
	reg *hosts.Registry, jobs *lifecycle.Machine, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      logger.With("component", "server"),
		config:      cfg,
		startTime:   time.Now(),
		store:       st,
		scheduler:   sched,
		queue:       q,
		hosts:       reg,
		jobs:        jobs,
		sseInterval: 2 * time.Second,
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

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	if s.config.MetricsPath != "" {
		r.Handle(s.config.MetricsPath, s.metrics.Handler())
	}

	if s.config.UIPath != "" {
		dashboard := ui.New(s.store, s.hosts, s.jobs, s.config.UIPath, s.logger)
		r.Route(s.config.UIPath, dashboard.RegisterRoutes)
	}

	agentAuth := agentAuthMiddleware(s.agentKeys, s.logger)

	r.Route("/api/v1", func(r chi.Router) {
		// Discovery
		r.Get("/", s.handleDiscovery)

		// Health
		r.Get("/health", s.handleHealth)

		// Hosts and their action queues
		r.Route("/hosts", func(r chi.Router) {
			r.Get("/", s.handleListHosts)
			r.With(agentAuth).Post("/", s.handleRegisterHost)
			r.Route("/{host}", func(r chi.Router) {
				r.Get("/", s.handleGetHost)
				r.Delete("/", s.handleDecommissionHost)
				r.With(agentAuth).Post("/heartbeat", s.handleHeartbeat)
				r.With(agentAuth).Post("/results", s.handleResult)
				r.Route("/commands", func(r chi.Router) {
					r.Post("/", s.handleEnqueueCommand)
					r.Get("/size", s.handleQueueSize)
					r.With(agentAuth).Post("/next", s.handleNextCommand)
				})
			})
		})

		// Jobs
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleSubmitJob)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Get("/commands", s.handleListJobCommands)
				r.Get("/events", s.handleListJobEvents)
				r.Post("/events", s.handleApplyJobEvent)
				r.Put("/abort", s.handleAbortJob)
			})
		})

		// SSE endpoints for real-time updates
		r.Route("/sse", func(r chi.Router) {
			r.Get("/jobs/{id}", s.handleSSEJob)
		})
	})
}
