// Package api exposes the controller over HTTP: manual state-cycle triggers,
// scan scheduling, health probes and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/arl/statsviz"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnscan-armada/internal/domain/task"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
	"github.com/ahrav/vulnscan-armada/pkg/common/otel"
)

// CycleHandler runs one orchestration cycle for a state.
type CycleHandler interface {
	Handle(ctx context.Context, p task.Progress) bool
}

// Scheduler creates and cancels scan schedules.
type Scheduler interface {
	Schedule(ctx context.Context, scanUUID uuid.UUID, startAt, endAt time.Time, webhookURL string) (uuid.UUID, error)
	Cancel(ctx context.Context, scanUUID uuid.UUID) error
}

// ReadinessCheck reports whether the dependencies needed to serve are reachable.
type ReadinessCheck func(ctx context.Context) error

// Config holds the listener settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Debug mounts the live runtime dashboard under /debug/statsviz.
	Debug bool
}

// DefaultConfig returns the listener defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    15 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server is the controller's HTTP surface.
type Server struct {
	cfg       Config
	router    *chi.Mux
	cycles    CycleHandler
	scheduler Scheduler
	ready     ReadinessCheck
	metrics   *httpMetrics

	logger *logger.Logger
	tracer trace.Tracer
}

// NewServer wires the routes. registry receives the HTTP metrics and backs
// the /metrics endpoint; ready may be nil when no dependency needs probing.
func NewServer(
	cfg Config,
	cycles CycleHandler,
	scheduler Scheduler,
	ready ReadinessCheck,
	registry *prometheus.Registry,
	log *logger.Logger,
	tracer trace.Tracer,
) (*Server, error) {
	metrics, err := newHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register http metrics: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otel.Middleware(tracer))
	r.Use(loggerMiddleware(log))
	r.Use(metrics.middleware)
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:       cfg,
		router:    r,
		cycles:    cycles,
		scheduler: scheduler,
		ready:     ready,
		metrics:   metrics,
		logger:    log.With("component", "api_server"),
		tracer:    tracer,
	}
	if err := s.routes(registry); err != nil {
		return nil, err
	}
	return s, nil
}

func loggerMiddleware(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) routes(registry *prometheus.Registry) error {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)

		r.Get("/handlers/{state}", s.handleCycle)

		r.Post("/scans/{scanUUID}/schedule", s.handleSchedule)
		r.Delete("/scans/{scanUUID}/schedule", s.handleCancel)
	})
	s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	if !s.cfg.Debug {
		return nil
	}
	viz, err := statsviz.NewServer()
	if err != nil {
		return fmt.Errorf("failed to create statsviz server: %w", err)
	}
	s.router.Get("/debug/statsviz/ws", viz.Ws())
	s.router.Get("/debug/statsviz", http.RedirectHandler("/debug/statsviz/", http.StatusMovedPermanently).ServeHTTP)
	s.router.Get("/debug/statsviz/*", viz.Index())
	return nil
}

// ServeHTTP lets the server be mounted or exercised with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Start listens until ctx is canceled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		ErrorLog:     logger.NewStdLogger(s.logger, logger.LevelError),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "failed to shutdown server", "error", err)
		}
	}()

	s.logger.Info(ctx, "starting server", "addr", server.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
