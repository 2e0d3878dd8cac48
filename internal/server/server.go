package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/freema/askshell/api"
	"github.com/freema/askshell/internal/config"
	"github.com/freema/askshell/internal/redisclient"
	"github.com/freema/askshell/internal/server/handlers"
	"github.com/freema/askshell/internal/server/middleware"
	"github.com/freema/askshell/internal/shell"
	"github.com/freema/askshell/internal/submit"
)

// Server is the admin HTTP server.
type Server struct {
	httpServer *http.Server
	health     *handlers.HealthHandler
}

// New creates the admin server with all routes and middleware. redis may
// be nil, which disables rate limiting and history replay of streams.
func New(cfg *config.Config, scheduler *shell.Scheduler, service *submit.Service, redis *redisclient.Client, version string) *Server {
	healthHandler := handlers.NewHealthHandler(scheduler, redis, version)
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      NewRouter(cfg, healthHandler, service, redis),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // event streams manage their own write deadlines
			IdleTimeout:  60 * time.Second,
		},
		health: healthHandler,
	}
}

// NewRouter builds the route tree. It is separate from New for tests.
func NewRouter(cfg *config.Config, health *handlers.HealthHandler, service *submit.Service, redis *redisclient.Client) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.PrometheusMetrics)

	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	docs := handlers.NewDocsHandler(api.OpenAPISpec)
	r.Get("/api/docs", docs.SwaggerUI)
	r.Get("/api/docs/openapi.yaml", docs.OpenAPISpec)

	runs := handlers.NewRunHandler(service)
	streams := handlers.NewStreamHandler(service, redis)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.BearerAuth(cfg.Server.AuthToken))

		r.Route("/runs", func(r chi.Router) {
			r.With(chimw.Timeout(60*time.Second)).Get("/", runs.List)
			r.With(chimw.Timeout(60*time.Second)).Get("/{runID}", runs.Get)
			r.With(chimw.Timeout(60*time.Second)).Post("/{runID}/kill", runs.Kill)
			r.Get("/{runID}/stream", streams.Stream)

			create := r.With(chimw.Timeout(60 * time.Second))
			if redis != nil && cfg.RateLimit.Enabled && cfg.RateLimit.RunsPerMinute > 0 {
				limiter := middleware.NewRateLimiter(redis, "runs", cfg.RateLimit.RunsPerMinute, time.Minute)
				create = create.With(limiter.Middleware())
			}
			create.Post("/", runs.Create)
		})
	})

	return otelhttp.NewHandler(r, "askshell.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	slog.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown marks the server unready and stops it gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	return s.httpServer.Shutdown(ctx)
}
