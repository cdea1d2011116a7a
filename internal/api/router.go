// Package api provides the stationsync ops HTTP API.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ellwoodwx/stationsync/internal/api/handler"
	"github.com/ellwoodwx/stationsync/internal/api/middleware"
	"github.com/ellwoodwx/stationsync/internal/api/models"
	"github.com/ellwoodwx/stationsync/internal/auth"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger

	// Metrics is optional.
	Metrics *middleware.Metrics

	// Tokens validates operator bearer tokens.
	Tokens *auth.TokenService

	Providers handler.ProviderHealthSource
	Runs      handler.RunHistory
	Starter   handler.RunStarter

	RequireTLS bool

	// TriggerLimit overrides middleware.TriggerRateLimit.
	TriggerLimit *middleware.RateLimitConfig
}

// NewRouter creates the chi router with all ops routes.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// RequestID first so every later layer can log and trace it.
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		problem := models.NewNotFound(middleware.GetRequestID(r.Context()), "no such endpoint")
		problem.Instance = r.URL.Path
		problem.Write(w)
	})

	ops := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Providers: cfg.Providers,
		Runs:      cfg.Runs,
	})
	runs := handler.NewRunsHandler(cfg.Starter, cfg.Runs, cfg.Logger)

	authenticate := middleware.Auth(cfg.Tokens)
	triggerLimit := middleware.TriggerRateLimit
	if cfg.TriggerLimit != nil {
		triggerLimit = *cfg.TriggerLimit
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", ops.HealthCheck)
			r.Get("/ready", ops.ReadinessCheck)
			r.With(
				authenticate,
				middleware.RequireScope(auth.ScopeReadStatus),
				middleware.RateLimitByOperator(middleware.ReadRateLimit),
			).Get("/status", ops.SystemStatus)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Use(authenticate)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope(auth.ScopeReadStatus))
				r.Use(middleware.RateLimitByOperator(middleware.ReadRateLimit))
				r.Get("/", runs.ListRuns)
				r.Get("/{runId}", runs.GetRun)
			})

			r.With(
				middleware.RequireScope(auth.ScopeTriggerRuns),
				middleware.RateLimitByOperator(triggerLimit),
				middleware.RequireJSON,
			).Post("/", runs.TriggerRun)
		})
	})

	return r
}
