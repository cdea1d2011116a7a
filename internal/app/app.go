// Package app wires configuration into the collection pipeline shared by the
// collector and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ellwoodwx/stationsync/internal/ambient"
	"github.com/ellwoodwx/stationsync/internal/auth"
	"github.com/ellwoodwx/stationsync/internal/collector"
	"github.com/ellwoodwx/stationsync/internal/config"
	"github.com/ellwoodwx/stationsync/internal/database"
	"github.com/ellwoodwx/stationsync/internal/dataset"
	"github.com/ellwoodwx/stationsync/internal/provider/resilience"
	"github.com/ellwoodwx/stationsync/internal/station"
	"github.com/ellwoodwx/stationsync/internal/telemetry"
	"github.com/ellwoodwx/stationsync/internal/timestamp"
	"github.com/ellwoodwx/stationsync/internal/window"
)

// Operator token issuer and audience.
const (
	TokenIssuer   = "stationsync"
	TokenAudience = "stationsync-ops"
)

const devSigningKey = "local-dev-signing-key-change-in-production"

// NewLogger builds the process logger. Development gets a console writer.
func NewLogger(cfg *config.Config, service, version string, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	w := out
	if cfg.IsDevelopment() {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
}

// Options select what New builds.
type Options struct {
	ServiceName string
	Version     string

	// StationsFile overrides cfg.StationsFile.
	StationsFile string
}

// App is a wired collection pipeline.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Telemetry *telemetry.Provider
	Providers *resilience.Registry
	Stations  station.Registry
	Upstream  *ambient.Client
	Job       *collector.Job

	pool *pgxpool.Pool
}

// New builds the pipeline: telemetry, station registry, upstream client,
// window fetcher, dataset store and collection job.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	for _, w := range cfg.Warnings() {
		logger.Warn().Msg(w)
	}

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    opts.ServiceName,
		ServiceVersion: opts.Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTelEnabled,
		Insecure:       cfg.OTLPInsecure,
		SampleRatio:    cfg.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	a := &App{Config: cfg, Logger: logger, Telemetry: tp}

	if err := a.build(ctx, opts); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg, logger := a.Config, a.Logger

	if cfg.OTelEnabled {
		logger.Info().Str("otlp_endpoint", cfg.OTLPEndpoint).Msg("OpenTelemetry initialized")
	}

	stations, err := loadStations(opts.StationsFile, cfg.StationsFile)
	if err != nil {
		return err
	}
	a.Stations = stations

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}
	normalizer := timestamp.New(loc)

	a.Providers = resilience.NewRegistry()
	cb := resilience.DefaultCircuitBreakerConfig(ambient.ProviderName)
	cb.OnStateChange = resilience.LogStateChanges(logger)
	httpClient := resilience.NewClient(resilience.ClientConfig{
		Name:           ambient.ProviderName,
		Timeout:        cfg.RequestTimeout,
		MaxAttempts:    cfg.MaxAttempts,
		RetryDelay:     cfg.RetryDelay,
		CircuitBreaker: &cb,
		Logger:         logger,
		Registry:       a.Providers,
	})

	a.Upstream = ambient.NewClient(ambient.ClientConfig{
		APIKey:         cfg.APIKey,
		ApplicationKey: cfg.ApplicationKey,
		BaseURL:        cfg.AmbientBaseURL,
		HTTPClient:     httpClient,
		Registry:       a.Providers,
		Logger:         logger,
	})

	pacing := cfg.Pacing
	if pacing == 0 {
		pacing = -1
	}
	fetcher := window.NewFetcher(window.FetcherConfig{
		Source:     a.Upstream,
		Normalizer: normalizer,
		Pacing:     pacing,
		Limit:      a.Upstream.Limit(),
		Logger:     logger,
	})

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	metrics, err := collector.NewMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	a.Job = collector.NewJob(collector.JobConfig{
		Registry:   stations,
		Fetcher:    fetcher,
		Merger:     dataset.NewMerger(dataset.MergerConfig{Store: store, Logger: logger}),
		Normalizer: normalizer,
		History:    collector.NewHistory(cfg.RunHistorySize),
		Metrics:    metrics,
		Logger:     logger,
	})
	return nil
}

func loadStations(paths ...string) (station.Registry, error) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		reg, err := station.LoadFile(p)
		if err != nil {
			return station.Registry{}, err
		}
		return reg.Resolve(os.Getenv), nil
	}
	return station.DefaultRegistry().Resolve(os.Getenv), nil
}

func (a *App) openStore(ctx context.Context) (dataset.Store, error) {
	if a.Config.Sink != config.SinkPostgres {
		a.Logger.Info().Str("dir", a.Config.DataDir).Msg("writing datasets as CSV")
		return dataset.NewCSVStore(a.Config.DataDir), nil
	}

	dbConfig := database.ConfigFromEnv()
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.pool = pool

	store := dataset.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("creating dataset schema: %w", err)
	}
	a.Logger.Info().Str("database", dbConfig.Redacted()).Msg("writing datasets to postgres")
	return store, nil
}

// Close releases the database pool and flushes telemetry.
func (a *App) Close(ctx context.Context) {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.Telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.Telemetry.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}
}

// NewTokenService builds the operator token service. Outside development a
// signing key is required.
func NewTokenService(cfg *config.Config, logger zerolog.Logger) (*auth.TokenService, error) {
	key := cfg.JWTSigningKey
	if key == "" {
		if !cfg.IsDevelopment() {
			return nil, errors.New("JWT_SIGNING_KEY is required outside development")
		}
		logger.Warn().Msg("using default JWT signing key - not secure for production")
		key = devSigningKey
	}
	return auth.NewTokenService(auth.TokenConfig{
		SigningKey: key,
		Issuer:     TokenIssuer,
		Audience:   TokenAudience,
	}), nil
}
