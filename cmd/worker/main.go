// Package main provides the long-running worker: the ops API plus the
// Pub/Sub job subscriber.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ellwoodwx/stationsync/internal/api"
	"github.com/ellwoodwx/stationsync/internal/api/middleware"
	"github.com/ellwoodwx/stationsync/internal/app"
	"github.com/ellwoodwx/stationsync/internal/config"
	"github.com/ellwoodwx/stationsync/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "stationsync-worker"

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(2)
	}

	log := app.NewLogger(cfg, serviceName, Version, os.Stdout)
	log.Info().
		Str("build_time", BuildTime).
		Msg("starting stationsync worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log, app.Options{
		ServiceName: serviceName,
		Version:     Version,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize worker")
	}
	defer a.Close(context.Background())

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	tokens, err := app.NewTokenService(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token service")
	}

	router := api.NewRouter(api.RouterConfig{
		Version:    Version,
		BuildTime:  BuildTime,
		Logger:     log,
		Metrics:    metrics,
		Tokens:     tokens,
		Providers:  a.Providers,
		Runs:       a.Job.History(),
		Starter:    a.Job,
		RequireTLS: !cfg.IsDevelopment(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("ops API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	if cfg.PubSubProjectID != "" && cfg.PubSubSubscription != "" {
		dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
			Config:   worker.DefaultConfig(),
			Runner:   a.Job,
			Source:   a.Upstream,
			Registry: a.Stations,
			Logger:   log,
		})

		subscriber, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSubProjectID,
			SubscriptionName: cfg.PubSubSubscription,
			Dispatcher:       dispatcher,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create Pub/Sub subscriber")
		}
		defer subscriber.Close()

		go func() {
			if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Pub/Sub subscriber stopped")
			}
		}()
		log.Info().
			Str("subscription", cfg.PubSubSubscription).
			Msg("Pub/Sub subscriber started")
	} else {
		log.Warn().Msg("Pub/Sub not configured - only API-triggered runs are available")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
