// Package main provides the one-shot collection command.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ellwoodwx/stationsync/internal/app"
	"github.com/ellwoodwx/stationsync/internal/auth"
	"github.com/ellwoodwx/stationsync/internal/collector"
	"github.com/ellwoodwx/stationsync/internal/config"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "stationsync-collector"

	var (
		rangeFlag    = flag.String("range", "today", "dates to collect: today, yesterday, days-ago:N, last:N, YYYY-MM-DD or YYYY-MM-DD..YYYY-MM-DD")
		stationsFlag = flag.String("stations", "", "station registry YAML (overrides STATIONS_FILE)")
		envFile      = flag.String("env", ".env", "dotenv file to load if present")
		issueToken   = flag.String("issue-token", "", "print an ops API token for this operator and exit")
		scopes       = flag.String("scopes", auth.ScopeReadStatus, "comma-separated scopes for -issue-token")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(2)
	}

	log := app.NewLogger(cfg, serviceName, Version, os.Stdout)

	if *issueToken != "" {
		printToken(cfg, log, *issueToken, *scopes)
		return
	}

	sel, err := collector.ParseRange(*rangeFlag)
	if err != nil {
		log.Fatal().Err(err).Str("range", *rangeFlag).Msg("invalid range")
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("range", sel.String()).
		Msg("starting stationsync collector")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{
		ServiceName:  serviceName,
		Version:      Version,
		StationsFile: *stationsFlag,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize collector")
	}

	result := a.Job.Run(ctx, sel)
	a.Close(ctx)

	if result.Status == collector.StatusFailed {
		os.Exit(1) //nolint:gocritic // resources are already closed
	}
}

func printToken(cfg *config.Config, log zerolog.Logger, operator, scopeList string) {
	tokens, err := app.NewTokenService(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token service")
	}

	var granted []string
	for _, s := range strings.Split(scopeList, ",") {
		if s = strings.TrimSpace(s); s != "" {
			granted = append(granted, s)
		}
	}

	token, expiresAt, err := tokens.Issue(operator, granted...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to issue token")
	}

	log.Info().
		Str("operator", operator).
		Strs("scopes", granted).
		Time("expires_at", expiresAt).
		Msg("issued ops token")
	fmt.Println(token)
}
