package app_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellwoodwx/stationsync/internal/app"
	"github.com/ellwoodwx/stationsync/internal/auth"
	"github.com/ellwoodwx/stationsync/internal/collector"
	"github.com/ellwoodwx/stationsync/internal/config"
)

func TestNewLogger_ProductionJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{Env: "production", LogLevel: "warn"}

	log := app.NewLogger(cfg, "stationsync-collector", "1.2.3", &buf)
	log.Info().Msg("dropped")
	log.Warn().Msg("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"service":"stationsync-collector"`)
	assert.Contains(t, out, `"version":"1.2.3"`)
	assert.Contains(t, out, `"message":"kept"`)
}

func TestNewLogger_BadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{Env: "production", LogLevel: "chatty"}

	log := app.NewLogger(cfg, "svc", "dev", &buf)
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewTokenService(t *testing.T) {
	prod := &config.Config{Env: "production"}
	_, err := app.NewTokenService(prod, zerolog.Nop())
	assert.Error(t, err)

	dev := &config.Config{Env: "development"}
	tokens, err := app.NewTokenService(dev, zerolog.Nop())
	require.NoError(t, err)

	token, _, err := tokens.Issue("oncall", auth.ScopeReadStatus)
	require.NoError(t, err)
	claims, err := tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, []string{app.TokenAudience}, []string(claims.Audience))
	assert.Equal(t, app.TokenIssuer, claims.Issuer)
}

func TestNew_CSVPipeline(t *testing.T) {
	t.Setenv("ELLWOOD_MAIN_MAC", "")
	t.Setenv("ELLWOOD_MESA_MAC", "")

	cfg := &config.Config{
		Env:            "test",
		Timezone:       "America/Los_Angeles",
		Sink:           config.SinkCSV,
		DataDir:        filepath.Join(t.TempDir(), "data"),
		RunHistorySize: 5,
	}

	a, err := app.New(context.Background(), cfg, zerolog.Nop(), app.Options{ServiceName: "stationsync-test"})
	require.NoError(t, err)
	defer a.Close(context.Background())

	require.NotNil(t, a.Job)
	require.Len(t, a.Stations.Stations, 2)
	require.Len(t, a.Providers.Snapshot(), 1)

	// Both default stations are inert, so the run touches nothing upstream.
	result := a.Job.Run(context.Background(), collector.Today{})
	assert.Equal(t, 0, result.Stations)
	_, ok := a.Job.History().Get(result.ID)
	assert.True(t, ok)
}

func TestNew_BadStationsFile(t *testing.T) {
	cfg := &config.Config{
		Env:          "test",
		Timezone:     "America/Los_Angeles",
		Sink:         config.SinkCSV,
		DataDir:      t.TempDir(),
		StationsFile: filepath.Join(t.TempDir(), "missing.yaml"),
	}

	_, err := app.New(context.Background(), cfg, zerolog.Nop(), app.Options{ServiceName: "stationsync-test"})
	assert.Error(t, err)
}
