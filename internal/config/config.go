// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ellwoodwx/stationsync/internal/timestamp"
)

// Dataset sinks.
const (
	SinkCSV      = "csv"
	SinkPostgres = "postgres"
)

// Config holds everything the binaries need. Credentials may be empty; see
// Warnings.
type Config struct {
	Env      string
	LogLevel string
	Port     string

	// Upstream credentials and tuning.
	APIKey         string
	ApplicationKey string
	AmbientBaseURL string
	RequestTimeout time.Duration
	MaxAttempts    uint64
	RetryDelay     time.Duration
	Pacing         time.Duration

	Timezone     string
	StationsFile string

	Sink    string
	DataDir string

	RunHistorySize int

	OTelEnabled  bool
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64

	JWTSigningKey string

	PubSubProjectID    string
	PubSubSubscription string
}

// Load reads .env files (default ".env", missing files are ignored) into the
// environment without overriding variables already set, then builds a Config.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables with defaults.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Env:                getEnvOrDefault("APP_ENV", "development"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		Port:               getEnvOrDefault("APP_PORT", "8080"),
		APIKey:             strings.TrimSpace(os.Getenv("API_KEY")),
		ApplicationKey:     strings.TrimSpace(os.Getenv("APPLICATION_KEY")),
		AmbientBaseURL:     os.Getenv("AMBIENT_BASE_URL"),
		Timezone:           getEnvOrDefault("TIMEZONE", timestamp.DefaultZone),
		StationsFile:       os.Getenv("STATIONS_FILE"),
		Sink:               strings.ToLower(getEnvOrDefault("DATASET_SINK", SinkCSV)),
		DataDir:            getEnvOrDefault("DATA_DIR", "data"),
		OTelEnabled:        os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:       getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:       getEnvOrDefault("OTEL_EXPORTER_OTLP_INSECURE", "true") == "true",
		JWTSigningKey:      os.Getenv("JWT_SIGNING_KEY"),
		PubSubProjectID:    os.Getenv("PUBSUB_PROJECT_ID"),
		PubSubSubscription: os.Getenv("PUBSUB_SUBSCRIPTION"),
	}

	var err error
	if cfg.RequestTimeout, err = durationEnv("AMBIENT_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = durationEnv("FETCH_RETRY_DELAY", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Pacing, err = durationEnv("FETCH_PACING", time.Second); err != nil {
		return nil, err
	}

	attempts, err := intEnv("FETCH_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	if attempts < 1 {
		return nil, fmt.Errorf("invalid FETCH_MAX_ATTEMPTS: must be at least 1")
	}
	cfg.MaxAttempts = uint64(attempts)

	if cfg.RunHistorySize, err = intEnv("RUN_HISTORY_SIZE", 50); err != nil {
		return nil, err
	}
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		if cfg.SampleRatio, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG: %w", err)
		}
	}

	if cfg.Sink != SinkCSV && cfg.Sink != SinkPostgres {
		return nil, fmt.Errorf("invalid DATASET_SINK %q: want %s or %s", cfg.Sink, SinkCSV, SinkPostgres)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	return cfg, nil
}

// Warnings lists configuration gaps that are not fatal.
func (c *Config) Warnings() []string {
	var out []string
	if c.APIKey == "" {
		out = append(out, "API_KEY is not set, upstream requests will be rejected")
	}
	if c.ApplicationKey == "" {
		out = append(out, "APPLICATION_KEY is not set, upstream requests will be rejected")
	}
	return out
}

// IsDevelopment reports whether APP_ENV is development.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
