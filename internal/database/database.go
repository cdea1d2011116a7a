// Package database opens the PostgreSQL pool behind the postgres dataset
// sink (DATASET_SINK=postgres).
package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultMaxConns caps the pool. Collection runs are serialized, so the sink
// holds at most one connection per merge plus the health of the pool itself.
const DefaultMaxConns = 4

// Config locates the dataset database.
type Config struct {
	// URL, when set, is used as-is and the discrete fields are ignored.
	URL string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns int32

	// ConnectTimeout bounds the initial ping (default 10s).
	ConnectTimeout time.Duration
}

// ConfigFromEnv reads DATABASE_URL or the DB_* variables.
func ConfigFromEnv() Config {
	cfg := Config{
		URL:      os.Getenv("DATABASE_URL"),
		Host:     envOr("DB_HOST", "localhost"),
		Port:     5432,
		User:     envOr("DB_USER", "stationsync"),
		Password: envOr("DB_PASSWORD", "localdev"),
		Database: envOr("DB_NAME", "stationsync"),
		SSLMode:  envOr("DB_SSL_MODE", "disable"),
		MaxConns: DefaultMaxConns,
	}
	if p, err := strconv.Atoi(os.Getenv("DB_PORT")); err == nil && p > 0 {
		cfg.Port = p
	}
	return cfg
}

func (c Config) target() *url.URL {
	return &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
}

// ConnectionString returns the PostgreSQL connection URL.
func (c Config) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return c.target().String()
}

// Redacted returns the connection URL with the password masked, for logs.
func (c Config) Redacted() string {
	if c.URL == "" {
		return c.target().Redacted()
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return "DATABASE_URL"
	}
	return u.Redacted()
}

// Connect opens a pool and pings it once.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		// pgx echoes the DSN in parse errors.
		return nil, fmt.Errorf("parsing connection string for %s", cfg.Redacted())
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging %s: %w", cfg.Redacted(), err)
	}
	return pool, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
