package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/ellwoodwx/stationsync/internal/api/models"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

var (
	// TriggerRateLimit applies to run triggers (6 req/min). Each accepted
	// trigger starts a full collection.
	TriggerRateLimit = RateLimitConfig{
		RequestLimit: 6,
		WindowLength: time.Minute,
	}

	// ReadRateLimit applies to status and run lookups (120 req/min).
	ReadRateLimit = RateLimitConfig{
		RequestLimit: 120,
		WindowLength: time.Minute,
	}
)

// RateLimitByIP limits requests per client IP.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(limitExceeded(cfg)),
	)
}

// RateLimitByOperator limits requests per authenticated operator, falling
// back to the client IP.
func RateLimitByOperator(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(keyByOperatorOrIP),
		httprate.WithLimitHandler(limitExceeded(cfg)),
	)
}

func keyByOperatorOrIP(r *http.Request) (string, error) {
	if operator := GetOperator(r.Context()); operator != "" {
		return "operator:" + operator, nil
	}
	return httprate.KeyByRealIP(r)
}

// limitExceeded writes a 429 problem. httprate does not expose the window
// reset, so Retry-After is the full window.
func limitExceeded(cfg RateLimitConfig) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(cfg.WindowLength.Seconds()))
	return func(w http.ResponseWriter, r *http.Request) {
		problem := models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.")
		problem.Instance = r.URL.Path
		w.Header().Set("Retry-After", retryAfter)
		problem.Write(w)
	}
}
