package resilience

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Predefined errors for resilient operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrMaxRetriesExceeded is returned when all retry attempts have been exhausted.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies this client for circuit breaker naming.
	Name string

	// Timeout is the request timeout for individual HTTP calls.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxAttempts is the total number of tries, the first one included.
	// Default: 3
	MaxAttempts uint64

	// RetryDelay is the fixed wait between attempts.
	// Default: 5 seconds
	RetryDelay time.Duration

	// CircuitBreaker is the circuit breaker configuration.
	// If nil, uses DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig

	// Logger receives one line per failed attempt.
	Logger zerolog.Logger

	// Registry, when set, has the client registered under Name.
	Registry *Registry
}

// DefaultClientConfig returns the defaults used against the station API:
// three attempts, five seconds apart.
func DefaultClientConfig(name string) ClientConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:           name,
		Timeout:        30 * time.Second,
		MaxAttempts:    3,
		RetryDelay:     5 * time.Second,
		CircuitBreaker: &cbConfig,
		Logger:         zerolog.Nop(),
	}
}

// Client is a resilient HTTP client with circuit breaker and retry logic.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
	config         ClientConfig
}

// NewClient creates a new resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Second
	}

	var cb *gobreaker.CircuitBreaker[*http.Response]
	if cfg.CircuitBreaker != nil {
		cb = NewCircuitBreaker[*http.Response](*cfg.CircuitBreaker) //nolint:bodyclose // type param, not response
	} else {
		defaultCB := DefaultCircuitBreakerConfig(cfg.Name)
		cb = NewCircuitBreaker[*http.Response](defaultCB) //nolint:bodyclose // type param, not response
	}

	client := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		circuitBreaker: cb,
		config:         cfg,
	}

	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, client)
	}

	return client
}

// Name returns the client name.
func (c *Client) Name() string {
	return c.config.Name
}

// Do executes an HTTP request with circuit breaker protection and retry logic.
// Transient failures (network errors, 429, 5xx) are retried after a fixed delay.
// Returns immediately with ErrCircuitOpen if the circuit breaker is open.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext executes an HTTP request with the given context. When every
// attempt ended with a retryable status, the last response is returned with a
// nil error and the caller inspects the status code.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.config.RetryDelay), c.config.MaxAttempts-1),
		ctx,
	)

	var lastResp *http.Response
	attempt := 0

	operation := func() error {
		attempt++
		if lastResp != nil {
			lastResp.Body.Close()
			lastResp = nil
		}

		// Retryable statuses are returned as errors so they count against the breaker.
		resp, err := c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // caller is responsible for closing
			reqClone := req.Clone(ctx)
			r, err := c.httpClient.Do(reqClone)
			if err != nil {
				return nil, stripQuery(err)
			}

			if r.StatusCode >= 500 {
				return r, &ServerError{StatusCode: r.StatusCode}
			}
			if r.StatusCode == http.StatusTooManyRequests {
				return r, &ServerError{StatusCode: r.StatusCode}
			}

			return r, nil
		})

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				return backoff.Permanent(ErrCircuitOpen)
			}
			if errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}

			if resp != nil {
				lastResp = resp
			}
			return err
		}

		lastResp = resp
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.config.Logger.Warn().
			Str("provider", c.config.Name).
			Int("attempt", attempt).
			Uint64("max_attempts", c.config.MaxAttempts).
			Dur("retry_in", wait).
			Str("error", err.Error()).
			Msg("attempt failed, retrying")
	}

	err := backoff.RetryNotify(operation, bo, notify)
	if err != nil {
		if lastResp != nil {
			return lastResp, nil
		}
		if errors.Is(err, ErrCircuitOpen) || ctx.Err() != nil {
			return nil, err
		}
		return nil, errors.Join(ErrMaxRetriesExceeded, err)
	}

	return lastResp, nil
}

// stripQuery drops the query string from a transport error's URL. Upstream
// credentials travel as query parameters and must not reach logs.
func stripQuery(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if u, perr := url.Parse(uerr.URL); perr == nil {
			u.RawQuery = ""
			uerr.URL = u.String()
		} else {
			uerr.URL = ""
		}
	}
	return err
}

// ServerError represents a retryable HTTP status (5xx or 429).
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}
