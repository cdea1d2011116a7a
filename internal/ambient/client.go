// Package ambient is a client for the Ambient Weather device-data API.
package ambient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ellwoodwx/stationsync/internal/observation"
	"github.com/ellwoodwx/stationsync/internal/provider/resilience"
)

const (
	// ProviderName identifies this upstream in logs and health reports.
	ProviderName = "ambientweather"

	// DefaultBaseURL is the device-data endpoint. Requests go to {base}/{mac}.
	DefaultBaseURL = "https://rt.ambientweather.net/v1/devices"

	// MaxRecordsPerRequest is the upstream page cap.
	MaxRecordsPerRequest = 288

	queryTimeLayout = "2006-01-02T15:04:05.000Z"
	redacted        = "REDACTED"
)

var (
	// ErrUnauthorized is returned when the upstream rejects the credentials.
	ErrUnauthorized = errors.New("ambient: credentials rejected")

	// ErrRateLimited is returned when retries end on a 429.
	ErrRateLimited = errors.New("ambient: rate limited")

	// ErrUpstream is returned for any other non-200 answer.
	ErrUpstream = errors.New("ambient: upstream error")
)

// ClientConfig holds configuration for the Ambient Weather client.
type ClientConfig struct {
	// APIKey and ApplicationKey are the account credentials. They are sent as
	// query parameters and never logged.
	APIKey         string
	ApplicationKey string

	// BaseURL is the device-data endpoint (optional).
	BaseURL string

	// Limit is the per-request record cap (optional, default 288).
	Limit int

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Registry receives call outcomes (optional).
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client queries device data for one station at a time.
type Client struct {
	apiKey         string
	applicationKey string
	baseURL        string
	limit          int
	httpClient     *resilience.Client
	registry       *resilience.Registry
	logger         zerolog.Logger
}

// NewClient creates a new Ambient Weather client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = MaxRecordsPerRequest
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	return &Client{
		apiKey:         cfg.APIKey,
		applicationKey: cfg.ApplicationKey,
		baseURL:        baseURL,
		limit:          limit,
		httpClient:     httpClient,
		registry:       cfg.Registry,
		logger:         cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Limit returns the per-request record cap.
func (c *Client) Limit() int {
	return c.limit
}

// DeviceData fetches the records a device reported between start and end.
// Both bounds are sent as UTC instants.
func (c *Client) DeviceData(ctx context.Context, mac string, start, end time.Time) ([]observation.Raw, error) {
	records, err := c.deviceData(ctx, mac, start, end)
	if c.registry != nil {
		if err != nil {
			c.registry.RecordFailure(c.httpClient.Name(), err)
		} else {
			c.registry.RecordSuccess(c.httpClient.Name())
		}
	}
	return records, err
}

func (c *Client) deviceData(ctx context.Context, mac string, start, end time.Time) ([]observation.Raw, error) {
	q := url.Values{}
	q.Set("apiKey", c.apiKey)
	q.Set("applicationKey", c.applicationKey)
	q.Set("startDate", formatQueryTime(start))
	q.Set("endDate", formatQueryTime(end))
	q.Set("mac", mac)
	q.Set("limit", strconv.Itoa(c.limit))

	endpoint := c.baseURL + "/" + url.PathEscape(mac) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", redact(err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", redact(err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	records, err := observation.DecodeRaw(resp.Body)
	if err != nil {
		return nil, err
	}

	evt := c.logger.Debug().
		Str("mac", mac).
		Time("start", start).
		Time("end", end).
		Int("count", len(records))
	if len(records) > 0 {
		evt = evt.Interface("sample", records[0])
	}
	evt.Msg("fetched device data")

	return records, nil
}

func formatQueryTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(queryTimeLayout)
}

// redact masks credentials in any *url.Error in the chain. The error is
// modified in place so wrapped sentinels survive.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = redactURL(uerr.URL)
	}
	return err
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	q := u.Query()
	for _, k := range []string{"apiKey", "applicationKey"} {
		if q.Has(k) {
			q.Set(k, redacted)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
