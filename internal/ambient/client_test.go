package ambient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellwoodwx/stationsync/internal/ambient"
	"github.com/ellwoodwx/stationsync/internal/provider/resilience"
)

const (
	testAPIKey = "api-secret-123"
	testAppKey = "app-secret-456"
	testMAC    = "AA:BB:CC:DD:EE:FF"
)

func newClient(baseURL string, registry *resilience.Registry) *ambient.Client {
	cfg := resilience.DefaultClientConfig(ambient.ProviderName)
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.MaxAttempts = 2
	cfg.Registry = registry

	return ambient.NewClient(ambient.ClientConfig{
		APIKey:         testAPIKey,
		ApplicationKey: testAppKey,
		BaseURL:        baseURL,
		HTTPClient:     resilience.NewClient(cfg),
		Registry:       registry,
		Logger:         zerolog.Nop(),
	})
}

func TestClient_DeviceData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+testMAC, r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, testAPIKey, q.Get("apiKey"))
		assert.Equal(t, testAppKey, q.Get("applicationKey"))
		assert.Equal(t, "2024-05-01T07:00:00.000Z", q.Get("startDate"))
		assert.Equal(t, "2024-05-02T07:00:00.000Z", q.Get("endDate"))
		assert.Equal(t, testMAC, q.Get("mac"))
		assert.Equal(t, "288", q.Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"dateutc":1714546800000,"tempf":58.3},{"dateutc":1714547100000,"tempf":58.1}]`))
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	client := newClient(server.URL, registry)

	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, loc)

	records, err := client.DeviceData(context.Background(), testMAC, start, start.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, json.Number("58.3"), records[0]["tempf"])

	health := registry.GetHealth(ambient.ProviderName)
	require.NotNil(t, health)
	assert.NotNil(t, health.LastSuccessAt)
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ambient.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ambient.ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, ambient.ErrRateLimited},
		{"server error", http.StatusInternalServerError, ambient.ErrUpstream},
		{"not found", http.StatusNotFound, ambient.ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			registry := resilience.NewRegistry()
			client := newClient(server.URL, registry)

			_, err := client.DeviceData(context.Background(), testMAC, time.Now().Add(-time.Hour), time.Now())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			health := registry.GetHealth(ambient.ProviderName)
			require.NotNil(t, health)
			assert.NotNil(t, health.LastFailureAt)
		})
	}
}

func TestClient_RedactsCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := newClient(baseURL, nil)

	_, err := client.DeviceData(context.Background(), testMAC, time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testAPIKey)
	assert.NotContains(t, err.Error(), testAppKey)
	assert.ErrorIs(t, err, resilience.ErrMaxRetriesExceeded)
}

func TestClient_BadBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"applicationKey required"}`))
	}))
	defer server.Close()

	_, err := newClient(server.URL, nil).DeviceData(context.Background(), testMAC, time.Now().Add(-time.Hour), time.Now())
	assert.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	client := ambient.NewClient(ambient.ClientConfig{})
	assert.Equal(t, ambient.ProviderName, client.Name())
	assert.Equal(t, ambient.MaxRecordsPerRequest, client.Limit())
}
