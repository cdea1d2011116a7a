package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ellwoodwx/stationsync/internal/api/middleware"
	"github.com/ellwoodwx/stationsync/internal/auth"
)

func TestRateLimitByIP_BlocksOverLimit(t *testing.T) {
	handler := middleware.RequestID(middleware.RateLimitByIP(middleware.RateLimitConfig{
		RequestLimit: 3,
		WindowLength: time.Minute,
	})(http.HandlerFunc(okHandler)))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs/abc", http.NoBody)
		req.RemoteAddr = ip
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send("10.0.0.1:12345").Code, "request %d", i+1)
	}

	rec := send("10.0.0.1:12345")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too-many-requests")
	assert.Contains(t, rec.Body.String(), "/v1/runs/abc")

	assert.Equal(t, http.StatusOK, send("10.0.0.2:12345").Code)
}

func TestRateLimitByOperator_KeysOnOperator(t *testing.T) {
	limited := middleware.Auth(testTokens())(middleware.RateLimitByOperator(middleware.RateLimitConfig{
		RequestLimit: 1,
		WindowLength: 30 * time.Second,
	})(http.HandlerFunc(okHandler)))

	token := issue(t, auth.ScopeTriggerRuns)
	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/runs", http.NoBody)
		req.RemoteAddr = ip
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("192.168.1.1:1000").Code)

	// Same operator from another address shares the budget.
	rec := send("192.168.1.2:1000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestDefaultRateLimitConfigs(t *testing.T) {
	assert.Equal(t, 6, middleware.TriggerRateLimit.RequestLimit)
	assert.Equal(t, time.Minute, middleware.TriggerRateLimit.WindowLength)
	assert.Equal(t, 120, middleware.ReadRateLimit.RequestLimit)
}
