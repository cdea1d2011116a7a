package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ellwoodwx/stationsync/internal/api/middleware"
)

func TestRequestID_GeneratesNewID(t *testing.T) {
	var fromCtx string
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = middleware.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.True(t, strings.HasPrefix(fromCtx, "req_"))
	assert.Equal(t, fromCtx, rec.Header().Get("X-Request-Id"))
}

func TestRequestID_PreservesExistingID(t *testing.T) {
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "scheduler-run-42", middleware.GetRequestID(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Request-Id", "scheduler-run-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "scheduler-run-42", rec.Header().Get("X-Request-Id"))
}

func TestRequestID_ReplacesOversizedID(t *testing.T) {
	handler := middleware.RequestID(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Request-Id", strings.Repeat("x", 200))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, strings.HasPrefix(rec.Header().Get("X-Request-Id"), "req_"))
}

func TestRequestID_UniqueIDs(t *testing.T) {
	handler := middleware.RequestID(http.HandlerFunc(okHandler))

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

		id := rec.Header().Get("X-Request-Id")
		assert.False(t, seen[id], "duplicate request ID generated: %s", id)
		seen[id] = true
	}
}
