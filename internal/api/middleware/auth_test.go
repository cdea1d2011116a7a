package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellwoodwx/stationsync/internal/api/middleware"
	"github.com/ellwoodwx/stationsync/internal/auth"
)

func testTokens() *auth.TokenService {
	return auth.NewTokenService(auth.TokenConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "stationsync",
		Audience:   "stationsync-ops",
	})
}

func issue(t *testing.T, scopes ...string) string {
	t.Helper()
	token, _, err := testTokens().Issue("oncall", scopes...)
	require.NoError(t, err)
	return token
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestAuth_MissingAuthorizationHeader(t *testing.T) {
	handler := middleware.Auth(testTokens())(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing authorization header")
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestAuth_InvalidAuthorizationFormat(t *testing.T) {
	handler := middleware.Auth(testTokens())(http.HandlerFunc(okHandler))

	for name, header := range map[string]string{
		"no bearer prefix": "token123",
		"basic auth":       "Basic dXNlcjpwYXNz",
		"empty bearer":     "Bearer ",
		"just bearer":      "Bearer",
		"garbage token":    "Bearer invalid.jwt.token",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody)
			req.Header.Set("Authorization", header)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuth_ValidToken(t *testing.T) {
	token := issue(t, auth.ScopeReadStatus)

	var operator string
	handler := middleware.Auth(testTokens())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator = middleware.GetOperator(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	for _, prefix := range []string{"Bearer ", "bearer ", "BEARER "} {
		req := httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody)
		req.Header.Set("Authorization", prefix+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, prefix)
		assert.Equal(t, "oncall", operator)
	}
}

func TestRequireScope(t *testing.T) {
	chain := func() http.Handler {
		return middleware.Auth(testTokens())(
			middleware.RequireScope(auth.ScopeTriggerRuns)(http.HandlerFunc(okHandler)))
	}

	tests := []struct {
		name   string
		scopes []string
		want   int
	}{
		{"granted", []string{auth.ScopeReadStatus, auth.ScopeTriggerRuns}, http.StatusOK},
		{"missing scope", []string{auth.ScopeReadStatus}, http.StatusForbidden},
		{"no scopes", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/runs", http.NoBody)
			req.Header.Set("Authorization", "Bearer "+issue(t, tt.scopes...))
			rec := httptest.NewRecorder()

			chain().ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequireScope_WithoutAuth(t *testing.T) {
	rec := httptest.NewRecorder()
	middleware.RequireScope(auth.ScopeReadStatus)(http.HandlerFunc(okHandler)).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetOperator_NoAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	assert.Empty(t, middleware.GetOperator(req.Context()))
	assert.Nil(t, middleware.GetClaims(req.Context()))
}
