package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellwoodwx/stationsync/internal/api/middleware"
	"github.com/ellwoodwx/stationsync/internal/api/models"
	"github.com/ellwoodwx/stationsync/internal/api/response"
)

// serve runs fn behind the RequestID middleware and returns the recorder.
func serve(t *testing.T, method, path string, fn http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	middleware.RequestID(fn).ServeHTTP(rec, httptest.NewRequest(method, path, http.NoBody))
	return rec
}

func TestJSON_IncludesRequestID(t *testing.T) {
	rec := serve(t, http.MethodGet, "/v1/ops/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "OK"})
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("X-Request-Id"), "req_")
	assert.JSONEq(t, `{"status":"OK"}`, rec.Body.String())
}

func TestJSON_WithoutRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	response.JSON(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody), http.StatusOK, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Request-Id"))
	assert.Empty(t, rec.Body.String())
}

func TestAccepted_SetsLocation(t *testing.T) {
	rec := serve(t, http.MethodPost, "/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		response.Accepted(w, r, "/v1/runs/abc", models.RunAccepted{RunID: "abc", Range: "yesterday"})
	})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/v1/runs/abc", rec.Header().Get("Location"))
	assert.JSONEq(t, `{"runId":"abc","range":"yesterday"}`, rec.Body.String())
}

func TestProblemHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, *http.Request)
		status int
		typ    string
	}{
		{"bad request", func(w http.ResponseWriter, r *http.Request) { response.BadRequest(w, r, "bad", nil) }, http.StatusBadRequest, models.ProblemTypeValidation},
		{"not found", func(w http.ResponseWriter, r *http.Request) { response.NotFound(w, r, "missing") }, http.StatusNotFound, models.ProblemTypeNotFound},
		{"run in progress", func(w http.ResponseWriter, r *http.Request) { response.RunInProgress(w, r, "busy") }, http.StatusConflict, models.ProblemTypeRunInProgress},
		{"internal", func(w http.ResponseWriter, r *http.Request) { response.InternalError(w, r, "boom") }, http.StatusInternalServerError, models.ProblemTypeInternal},
		{"unavailable", func(w http.ResponseWriter, r *http.Request) { response.ServiceUnavailable(w, r, "down") }, http.StatusServiceUnavailable, models.ProblemTypeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, http.MethodGet, "/v1/runs/x", tt.write)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			var p models.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, tt.typ, p.Type)
			assert.Equal(t, "/v1/runs/x", p.Instance)
			assert.Equal(t, rec.Header().Get("X-Request-Id"), p.TraceID)
			assert.NotEmpty(t, p.TraceID)
		})
	}
}
