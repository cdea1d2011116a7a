// Package response writes JSON and problem responses for the ops API.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/ellwoodwx/stationsync/internal/api/middleware"
	"github.com/ellwoodwx/stationsync/internal/api/models"
)

// JSON writes data as a JSON response with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Accepted writes a 202 response pointing at the resource to poll.
func Accepted(w http.ResponseWriter, r *http.Request, location string, data any) {
	if location != "" {
		w.Header().Set("Location", location)
	}
	JSON(w, r, http.StatusAccepted, data)
}

// Error writes a problem response for the current request.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

func traceID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}

// BadRequest writes a 400 problem.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(traceID(r), detail, errors))
}

// NotFound writes a 404 problem.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewNotFound(traceID(r), detail))
}

// RunInProgress writes a 409 problem.
func RunInProgress(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewRunInProgress(traceID(r), detail))
}

// InternalError writes a 500 problem.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewInternalError(traceID(r), detail))
}

// ServiceUnavailable writes a 503 problem.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewServiceUnavailable(traceID(r), detail))
}
