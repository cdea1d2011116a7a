package middleware

import (
	"net/http"
	"strings"

	"github.com/ellwoodwx/stationsync/internal/api/models"
)

// SecurityHeaders sets the response headers expected of a JSON-only API.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}

// RequireTLS rejects requests that a proxy reports as plain HTTP. When
// disabled it is a no-op.
func RequireTLS(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" && proto != "https" {
				problem := models.NewForbidden(GetRequestID(r.Context()), "this endpoint requires HTTPS")
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireJSON rejects request bodies that are not declared as JSON. A missing
// Content-Type is accepted.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if r.ContentLength != 0 && ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			problem := models.NewUnsupportedMediaType(GetRequestID(r.Context()), "Content-Type must be application/json")
			problem.Instance = r.URL.Path
			problem.Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
