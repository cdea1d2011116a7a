package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ellwoodwx/stationsync/internal/api/models"
	"github.com/ellwoodwx/stationsync/internal/auth"
)

type claimsKey struct{}

// Auth validates operator bearer tokens and stores the claims in the request
// context.
func Auth(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, r, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if len(authHeader) < len(bearerPrefix) ||
				!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(authHeader[len(bearerPrefix):])
			if tokenString == "" {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			claims, err := tokens.Validate(tokenString)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrTokenExpired):
					writeUnauthorized(w, r, "access token has expired")
				case errors.Is(err, auth.ErrInvalidToken):
					writeUnauthorized(w, r, "invalid access token")
				default:
					writeUnauthorized(w, r, "authentication failed")
				}
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects requests whose token lacks scope. It must run after
// Auth.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				writeUnauthorized(w, r, "authentication required")
				return
			}
			if !claims.HasScope(scope) {
				problem := models.NewForbidden(GetRequestID(r.Context()), "token lacks scope "+scope)
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeUnauthorized writes the 401 problem directly; the response package
// imports this one.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := models.NewUnauthorized(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	w.Header().Set("WWW-Authenticate", `Bearer realm="stationsync"`)
	problem.Write(w)
}

// GetClaims returns the operator claims, or nil when unauthenticated.
func GetClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims
}

// GetOperator returns the authenticated operator name, or "".
func GetOperator(ctx context.Context) string {
	if claims := GetClaims(ctx); claims != nil {
		return claims.Operator()
	}
	return ""
}
