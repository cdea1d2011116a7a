// Package auth issues and validates operator tokens for the ops API.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Operator tokens are HS256 JWTs carrying the operator name as subject and a
// list of scopes. There are no refresh tokens: an expired token is reissued
// with the collector binary.

// DefaultTokenExpiry is how long issued tokens are valid.
const DefaultTokenExpiry = 24 * time.Hour

// Scopes understood by the ops API.
const (
	ScopeReadStatus  = "ops:read"
	ScopeTriggerRuns = "runs:trigger"
)

// Predefined token errors.
var (
	ErrInvalidToken = errors.New("invalid access token")
	ErrTokenExpired = errors.New("access token has expired")
)

// Claims are the claims in an operator token.
type Claims struct {
	jwt.RegisteredClaims

	// Scopes lists what the operator may do.
	Scopes []string `json:"scp"`
}

// Operator returns the operator name.
func (c *Claims) Operator() string {
	return c.Subject
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// TokenConfig holds configuration for the token service.
type TokenConfig struct {
	// SigningKey is the HMAC secret.
	SigningKey string

	// Issuer and Audience are set on issued tokens and required on
	// validated ones.
	Issuer   string
	Audience string

	// Expiry is the token lifetime (default 24h).
	Expiry time.Duration
}

// TokenService handles operator token creation and validation.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   string
	expiry     time.Duration
	now        func() time.Time
}

// NewTokenService creates a new token service.
func NewTokenService(cfg TokenConfig) *TokenService {
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}
	return &TokenService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		expiry:     expiry,
		now:        time.Now,
	}
}

// Issue creates a token for operator with the given scopes.
func (s *TokenService) Issue(operator string, scopes ...string) (string, time.Time, error) {
	if operator == "" {
		return "", time.Time{}, errors.New("operator name is required")
	}

	now := s.now()
	expiresAt := now.Add(s.expiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   operator,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        generateTokenID(),
		},
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses a token and returns its claims.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateTokenID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
