// Package auth validates bearer tokens on the HTTP surface. Tokens are
// HMAC-signed JWTs; a skip-auth escape hatch exists for local development.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

// SubjectContextKey carries the authenticated subject through request
// contexts.
const SubjectContextKey contextKey = "auth.subject"

var (
	ErrMissingToken = errors.New("authorization token required")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the JWT claims ragcore issues and accepts.
type Claims struct {
	jwt.RegisteredClaims
}

// Manager signs and validates access tokens.
type Manager struct {
	secret   []byte
	issuer   string
	tokenTTL time.Duration
}

// NewManager creates a token manager. An empty secret is rejected at
// wiring time, not here.
func NewManager(secret, issuer string, tokenTTL time.Duration) *Manager {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &Manager{secret: []byte(secret), issuer: issuer, tokenTTL: tokenTTL}
}

// Issue creates a signed token for a subject.
func (m *Manager) Issue(subject string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Validate parses and verifies a token, returning its subject.
func (m *Manager) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// ExtractBearerToken pulls the token out of an Authorization header.
func ExtractBearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// Middleware guards HTTP handlers.
type Middleware struct {
	manager  *Manager
	skipAuth bool
	log      *zap.Logger
}

// NewMiddleware creates the auth middleware. skipAuth disables all checks
// for local development.
func NewMiddleware(manager *Manager, skipAuth bool, logger *zap.Logger) *Middleware {
	if skipAuth {
		logger.Warn("Authentication disabled")
	}
	return &Middleware{manager: manager, skipAuth: skipAuth, log: logger}
}

// Handler wraps next with bearer-token validation.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			ctx := context.WithValue(r.Context(), SubjectContextKey, "dev")
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, `{"error":"authorization token required"}`, http.StatusUnauthorized)
			return
		}
		token, err := ExtractBearerToken(header)
		if err != nil {
			http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
			return
		}
		subject, err := m.manager.Validate(token)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), SubjectContextKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Subject returns the authenticated subject from a request context.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(SubjectContextKey).(string)
	return s
}
