// Package auth provides the HTTP authentication middleware for the
// QubecTalk hosted execution service. The engine has no concept of end
// users, only API callers, so this is deliberately thinner than a
// multi-tenant auth system: every caller is either a holder of the
// static API key or the bearer of a valid HS256 JWT, and the only
// identity carried forward is the caller ID used for audit logging and
// per-key rate limiting.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/qubectalk/internal/api/http/responders"
)

const (
	apiKeyHeader         = "X-API-Key"
	authorizationHeader  = "Authorization"
	bearerPrefix         = "Bearer "
)

// Caller identifies the authenticated party behind a request.
type Caller struct {
	ID     string
	Method string // "api_key" or "jwt"
}

type callerContextKey struct{}

// CallerFromContext extracts the Caller a Middleware attached to ctx.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerContextKey{}).(Caller)
	return c, ok
}

func withCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, c)
}

// Middleware authenticates requests via a static API key or an HS256 JWT.
type Middleware struct {
	apiKey       string
	jwtSecret    []byte
	logger       *slog.Logger
	requireAuth  bool
	allowedPaths map[string]bool

	mu sync.RWMutex
}

// Config configures Middleware.
type Config struct {
	// APIKey is the static key accepted via the X-API-Key header or as a
	// Bearer token. Empty disables API-key authentication.
	APIKey string

	// JWTSecret signs/verifies HS256 bearer tokens. Empty disables JWT
	// authentication.
	JWTSecret string

	// RequireAuth rejects unauthenticated requests with 401 when true.
	RequireAuth bool

	// AllowedPaths bypass authentication entirely (health checks, etc).
	AllowedPaths []string

	Logger *slog.Logger
}

// New builds a Middleware from cfg.
func New(cfg Config) *Middleware {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "auth-middleware")
	}

	allowed := make(map[string]bool, len(cfg.AllowedPaths)+3)
	for _, p := range cfg.AllowedPaths {
		if p = strings.TrimSpace(p); p != "" {
			allowed[p] = true
		}
	}
	allowed["/health"] = true
	allowed["/healthz"] = true
	allowed["/readyz"] = true

	return &Middleware{
		apiKey:       strings.TrimSpace(cfg.APIKey),
		jwtSecret:    []byte(cfg.JWTSecret),
		logger:       logger,
		requireAuth:  cfg.RequireAuth,
		allowedPaths: allowed,
	}
}

// AddAllowedPath registers an additional auth-bypass path (thread-safe).
func (m *Middleware) AddAllowedPath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowedPaths[path] = true
}

func (m *Middleware) isAllowedPath(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allowedPaths[path]
}

// Wrap authenticates the request before delegating to next.
//
// Authentication flow:
//  1. Bypass for allowed paths.
//  2. Authorization: Bearer <token> — tried as an HS256 JWT, falling back
//     to a literal API-key match.
//  3. X-API-Key header — literal API-key match.
//  4. If RequireAuth and nothing matched, 401.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.isAllowedPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if token := bearerToken(r); token != "" {
			if caller, ok := m.tryJWT(token); ok {
				next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
				return
			}
			if m.apiKey != "" && token == m.apiKey {
				caller := Caller{ID: "api-key", Method: "api_key"}
				next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
				return
			}
			m.writeUnauthorized(w, "invalid_token", "invalid bearer token")
			return
		}

		if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
			if m.apiKey != "" && key == m.apiKey {
				caller := Caller{ID: "api-key", Method: "api_key"}
				next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
				return
			}
			m.writeUnauthorized(w, "invalid_api_key", "invalid API key")
			return
		}

		if m.requireAuth {
			m.writeUnauthorized(w, "missing_authentication",
				"authentication required - provide X-API-Key header or Authorization: Bearer <token>")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get(authorizationHeader)
	if strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	}
	return ""
}

func (m *Middleware) tryJWT(token string) (Caller, bool) {
	if len(m.jwtSecret) == 0 {
		return Caller{}, false
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return Caller{}, false
	}

	subject, _ := claims.GetSubject()
	if subject == "" {
		subject = "jwt-caller"
	}
	return Caller{ID: subject, Method: "jwt"}, true
}

// IssueToken signs an HS256 JWT for subject, for CLI/worker
// service-to-service calls. The token carries no expiry unless claims
// includes an "exp". Returns an error if no JWTSecret is configured.
func (m *Middleware) IssueToken(subject string, claims jwt.MapClaims) (string, error) {
	if len(m.jwtSecret) == 0 {
		return "", errors.New("auth: no JWT secret configured")
	}
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims["sub"] = subject

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.jwtSecret)
}

func (m *Middleware) writeUnauthorized(w http.ResponseWriter, code, message string) {
	responders.Unauthorized(w, code, message)
}
