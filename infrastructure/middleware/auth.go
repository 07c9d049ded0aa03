// Package middleware provides HTTP middleware for the resource server.
package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/errors"
	internalhttputil "github.com/R3E-Network/realtime-resource-server/infrastructure/httputil"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
)

// UserClaims represents the JWT claims issued to an authenticated end user.
// This is the optional auth extension hook: resource and webhook endpoints
// run without it unless JWTAuthMiddleware is wired into the router.
type UserClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// AuthConfig configures JWTAuthMiddleware.
type AuthConfig struct {
	// Secret is the HMAC signing secret (HS256). Required.
	Secret []byte
	Logger *logging.Logger
	// SkipPaths bypass authentication entirely (health checks, webhooks test receiver).
	SkipPaths map[string]bool
}

// JWTAuthMiddleware validates bearer tokens and attaches user_id/role to the
// request context, following the teacher's pattern of caching validated
// tokens for a short TTL to avoid re-parsing a hot token on every request.
type JWTAuthMiddleware struct {
	secret    []byte
	logger    *logging.Logger
	skipPaths map[string]bool

	mu          sync.RWMutex
	cache       map[string]*cachedClaims
	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

type cachedClaims struct {
	claims    *UserClaims
	expiresAt time.Time
}

// NewJWTAuthMiddleware constructs the middleware and starts its background
// cache-eviction goroutine. Call StopCleanup on shutdown.
func NewJWTAuthMiddleware(cfg AuthConfig) *JWTAuthMiddleware {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("auth", "info", "json")
	}
	skip := cfg.SkipPaths
	if skip == nil {
		skip = make(map[string]bool)
	}

	m := &JWTAuthMiddleware{
		secret:      cfg.Secret,
		logger:      logger,
		skipPaths:   skip,
		cache:       make(map[string]*cachedClaims),
		stopCleanup: make(chan struct{}),
	}
	m.startBackgroundCleanup()
	return m
}

// Handler validates the Authorization: Bearer <token> header and, on success,
// stores user_id/role on the request context for downstream handlers.
func (m *JWTAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeAuthError(w, r, errors.Unauthorized("missing bearer token"))
			return
		}

		claims, err := m.validate(token)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("jwt validation failed")
			writeAuthError(w, r, err)
			return
		}

		ctx := logging.WithUserID(r.Context(), claims.UserID)
		ctx = logging.WithRole(ctx, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *JWTAuthMiddleware) validate(tokenString string) (*UserClaims, error) {
	if len(m.secret) == 0 {
		return nil, errors.Internal("jwt auth is not configured", nil)
	}

	if cached := m.getCached(tokenString); cached != nil {
		return cached, nil
	}

	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("alg", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	if !token.Valid {
		return nil, errors.InvalidToken(nil)
	}
	if claims.UserID == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing user_id claim")
	}

	m.cacheClaims(tokenString, claims)
	return claims, nil
}

func (m *JWTAuthMiddleware) getCached(tokenString string) *UserClaims {
	m.mu.RLock()
	cached, ok := m.cache[tokenString]
	m.mu.RUnlock()
	if !ok || time.Now().After(cached.expiresAt) {
		return nil
	}
	return cached.claims
}

func (m *JWTAuthMiddleware) cacheClaims(tokenString string, claims *UserClaims) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cacheExpiry := time.Now().Add(5 * time.Minute)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(cacheExpiry) {
		cacheExpiry = claims.ExpiresAt.Time
	}
	m.cache[tokenString] = &cachedClaims{claims: claims, expiresAt: cacheExpiry}

	if len(m.cache) > 1000 {
		m.evictExpired()
	}
}

func (m *JWTAuthMiddleware) evictExpired() {
	now := time.Now()
	for key, cached := range m.cache {
		if now.After(cached.expiresAt) {
			delete(m.cache, key)
		}
	}
}

func (m *JWTAuthMiddleware) startBackgroundCleanup() {
	m.cleanupOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(2 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					m.mu.Lock()
					m.evictExpired()
					m.mu.Unlock()
				case <-m.stopCleanup:
					return
				}
			}
		}()
	})
}

// StopCleanup stops the background cache-eviction goroutine.
func (m *JWTAuthMiddleware) StopCleanup() {
	select {
	case <-m.stopCleanup:
	default:
		close(m.stopCleanup)
	}
}

// GetUserRole returns the authenticated caller's role from the request context,
// or "" if JWTAuthMiddleware was not applied.
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return ""
	}
	return h[len(prefix):]
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		svcErr = errors.Internal("authentication failed", err)
	}
	internalhttputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
}

// RequireRole wraps a handler, rejecting callers whose context role does not
// match one of the allowed roles. Use after JWTAuthMiddleware.Handler.
func RequireRole(allowed ...string) func(http.Handler) http.Handler {
	allowedSet := make(map[string]bool, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := logging.GetRole(r.Context())
			if !allowedSet[role] {
				writeAuthError(w, r, errors.Forbidden("role not permitted"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
