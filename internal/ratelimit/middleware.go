package ratelimit

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/errors"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/httputil"
)

// Rule is a (limit, window) pair applied to requests matching some scope.
type Rule struct {
	Limit         int
	WindowSeconds int
}

// Config configures the HTTP middleware, per spec.md §4.5's "default global
// limit, a map of path-prefix overrides, and a per-endpoint decorator
// override" plus excluded paths (health, docs, metrics).
type Config struct {
	Default       Rule
	PathOverrides map[string]Rule // longest-prefix match wins
	ExcludedPaths []string
}

// Middleware wraps the sliding-window Limiter as HTTP middleware.
type Middleware struct {
	limiter *Limiter
	cfg     Config
}

// NewMiddleware constructs a Middleware.
func NewMiddleware(limiter *Limiter, cfg Config) *Middleware {
	if cfg.Default.Limit <= 0 {
		cfg.Default = Rule{Limit: 100, WindowSeconds: 60}
	}
	return &Middleware{limiter: limiter, cfg: cfg}
}

// Handler wraps next with the sliding-window check.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity := httputil.GetUserID(r)
		if identity == "" {
			identity = httputil.ClientIP(r)
		}
		if identity == "" {
			identity = "unknown"
		}

		rule, endpointClass := m.ruleFor(r.URL.Path)
		decision := m.limiter.Check(r.Context(), identity, endpointClass, rule.Limit, rule.WindowSeconds)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
			serviceErr := errors.RateLimitExceeded(decision.Limit, rule.WindowSeconds, decision.RetryAfter)
			serviceErr.WithDetails("current_usage", decision.Limit).WithDetails("retry_after", decision.RetryAfter)
			httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) excluded(path string) bool {
	for _, p := range m.cfg.ExcludedPaths {
		if path == p || strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// ruleFor resolves the effective rule for a request path by longest matching
// prefix in PathOverrides, falling back to Default. The matched prefix (or
// "default") doubles as the endpoint-class component of the rate-limit key.
func (m *Middleware) ruleFor(path string) (Rule, string) {
	bestPrefix := ""
	best := m.cfg.Default
	for prefix, rule := range m.cfg.PathOverrides {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			best = rule
		}
	}
	if bestPrefix == "" {
		return best, "default"
	}
	return best, bestPrefix
}
