// Package ratelimit implements the sliding-window request admission control
// of spec.md §4.5. cmd/server/main.go wires it as the only rate limiter; the
// local token-bucket limiter in infrastructure/middleware.RateLimiter is not
// composed with it.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/metrics"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/store"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, only meaningful when !Allowed
}

// Limiter implements the Redis sorted-set sliding window described in
// spec.md §4.5: prune entries older than the window, count survivors,
// admit-and-record if under limit.
type Limiter struct {
	store   *store.Store
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New constructs a Limiter.
func New(s *store.Store, logger *logging.Logger, m *metrics.Metrics) *Limiter {
	return &Limiter{store: s, logger: logger, metrics: m}
}

// Check admits or denies one request for (identity, endpointClass) under
// limit requests per windowSeconds. If the shared store is unreachable the
// limiter fails open and logs a warning, per spec.md §4.5 point 3 — rate
// limiting is protective, not authoritative.
func (l *Limiter) Check(ctx context.Context, identity, endpointClass string, limit, windowSeconds int) Decision {
	key := fmt.Sprintf("rate_limit:%s:%s", identity, endpointClass)
	now := time.Now()
	windowStart := now.Add(-time.Duration(windowSeconds) * time.Second)

	if err := l.store.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart.Unix(), 10)); err != nil {
		return l.failOpen(limit, windowSeconds, err)
	}

	count, err := l.store.ZCount(ctx, key, "-inf", "+inf")
	if err != nil {
		return l.failOpen(limit, windowSeconds, err)
	}

	resetAt := now.Add(time.Duration(windowSeconds) * time.Second)
	if count >= int64(limit) {
		oldestEntries, err := l.store.ZRangeByScoreWithScores(ctx, key, "-inf", "+inf", 1)
		retryAfter := windowSeconds
		if err == nil && len(oldestEntries) > 0 {
			oldest := time.Unix(int64(oldestEntries[0].Score), 0)
			if d := oldest.Add(time.Duration(windowSeconds) * time.Second).Sub(now); d > 0 {
				retryAfter = int(d.Seconds()) + 1
			}
		}
		l.record("denied")
		return Decision{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt, RetryAfter: retryAfter}
	}

	member := fmt.Sprintf("%d-%s", now.UnixNano(), identity)
	if err := l.store.ZAdd(ctx, key, float64(now.Unix()), member); err != nil {
		return l.failOpen(limit, windowSeconds, err)
	}
	_ = l.store.Expire(ctx, key, time.Duration(windowSeconds)*time.Second)

	l.record("allowed")
	remaining := int(limit) - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: limit, Remaining: remaining, ResetAt: resetAt}
}

func (l *Limiter) failOpen(limit, windowSeconds int, err error) Decision {
	if l.logger != nil {
		l.logger.WithFields(map[string]interface{}{
			"subsystem": "ratelimit",
			"error":     err.Error(),
		}).Warn("shared store unavailable, admitting request (fail open)")
	}
	l.record("fail_open")
	return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: time.Now().Add(time.Duration(windowSeconds) * time.Second)}
}

func (l *Limiter) record(decision string) {
	if l.metrics != nil {
		l.metrics.RecordRateLimitDecision("sliding_window", decision)
	}
}
