// Package ratelimit provides pluggable request rate limiting.
//
// Multi-instance deployments use the Redis-backed sliding window so limits
// hold across replicas. Single-node installs can use the in-memory
// equivalent, and NoopLimiter disables limiting entirely.
package ratelimit

import (
	"context"
	"strconv"
	"time"
)

// Rule describes one rate limit: at most Limit requests per Window, counted
// separately under each Prefix so different endpoint classes get independent
// budgets.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// Result is the outcome of a single Allow check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// FormatHeaders returns the standard X-RateLimit-* response headers.
func (r Result) FormatHeaders() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}
}

// Limiter decides whether a request identified by key should proceed under
// the given rule. Implementations must be safe for concurrent use and must
// fail open: a limiter malfunction permits the request rather than blocking
// traffic.
type Limiter interface {
	Allow(ctx context.Context, rule Rule, key string) Result

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always permits the request with a full remaining budget.
func (NoopLimiter) Allow(_ context.Context, rule Rule, _ string) Result {
	return Result{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit,
		ResetAt:   time.Now().Add(rule.Window),
	}
}

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
