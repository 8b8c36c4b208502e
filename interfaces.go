package roofline

import (
	"context"
	"net/http"
)

// IdentityClient delivers identity updates to the member-identity service.
// When provided via WithIdentityClient it replaces the built-in HTTP client
// (or the logging no-op used when ROOFLINE_IDENTITY_URL is unset). The outbox
// relay calls Sync once per queued update; returning an error requeues the
// update with backoff.
type IdentityClient interface {
	Sync(ctx context.Context, update IdentityUpdate) error
}

// ScoreHook receives a notification after every persisted recalculation.
// Multiple hooks may be registered via multiple WithScoreHook calls. Hooks run
// in goroutines with a bounded context — they must not block indefinitely, and
// failures are logged but never fail the originating request.
type ScoreHook interface {
	OnScoreRecalculated(ctx context.Context, report ScoreReport) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux. The
// routes sit behind the same credential chain and instrumentation as the
// built-in /v1 routes. Called once during New() after all built-in routes are
// registered.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the root HTTP handler. Applied outermost (before routing),
// so it sees all requests including /healthz. Multiple middlewares are applied
// in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
