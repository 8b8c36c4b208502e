// Package ctxutil provides shared context key accessors.
//
// This package exists to break the circular dependency between server and mcp:
// server imports mcp for MCP server setup, and mcp needs to read auth claims
// from the context that server's auth middleware populates. Both packages
// import ctxutil instead of each other.
package ctxutil

import (
	"context"

	"github.com/google/uuid"

	"github.com/rooflinehq/roofline/internal/auth"
)

type contextKey string

const (
	keyClaims    contextKey = "claims"
	keyOrgID     contextKey = "org_id"
	keyRequestID contextKey = "request_id"
)

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, keyClaims, claims)
	ctx = context.WithValue(ctx, keyOrgID, claims.OrgID)
	return ctx
}

// ClaimsFromContext extracts the auth claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// OrgIDFromContext extracts the org_id from the context.
func OrgIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(keyOrgID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// WithRequestID returns a new context carrying the request ID assigned by the
// server middleware. Changelog entries and response envelopes echo it back.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// Actor returns a human-readable identity for changelog attribution: the API
// key label when a session is present, otherwise "system" for internal
// callers (schedulers, CLI maintenance commands).
func Actor(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		if claims.KeyLabel != "" {
			return "key:" + claims.KeyLabel
		}
		return "org:" + claims.OrgID.String()
	}
	return "system"
}
