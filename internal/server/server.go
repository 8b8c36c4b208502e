package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/rooflinehq/roofline/internal/auth"
	"github.com/rooflinehq/roofline/internal/ctxutil"
	"github.com/rooflinehq/roofline/internal/ratelimit"
	"github.com/rooflinehq/roofline/internal/service/audits"
	"github.com/rooflinehq/roofline/internal/service/compliance"
	"github.com/rooflinehq/roofline/internal/storage"
)

// Server is the Roofline HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Limiter, MCPServer, and OpenAPISpec are optional (nil = disabled).
type ServerConfig struct {
	DB            *storage.DB
	JWTMgr        *auth.JWTManager
	ComplianceSvc *compliance.Service
	AuditSvc      *audits.Service
	Logger        *slog.Logger

	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	AdminAPIKey         string
	MaxRequestBodyBytes int64

	// Per-key request budgets, per minute. Zero disables the rule.
	RateLimitPerMinute   int
	RecalcLimitPerMinute int

	OpenAPISpec []byte

	// ExtraRoutes register additional handlers on the shared mux, behind the
	// same auth chain as the built-in routes. Middlewares wrap the whole
	// handler outermost, in registration order (first registered = outermost).
	ExtraRoutes []func(*http.ServeMux)
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:            cfg.DB,
		JWTMgr:        cfg.JWTMgr,
		ComplianceSvc: cfg.ComplianceSvc,
		AuditSvc:      cfg.AuditSvc,
		Logger:        cfg.Logger,
		Version:       cfg.Version,
		AdminAPIKey:   cfg.AdminAPIKey,
		OpenAPISpec:   cfg.OpenAPISpec,
	})

	reqIDFunc := func(r *http.Request) string {
		return ctxutil.RequestIDFromContext(r.Context())
	}

	apiRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{
		Prefix: "api", Limit: cfg.RateLimitPerMinute, Window: time.Minute,
	}, orgKeyFunc, reqIDFunc)
	// Recalculation holds a snapshot load plus a transactional write; it gets
	// a much tighter budget than plain reads.
	recalcRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{
		Prefix: "recalc", Limit: cfg.RecalcLimitPerMinute, Window: time.Minute,
	}, orgKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{
		Prefix: "auth", Limit: 20, Window: time.Minute,
	}, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Token exchange (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Compliance scoring.
	mux.Handle("GET /v1/organizations/{org_id}/compliance",
		apiRL(http.HandlerFunc(h.HandleGetCompliance)))
	mux.Handle("POST /v1/organizations/{org_id}/compliance/recalculate",
		recalcRL(http.HandlerFunc(h.HandleRecalculateCompliance)))

	// Audit workflow.
	mux.Handle("POST /v1/audits", apiRL(http.HandlerFunc(h.HandleCreateAudit)))
	mux.Handle("GET /v1/audits", apiRL(http.HandlerFunc(h.HandleListAudits)))
	mux.Handle("GET /v1/audits/{audit_id}", apiRL(http.HandlerFunc(h.HandleGetAudit)))
	mux.Handle("POST /v1/audits/{audit_id}/items", apiRL(http.HandlerFunc(h.HandleAddChecklistItem)))
	mux.Handle("POST /v1/audits/{audit_id}/complete", apiRL(http.HandlerFunc(h.HandleCompleteAudit)))

	// Corrective actions.
	mux.Handle("GET /v1/capas", apiRL(http.HandlerFunc(h.HandleListCAPAs)))
	mux.Handle("POST /v1/capas/{capa_id}/status", apiRL(http.HandlerFunc(h.HandleUpdateCAPAStatus)))

	// Key management and audit trail.
	mux.Handle("POST /v1/keys", apiRL(http.HandlerFunc(h.HandleCreateAPIKey)))
	mux.Handle("GET /v1/keys", apiRL(http.HandlerFunc(h.HandleListAPIKeys)))
	mux.Handle("DELETE /v1/keys/{key_id}", apiRL(http.HandlerFunc(h.HandleRevokeAPIKey)))
	mux.Handle("GET /v1/changelog", apiRL(http.HandlerFunc(h.HandleChangeLog)))

	// MCP StreamableHTTP transport (behind auth like every /v1 route).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// OpenAPI spec and health (no auth, no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	for _, register := range cfg.ExtraRoutes {
		register(mux)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → body cap →
	// recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = maxBodyMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = authMiddleware(h, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// orgKeyFunc extracts the organization ID from the request context for rate
// limiting. Admin traffic returns empty string and is exempt.
func orgKeyFunc(r *http.Request) string {
	if isAdmin(r.Context()) {
		return ""
	}
	claims := ctxutil.ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	return claims.OrgID.String()
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
