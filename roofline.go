// Package roofline is the public API for embedding the Roofline certification
// server.
//
// Certification-body deployments and plugin consumers import this package to
// construct and extend the server without forking it:
//
//	app, err := roofline.New(
//	    roofline.WithVersion(version),
//	    roofline.WithLogger(logger),
//	    roofline.WithScoreHook(myDashboardHook{}),
//	    roofline.WithExtraRoutes(myRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: roofline (root) imports
// internal/*, but internal/* never imports roofline (root). Public types
// (ScoreReport, IdentityUpdate) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file that
// sees both sides of the boundary.
package roofline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/rooflinehq/roofline/api"
	"github.com/rooflinehq/roofline/internal/auth"
	"github.com/rooflinehq/roofline/internal/config"
	"github.com/rooflinehq/roofline/internal/identity"
	"github.com/rooflinehq/roofline/internal/mcp"
	"github.com/rooflinehq/roofline/internal/model"
	"github.com/rooflinehq/roofline/internal/policy"
	"github.com/rooflinehq/roofline/internal/ratelimit"
	"github.com/rooflinehq/roofline/internal/server"
	"github.com/rooflinehq/roofline/internal/service/audits"
	"github.com/rooflinehq/roofline/internal/service/compliance"
	"github.com/rooflinehq/roofline/internal/storage"
	"github.com/rooflinehq/roofline/internal/telemetry"
	"github.com/rooflinehq/roofline/migrations"
)

// Shutdown phase budgets. The HTTP drain gets the longest window; the relay
// drain only has to flush the outbox rows already claimed.
const (
	shutdownHTTPTimeout  = 15 * time.Second
	shutdownRelayTimeout = 10 * time.Second
)

// App is the Roofline server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	relay        *identity.Relay
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the Roofline server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	if o.policyPath != "" {
		cfg.PolicyPath = o.policyPath
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("roofline starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	// Run built-in migrations, then any extra (deployment-specific) ones.
	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	// Verify critical tables exist after migration.
	var schemaOK bool
	if err := db.Pool().QueryRow(context.Background(),
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'organizations')`,
	).Scan(&schemaOK); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("schema verification: %w", err)
	}
	if !schemaOK {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("critical table 'organizations' does not exist after migration")
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Load the certification policy (file over built-in defaults).
	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("policy: %w", err)
	}
	if cfg.PolicyPath != "" {
		logger.Info("certification policy loaded", "path", cfg.PolicyPath)
	}

	// Services.
	complianceSvc := compliance.New(db, pol, logger)
	auditSvc := audits.New(db, complianceSvc, pol, logger)

	// Wire public score hooks into the compliance service.
	for _, hook := range o.scoreHooks {
		hook := hook
		complianceSvc.OnRecalculated(func(ctx context.Context, result model.ComplianceResult) {
			if err := hook.OnScoreRecalculated(ctx, toPublicReport(result)); err != nil {
				logger.Warn("score hook failed", "error", err, "org_id", result.OrgID)
			}
		})
	}

	// Identity sync delivery — external override takes priority, then the
	// HTTP client, then the logging no-op for development.
	var identityClient identity.Client
	switch {
	case o.identityClient != nil:
		identityClient = &identityClientAdapter{c: o.identityClient}
		logger.Info("identity sync: external client")
	case cfg.IdentityURL != "":
		identityClient = identity.NewHTTPClient(cfg.IdentityURL, jwtMgr)
		logger.Info("identity sync: http", "url", cfg.IdentityURL)
	default:
		identityClient = identity.NewNoop(logger)
		logger.Info("identity sync: noop (no ROOFLINE_IDENTITY_URL)")
	}
	relay := identity.NewRelay(db, identityClient, logger, cfg.SyncPollInterval, cfg.SyncBatchSize)

	// Rate limiter — Redis when configured so limits hold across replicas,
	// otherwise the in-process sliding window.
	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("redis: %w", err)
		}
		limiter = ratelimit.New(redis.NewClient(redisOpts), logger)
		logger.Info("rate limiting: redis sliding window")
	} else {
		limiter = ratelimit.NewMemory()
		logger.Info("rate limiting: in-memory sliding window")
	}

	// MCP server.
	mcpSrv := mcp.New(db, complianceSvc, auditSvc, logger, version)

	// Adapt public registrars and middlewares to the internal server types.
	var extraRoutes []func(*http.ServeMux)
	for _, fn := range o.routeRegistrars {
		extraRoutes = append(extraRoutes, fn)
	}
	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		mw := mw
		middlewares = append(middlewares, func(h http.Handler) http.Handler { return mw(h) })
	}

	// HTTP server.
	srv := server.New(server.ServerConfig{
		DB:                   db,
		JWTMgr:               jwtMgr,
		ComplianceSvc:        complianceSvc,
		AuditSvc:             auditSvc,
		Logger:               logger,
		Limiter:              limiter,
		MCPServer:            mcpSrv.MCPServer(),
		Port:                 cfg.Port,
		ReadTimeout:          cfg.ReadTimeout,
		WriteTimeout:         cfg.WriteTimeout,
		Version:              version,
		AdminAPIKey:          cfg.AdminAPIKey,
		MaxRequestBodyBytes:  cfg.MaxRequestBodyBytes,
		RateLimitPerMinute:   cfg.RateLimitPerMinute,
		RecalcLimitPerMinute: cfg.RecalcLimitPerMinute,
		OpenAPISpec:          api.OpenAPISpec,
		ExtraRoutes:          extraRoutes,
		Middlewares:          middlewares,
	})

	if cfg.AdminAPIKey == "" {
		logger.Warn("no admin api key configured — key provisioning requires an existing org-scoped key")
	}

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		relay:        relay,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts all background goroutines and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is
// called automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	// Background services: identity sync relay and the CAPA overdue sweep.
	a.relay.Start(ctx)
	go a.capaSweepLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a phased graceful shutdown: (1) stop accepting HTTP
// requests and drain in-flight, (2) drain claimed identity sync outbox
// entries, then close the rate limiter, OTEL provider, and database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("roofline shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, shutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	relayCtx, relayCancel := context.WithTimeout(ctx, shutdownRelayTimeout)
	a.relay.Drain(relayCtx)
	relayCancel()

	_ = a.limiter.Close()
	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("roofline stopped")
	return nil
}

// capaSweepLoop periodically flips overdue corrective actions to OVERDUE so
// the next recalculation sees them.
func (a *App) capaSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.CAPASweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			flipped, err := a.db.MarkOverdueCAPAs(opCtx, time.Now().UTC())
			cancel()
			if err != nil {
				a.logger.Warn("capa sweep failed", "error", err)
				continue
			}
			if flipped > 0 {
				a.logger.Info("capa sweep marked overdue", "count", flipped)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Adapters
// ---------------------------------------------------------------------------

// identityClientAdapter wraps a public IdentityClient to satisfy the internal
// identity.Client interface.
type identityClientAdapter struct {
	c IdentityClient
}

func (a *identityClientAdapter) Sync(ctx context.Context, sync model.IdentitySync) error {
	return a.c.Sync(ctx, IdentityUpdate{
		OrgID:           sync.OrgID,
		Tier:            Tier(sync.Tier),
		ComplianceScore: sync.ComplianceScore,
		InsuranceValid:  sync.InsuranceValid,
		CalculatedAt:    sync.CalculatedAt,
	})
}

// ---------------------------------------------------------------------------
// Type converters
// ---------------------------------------------------------------------------

// toPublicReport converts an internal model.ComplianceResult to the public
// roofline.ScoreReport. Lives here because this is the only file that imports
// both sides of the boundary.
func toPublicReport(r model.ComplianceResult) ScoreReport {
	var nextTier *Tier
	if r.TierEligibility.NextTier != nil {
		t := Tier(*r.TierEligibility.NextTier)
		nextTier = &t
	}
	return ScoreReport{
		OrgID:        r.OrgID,
		OverallScore: r.OverallScore,
		Breakdown: CategoryBreakdown{
			Documentation: r.Breakdown.Documentation,
			Insurance:     r.Breakdown.Insurance,
			Personnel:     r.Breakdown.Personnel,
			Audit:         r.Breakdown.Audit,
		},
		CurrentTier:        Tier(r.TierEligibility.CurrentTier),
		NextTier:           nextTier,
		EligibleForUpgrade: r.TierEligibility.EligibleForUpgrade,
		Blockers:           r.TierEligibility.Blockers,
		CalculatedAt:       r.CalculatedAt,
	}
}
