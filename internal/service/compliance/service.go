// Package compliance provides the shared business logic for compliance score
// calculation and persistence.
//
// Both the HTTP API and MCP server delegate to this service, eliminating
// duplicated logic and ensuring consistent behavior (snapshot loading, scorer
// evaluation, transactional score writes, identity sync) across all
// interfaces.
package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/rooflinehq/roofline/internal/ctxutil"
	"github.com/rooflinehq/roofline/internal/model"
	"github.com/rooflinehq/roofline/internal/policy"
	"github.com/rooflinehq/roofline/internal/scoring"
	"github.com/rooflinehq/roofline/internal/storage"
	"github.com/rooflinehq/roofline/internal/telemetry"
)

// recalcTimeout bounds a persisted recalculation once it has been detached
// from the originating request context.
const recalcTimeout = 30 * time.Second

// Service encapsulates compliance scoring logic shared by HTTP and MCP handlers.
type Service struct {
	db     *storage.DB
	engine scoring.Engine
	logger *slog.Logger

	recalcGroup singleflight.Group
	hooks       []func(context.Context, model.ComplianceResult)

	calcDuration metric.Float64Histogram
	scoreDist    metric.Int64Histogram
}

// OnRecalculated registers a hook invoked after every persisted
// recalculation. Hooks run in their own goroutine with a bounded context and
// must be registered before the service starts handling requests.
func (s *Service) OnRecalculated(fn func(context.Context, model.ComplianceResult)) {
	s.hooks = append(s.hooks, fn)
}

// New creates a new compliance Service.
func New(db *storage.DB, pol policy.Policy, logger *slog.Logger) *Service {
	meter := telemetry.Meter("roofline/compliance")
	calcDur, _ := meter.Float64Histogram("roofline.compliance.calc.duration",
		metric.WithDescription("Time to load a snapshot and run all scorers (ms)"),
		metric.WithUnit("ms"),
	)
	scoreDist, _ := meter.Int64Histogram("roofline.compliance.score",
		metric.WithDescription("Overall compliance scores produced by evaluations"),
	)
	return &Service{
		db:           db,
		engine:       scoring.New(pol),
		logger:       logger,
		calcDuration: calcDur,
		scoreDist:    scoreDist,
	}
}

// Calculate evaluates the organization's compliance score without persisting
// anything. Fails with storage.ErrNotFound if the organization does not exist.
func (s *Service) Calculate(ctx context.Context, orgID uuid.UUID) (model.ComplianceResult, error) {
	result, _, err := s.evaluate(ctx, orgID)
	return result, err
}

// Recalculate evaluates the organization's compliance score, persists it, and
// enqueues the identity sync. Concurrent recalculations for the same
// organization coalesce into a single evaluation; every caller receives the
// shared result.
func (s *Service) Recalculate(ctx context.Context, orgID uuid.UUID) (model.ComplianceResult, error) {
	requestID := ctxutil.RequestIDFromContext(ctx)
	actor := ctxutil.Actor(ctx)

	v, err, shared := s.recalcGroup.Do(orgID.String(), func() (any, error) {
		// Detached from the caller so one canceled request cannot fail the
		// write other coalesced callers are waiting on.
		calcCtx, cancel := context.WithTimeout(context.Background(), recalcTimeout)
		defer cancel()
		return s.recalculate(calcCtx, orgID, requestID, actor)
	})
	if err != nil {
		return model.ComplianceResult{}, err
	}
	if shared {
		s.logger.Debug("recalculation coalesced with a concurrent request", "org_id", orgID)
	}
	return v.(model.ComplianceResult), nil
}

// evaluate loads the snapshot and runs the scoring engine over it.
func (s *Service) evaluate(ctx context.Context, orgID uuid.UUID) (model.ComplianceResult, model.OrganizationSnapshot, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("roofline.org_id", orgID.String()))

	start := time.Now()
	snap, err := s.db.LoadSnapshot(ctx, orgID)
	if err != nil {
		return model.ComplianceResult{}, model.OrganizationSnapshot{}, fmt.Errorf("compliance: load snapshot: %w", err)
	}

	result := s.engine.Evaluate(snap, time.Now().UTC())
	s.calcDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	s.scoreDist.Record(ctx, int64(result.OverallScore))

	span.SetAttributes(attribute.Int("roofline.compliance.score", result.OverallScore))
	return result, snap, nil
}

func (s *Service) recalculate(ctx context.Context, orgID uuid.UUID, requestID, actor string) (model.ComplianceResult, error) {
	// 1. Evaluate against a fresh snapshot.
	result, snap, err := s.evaluate(ctx, orgID)
	if err != nil {
		return model.ComplianceResult{}, err
	}

	// 2. Persist scores and enqueue the identity sync atomically. The sync
	// itself is delivered by the outbox relay, best-effort.
	sync := model.IdentitySync{
		OrgID:           orgID,
		Tier:            snap.Organization.Tier,
		ComplianceScore: result.OverallScore,
		InsuranceValid:  snap.HasValidInsurance(result.CalculatedAt),
		CalculatedAt:    result.CalculatedAt,
	}
	cl := &storage.ChangeLogEntry{
		RequestID:    requestID,
		OrgID:        orgID,
		Actor:        actor,
		Operation:    "recalculate_compliance",
		ResourceType: "organization",
		AfterData:    result,
	}
	if err := s.db.SaveComplianceResult(ctx, result, sync, cl); err != nil {
		return model.ComplianceResult{}, fmt.Errorf("compliance: save result: %w", err)
	}

	// 3. Notify score subscribers (after commit, non-fatal).
	payload, err := json.Marshal(map[string]any{
		"org_id":        orgID,
		"overall_score": result.OverallScore,
		"calculated_at": result.CalculatedAt,
	})
	if err != nil {
		s.logger.Error("compliance: marshal notify payload", "error", err)
	} else if err := s.db.Notify(ctx, storage.ChannelScores, string(payload)); err != nil {
		s.logger.Error("compliance: notify score subscribers", "error", err)
	}

	// 4. Fire registered hooks (async, non-fatal).
	for _, hook := range s.hooks {
		hook := hook
		go func() {
			hookCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			hook(hookCtx, result)
		}()
	}

	return result, nil
}
