// Package audits implements the audit completion workflow.
//
// Completion is the one transition the certification rules care about: it
// tallies checklist findings, raises corrective actions, advances the
// organization's audit schedule, and triggers a compliance recalculation.
// Both the HTTP API and MCP server delegate to this service.
package audits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rooflinehq/roofline/internal/ctxutil"
	"github.com/rooflinehq/roofline/internal/model"
	"github.com/rooflinehq/roofline/internal/policy"
	"github.com/rooflinehq/roofline/internal/service/compliance"
	"github.com/rooflinehq/roofline/internal/storage"
	"github.com/rooflinehq/roofline/internal/telemetry"
)

// ErrInvalidInput marks caller mistakes in a completion request: unknown
// rating, missing summary, oversized fields. Handlers map it to a 400.
var ErrInvalidInput = errors.New("audits: invalid input")

// Service encapsulates the audit workflow shared by HTTP and MCP handlers.
type Service struct {
	db         *storage.DB
	compliance *compliance.Service
	pol        policy.Policy
	logger     *slog.Logger

	completeDuration metric.Float64Histogram
	capasCreated     metric.Int64Counter
}

// New creates a new audit workflow Service.
func New(db *storage.DB, complianceSvc *compliance.Service, pol policy.Policy, logger *slog.Logger) *Service {
	meter := telemetry.Meter("roofline/audits")
	completeDur, _ := meter.Float64Histogram("roofline.audits.complete.duration",
		metric.WithDescription("Time to run the audit completion transaction (ms)"),
		metric.WithUnit("ms"),
	)
	capas, _ := meter.Int64Counter("roofline.audits.capas.created",
		metric.WithDescription("Corrective actions raised by audit completions"),
	)
	return &Service{
		db:               db,
		compliance:       complianceSvc,
		pol:              pol,
		logger:           logger,
		completeDuration: completeDur,
		capasCreated:     capas,
	}
}

// Complete transitions an audit into COMPLETED. All writes (audit row, CAPA
// records, follow-up audit, organization schedule) commit in one transaction;
// the compliance recalculation runs after commit and never fails the call.
//
// Returns storage.ErrNotFound when the audit does not exist or belongs to a
// different organization, and storage.ErrConflict when it is already in a
// terminal state. Completion is deliberately not idempotent: repeating it is
// a caller bug, not a retry.
func (s *Service) Complete(ctx context.Context, orgID, auditID uuid.UUID, req model.CompleteAuditRequest) (model.CompleteAuditResult, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("roofline.org_id", orgID.String()),
		attribute.String("roofline.audit_id", auditID.String()),
		attribute.String("roofline.audit_rating", string(req.Rating)),
	)

	// 1. Validate caller input before touching the database.
	if err := req.Validate(); err != nil {
		return model.CompleteAuditResult{}, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	// 2. Load the audit and check ownership and state. Cross-org access reads
	// as absence. The terminal check here gives a clean error message; the
	// status-gated UPDATE inside the transaction is what makes it race-free.
	audit, err := s.db.GetAudit(ctx, auditID)
	if err != nil {
		return model.CompleteAuditResult{}, fmt.Errorf("complete: %w", err)
	}
	if audit.OrgID != orgID {
		return model.CompleteAuditResult{}, fmt.Errorf("complete: audit %s: %w", auditID, storage.ErrNotFound)
	}
	if audit.Status.Terminal() {
		return model.CompleteAuditResult{}, fmt.Errorf("complete: audit %s already %s: %w", auditID, audit.Status, storage.ErrConflict)
	}

	org, err := s.db.GetOrganization(ctx, orgID)
	if err != nil {
		return model.CompleteAuditResult{}, fmt.Errorf("complete: %w", err)
	}

	// 3. Tally checklist findings.
	items, err := s.db.ListChecklistItems(ctx, auditID)
	if err != nil {
		return model.CompleteAuditResult{}, fmt.Errorf("complete: %w", err)
	}
	stats := model.TallyChecklist(items)

	now := time.Now().UTC()

	// 4. Raise one corrective action per nonconformity.
	var capas []model.CAPARecord
	if req.ShouldCreateCAPAs() {
		capas = buildCAPAs(orgID, auditID, items, now)
	}

	// 5. Follow-up policy: required when requested, or whenever the rating
	// is FAIL or CONDITIONAL_PASS. Those two ratings also auto-schedule the
	// follow-up audit itself.
	followUpRequired := req.FollowUpRequired ||
		req.Rating == model.RatingFail || req.Rating == model.RatingConditionalPass
	var followUp *model.Audit
	if req.Rating == model.RatingFail || req.Rating == model.RatingConditionalPass {
		followUp = &model.Audit{
			OrgID:         orgID,
			Type:          model.AuditFollowUp,
			Status:        model.AuditScheduled,
			ScheduledDate: now.AddDate(0, 0, s.pol.FollowUpGapDays),
			FollowUpOf:    &auditID,
		}
	}
	followUpDue := req.FollowUpDue
	if followUpDue == nil && followUp != nil {
		d := followUp.ScheduledDate
		followUpDue = &d
	}

	// 6. Advance the organization's audit schedule by its tier frequency.
	nextDue := now.AddDate(0, s.pol.FrequencyMonths(org.Tier), 0)

	summary := req.Summary
	start := time.Now()
	completed, capaIDs, createdFollowUp, err := s.db.CompleteAuditTx(ctx, storage.CompleteAuditParams{
		AuditID:          auditID,
		OrgID:            orgID,
		Rating:           req.Rating,
		Summary:          &summary,
		Stats:            stats,
		FollowUpRequired: followUpRequired,
		FollowUpDue:      followUpDue,
		CompletedAt:      now,
		NextAuditDue:     nextDue,
		CAPAs:            capas,
		FollowUpAudit:    followUp,
		ChangeLog: storage.ChangeLogEntry{
			RequestID:    ctxutil.RequestIDFromContext(ctx),
			OrgID:        orgID,
			Actor:        ctxutil.Actor(ctx),
			Operation:    "complete_audit",
			ResourceType: "audit",
			BeforeData:   audit,
			Metadata: map[string]any{
				"rating":        req.Rating,
				"capas_created": len(capas),
			},
		},
	})
	s.completeDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return model.CompleteAuditResult{}, fmt.Errorf("complete: %w", err)
	}
	s.capasCreated.Add(ctx, int64(len(capaIDs)))

	// 7. Recompute the compliance score (after commit, non-fatal). The score
	// reads the now-closed audit and its fresh CAPA records.
	if _, err := s.compliance.Recalculate(ctx, orgID); err != nil {
		s.logger.Warn("complete: compliance recalculation failed (non-fatal)",
			"error", err, "org_id", orgID, "audit_id", auditID)
	}

	return model.CompleteAuditResult{
		Audit:          completed,
		Stats:          stats,
		CreatedCAPAIDs: capaIDs,
		FollowUpAudit:  createdFollowUp,
	}, nil
}

// buildCAPAs constructs one OPEN corrective action per MINOR or MAJOR
// nonconformity. Severity comes from the item when set, otherwise it is
// derived from the response kind. Due dates offset from the completion time
// by severity (30 days MAJOR, 60 days MINOR).
func buildCAPAs(orgID, auditID uuid.UUID, items []model.AuditChecklistItem, completedAt time.Time) []model.CAPARecord {
	var capas []model.CAPARecord
	for _, item := range items {
		if !item.Response.Nonconformity() {
			continue
		}

		severity := model.SeverityMinor
		if item.Severity != nil {
			severity = *item.Severity
		} else if item.Response == model.ResponseMajor {
			severity = model.SeverityMajor
		}

		itemID := item.ID
		capas = append(capas, model.CAPARecord{
			OrgID:           orgID,
			AuditID:         &auditID,
			ChecklistItemID: &itemID,
			Element:         item.Element,
			Severity:        severity,
			Title:           capaTitle(item.Element, severity),
			Description:     capaDescription(item),
			Status:          model.CAPAOpen,
			DueDate:         model.CAPADueDate(severity, completedAt),
		})
	}
	return capas
}

func capaTitle(element model.ISOElement, severity model.FindingSeverity) string {
	return fmt.Sprintf("Address %s nonconformity in %s",
		strings.ToLower(string(severity)), model.ElementTitle(element))
}

func capaDescription(item model.AuditChecklistItem) string {
	if item.Finding != nil && *item.Finding != "" {
		return *item.Finding
	}
	return fmt.Sprintf("Nonconformity recorded against %s during the audit.",
		model.ElementTitle(item.Element))
}
