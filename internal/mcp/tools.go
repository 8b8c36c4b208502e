package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/rooflinehq/roofline/internal/model"
)

func (s *Server) registerTools() {
	// roofline_get_compliance — evaluate the caller organization's score.
	s.mcpServer.AddTool(
		mcplib.NewTool("roofline_get_compliance",
			mcplib.WithDescription("Compute the organization's compliance score with category breakdown, issues, and certification tier eligibility. Read-only; nothing is persisted."),
		),
		s.handleGetCompliance,
	)

	// roofline_list_capas — corrective actions, optionally filtered by status.
	s.mcpServer.AddTool(
		mcplib.NewTool("roofline_list_capas",
			mcplib.WithDescription("List the organization's corrective actions (CAPAs)"),
			mcplib.WithString("status", mcplib.Description("Filter by status: OPEN, IN_PROGRESS, PENDING_VERIFICATION, CLOSED, OVERDUE")),
		),
		s.handleListCAPAs,
	)

	// roofline_audit_status — schedule position and recent audits.
	s.mcpServer.AddTool(
		mcplib.NewTool("roofline_audit_status",
			mcplib.WithDescription("Show the organization's audit schedule: next due date, current tier, and recent audits"),
			mcplib.WithNumber("limit", mcplib.Description("Maximum audits to return (default 5)")),
		),
		s.handleAuditStatus,
	)

	// roofline_complete_audit — run the completion workflow.
	s.mcpServer.AddTool(
		mcplib.NewTool("roofline_complete_audit",
			mcplib.WithDescription("Complete an audit: records the rating, raises corrective actions from nonconformities, schedules any follow-up, and recalculates the compliance score"),
			mcplib.WithString("audit_id", mcplib.Description("Audit UUID"), mcplib.Required()),
			mcplib.WithString("rating", mcplib.Description("PASS, PASS_WITH_OBSERVATIONS, CONDITIONAL_PASS, or FAIL"), mcplib.Required()),
			mcplib.WithString("summary", mcplib.Description("Auditor's summary of the audit"), mcplib.Required()),
			mcplib.WithBoolean("follow_up_required", mcplib.Description("Force a follow-up requirement regardless of rating")),
		),
		s.handleCompleteAudit,
	)
}

func (s *Server) handleGetCompliance(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	orgID, err := callerOrg(ctx)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	result, err := s.compliance.Calculate(ctx, orgID)
	if err != nil {
		return errorResult(fmt.Sprintf("compliance calculation failed: %v", err)), nil
	}

	return jsonResult(result)
}

func (s *Server) handleListCAPAs(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	orgID, err := callerOrg(ctx)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	var status *model.CAPAStatus
	if raw := request.GetString("status", ""); raw != "" {
		st := model.CAPAStatus(raw)
		switch st {
		case model.CAPAOpen, model.CAPAInProgress, model.CAPAPendingVerification,
			model.CAPAClosed, model.CAPAOverdue:
			status = &st
		default:
			return errorResult(fmt.Sprintf("unknown capa status %q", raw)), nil
		}
	}

	capas, err := s.db.ListCAPAs(ctx, orgID, status)
	if err != nil {
		return errorResult(fmt.Sprintf("list capas failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"capas": capas,
		"total": len(capas),
	})
}

func (s *Server) handleAuditStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	orgID, err := callerOrg(ctx)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	org, err := s.db.GetOrganization(ctx, orgID)
	if err != nil {
		return errorResult(fmt.Sprintf("load organization failed: %v", err)), nil
	}

	limit := request.GetInt("limit", 5)
	recent, total, err := s.db.ListAudits(ctx, orgID, nil, limit, 0)
	if err != nil {
		return errorResult(fmt.Sprintf("list audits failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"tier":           org.Tier,
		"next_audit_due": org.NextAuditDue,
		"recent_audits":  recent,
		"total_audits":   total,
	})
}

func (s *Server) handleCompleteAudit(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	orgID, err := callerOrg(ctx)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	auditID, err := uuid.Parse(request.GetString("audit_id", ""))
	if err != nil {
		return errorResult("audit_id must be a valid UUID"), nil
	}

	req := model.CompleteAuditRequest{
		Rating:           model.AuditRating(request.GetString("rating", "")),
		Summary:          request.GetString("summary", ""),
		FollowUpRequired: request.GetBool("follow_up_required", false),
	}

	start := time.Now()
	result, err := s.audits.Complete(ctx, orgID, auditID, req)
	if err != nil {
		return errorResult(fmt.Sprintf("complete audit failed: %v", err)), nil
	}
	s.logger.Info("mcp: audit completed",
		"org_id", orgID, "audit_id", auditID,
		"capas_created", len(result.CreatedCAPAIDs),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return jsonResult(result)
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
