package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// audit-prep — walks the agent through assembling the pre-audit picture.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("audit-prep",
			mcplib.WithPromptDescription("Assemble the compliance picture before conducting or reviewing an audit"),
		),
		s.handleAuditPrepPrompt,
	)

	// capa-remediation — drafts a remediation plan for a recorded finding.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("capa-remediation",
			mcplib.WithPromptDescription("Draft a corrective action remediation plan for an audit finding"),
			mcplib.WithArgument("finding",
				mcplib.ArgumentDescription("The nonconformity finding text to remediate"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("severity",
				mcplib.ArgumentDescription("MINOR or MAJOR"),
			),
		),
		s.handleCAPARemediationPrompt,
	)
}

func (s *Server) handleAuditPrepPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "Pre-audit compliance review",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `Before the audit, build the current compliance picture:

1. CALL roofline_get_compliance to get the score, category breakdown, and
   open issues. Note any category scoring below 70.

2. CALL roofline_list_capas with status="OVERDUE", then status="OPEN".
   Overdue corrective actions will surface during the audit and cap the
   audit category score; flag each one.

3. CALL roofline_audit_status to check where the organization sits in its
   audit cycle and whether the next audit is already due.

4. SUMMARIZE: the overall score, the weakest category, every overdue
   corrective action, and the tier-eligibility blockers. This summary is
   the audit preparation brief.`,
				},
			},
		},
	}, nil
}

func (s *Server) handleCAPARemediationPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	finding := request.Params.Arguments["finding"]
	if finding == "" {
		return nil, fmt.Errorf("finding argument is required")
	}
	severity := request.Params.Arguments["severity"]
	if severity == "" {
		severity = "MINOR"
	}

	deadline := "60 days"
	if severity == "MAJOR" {
		deadline = "30 days"
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Remediation plan for a %s finding", severity),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Draft a corrective action plan for this %s audit finding:

  %q

The plan must close within %s of the audit and should cover:

1. ROOT CAUSE: why the nonconformity occurred, not just what was observed.
2. IMMEDIATE CORRECTION: what stops the nonconforming condition today.
3. CORRECTIVE ACTION: the process change that prevents recurrence.
4. VERIFICATION: what evidence demonstrates closure (records, re-inspection,
   training sign-off) for the PENDING_VERIFICATION review.
5. OWNER AND DATES: who is responsible and the interim milestones.`, severity, finding, deadline),
				},
			},
		},
	}, nil
}
