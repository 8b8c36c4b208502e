// Package mcp implements the Model Context Protocol server for Roofline.
//
// The MCP server exposes the compliance engine and audit workflow through
// MCP resources and tools, allowing MCP-compatible AI agents to read an
// organization's compliance standing and drive the audit completion
// workflow. Requests arrive over the HTTP server's /mcp transport, so the
// context already carries the authenticated credential.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/rooflinehq/roofline/internal/ctxutil"
	"github.com/rooflinehq/roofline/internal/model"
	"github.com/rooflinehq/roofline/internal/service/audits"
	"github.com/rooflinehq/roofline/internal/service/compliance"
	"github.com/rooflinehq/roofline/internal/storage"
)

// Server wraps the MCP server with Roofline's service layer.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	db         *storage.DB
	compliance *compliance.Service
	audits     *audits.Service
	logger     *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(db *storage.DB, complianceSvc *compliance.Service, auditSvc *audits.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		db:         db,
		compliance: complianceSvc,
		audits:     auditSvc,
		logger:     logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"roofline",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// errNoOrganization marks requests whose credential is not bound to an
// organization (the operator admin key without an org_id argument).
var errNoOrganization = errors.New("mcp: credential is not bound to an organization")

// callerOrg resolves the organization an MCP request acts on from the
// credential in the context. Resources have no arguments, so admin-key
// sessions cannot use org-scoped resources.
func callerOrg(ctx context.Context) (uuid.UUID, error) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims == nil {
		return uuid.Nil, errNoOrganization
	}
	return claims.OrgID, nil
}

func (s *Server) registerResources() {
	// roofline://compliance/current — caller organization's compliance standing.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"roofline://compliance/current",
			"Current Compliance",
			mcplib.WithResourceDescription("Compliance score, category breakdown, issues, and tier eligibility for your organization"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleComplianceResource,
	)

	// roofline://capas/open — outstanding corrective actions.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"roofline://capas/open",
			"Open Corrective Actions",
			mcplib.WithResourceDescription("Corrective actions that are open, in progress, or overdue for your organization"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleOpenCAPAsResource,
	)
}

func (s *Server) handleComplianceResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	orgID, err := callerOrg(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.compliance.Calculate(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("mcp: compliance resource: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal compliance: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "roofline://compliance/current",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleOpenCAPAsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	orgID, err := callerOrg(ctx)
	if err != nil {
		return nil, err
	}

	all, err := s.db.ListCAPAs(ctx, orgID, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: open capas resource: %w", err)
	}
	open := make([]model.CAPARecord, 0, len(all))
	for _, c := range all {
		if c.Status != model.CAPAClosed {
			open = append(open, c)
		}
	}

	data, err := json.MarshalIndent(map[string]any{
		"capas": open,
		"total": len(open),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal capas: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "roofline://capas/open",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
