package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rooflinehq/roofline/internal/auth"
	"github.com/rooflinehq/roofline/internal/ctxutil"
	"github.com/rooflinehq/roofline/internal/model"
	"github.com/rooflinehq/roofline/internal/service/audits"
	"github.com/rooflinehq/roofline/internal/service/compliance"
	"github.com/rooflinehq/roofline/internal/storage"
)

// outboxMaxAttempts mirrors the relay's dead-letter threshold for the health
// endpoint's pending-sync count.
const outboxMaxAttempts = 10

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	db            *storage.DB
	jwtMgr        *auth.JWTManager
	complianceSvc *compliance.Service
	auditSvc      *audits.Service
	logger        *slog.Logger

	version     string
	adminAPIKey string
	openAPISpec []byte
	startedAt   time.Time
}

// HandlersDeps holds the dependencies for creating Handlers.
type HandlersDeps struct {
	DB            *storage.DB
	JWTMgr        *auth.JWTManager
	ComplianceSvc *compliance.Service
	AuditSvc      *audits.Service
	Logger        *slog.Logger
	Version       string
	AdminAPIKey   string
	OpenAPISpec   []byte
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		db:            deps.DB,
		jwtMgr:        deps.JWTMgr,
		complianceSvc: deps.ComplianceSvc,
		auditSvc:      deps.AuditSvc,
		logger:        deps.Logger,
		version:       deps.Version,
		adminAPIKey:   deps.AdminAPIKey,
		openAPISpec:   deps.OpenAPISpec,
		startedAt:     time.Now().UTC(),
	}
}

// HandleHealth reports liveness, database reachability, and outbox depth.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:  "ok",
		Version: h.version,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}

	if err := h.db.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Postgres = "unreachable"
		writeJSON(w, r, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Postgres = "ok"

	if pending, err := h.db.CountPendingIdentitySyncs(r.Context(), outboxMaxAttempts); err == nil {
		resp.Outbox = int(pending)
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// HandleOpenAPISpec serves the embedded OpenAPI document.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	if len(h.openAPISpec) == 0 {
		http.Error(w, "openapi spec not embedded", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(h.openAPISpec)
}

// HandleAuthToken exchanges a raw API key for a session JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "api_key is required")
		return
	}

	claims, err := h.authenticateAPIKey(r.Context(), req.APIKey)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid api key")
		return
	}

	key := model.APIKey{OrgID: claims.OrgID, Label: claims.KeyLabel}
	if claims.APIKeyID != nil {
		key.ID = *claims.APIKeyID
	}
	token, expiresAt, err := h.jwtMgr.IssueSessionToken(key)
	if err != nil {
		h.logger.Error("issue session token", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleGetCompliance evaluates an organization's compliance score without
// persisting anything.
func (h *Handlers) HandleGetCompliance(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgAccess(w, r, r.PathValue("org_id"))
	if !ok {
		return
	}

	result, err := h.complianceSvc.Calculate(r.Context(), orgID)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleRecalculateCompliance evaluates, persists, and enqueues the identity
// sync for an organization's compliance score.
func (h *Handlers) HandleRecalculateCompliance(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgAccess(w, r, r.PathValue("org_id"))
	if !ok {
		return
	}

	result, err := h.complianceSvc.Recalculate(r.Context(), orgID)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleCreateAudit schedules a new audit for the caller's organization.
func (h *Handlers) HandleCreateAudit(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requestOrg(w, r)
	if !ok {
		return
	}

	var req model.CreateAuditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	audit, err := h.db.CreateAudit(r.Context(), model.Audit{
		OrgID:         orgID,
		Type:          req.Type,
		Status:        model.AuditScheduled,
		ScheduledDate: req.ScheduledDate,
		AuditorID:     req.AuditorID,
	})
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, audit)
}

// HandleGetAudit returns one audit with its checklist items.
func (h *Handlers) HandleGetAudit(w http.ResponseWriter, r *http.Request) {
	auditID, err := uuid.Parse(r.PathValue("audit_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid audit id")
		return
	}

	audit, ok := h.loadOwnedAudit(w, r, auditID)
	if !ok {
		return
	}

	items, err := h.db.ListChecklistItems(r.Context(), auditID)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"audit":           audit,
		"checklist_items": items,
	})
}

// HandleListAudits lists the caller organization's audits, optionally
// filtered by status.
func (h *Handlers) HandleListAudits(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requestOrg(w, r)
	if !ok {
		return
	}

	var status *model.AuditStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := model.AuditStatus(s)
		switch st {
		case model.AuditScheduled, model.AuditInProgress, model.AuditPendingReview,
			model.AuditCompleted, model.AuditCancelled:
			status = &st
		default:
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown audit status")
			return
		}
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	list, total, err := h.db.ListAudits(r.Context(), orgID, status, limit, offset)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"audits": list,
		"total":  total,
	})
}

// HandleAddChecklistItem appends an auditor finding to a non-terminal audit.
func (h *Handlers) HandleAddChecklistItem(w http.ResponseWriter, r *http.Request) {
	auditID, err := uuid.Parse(r.PathValue("audit_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid audit id")
		return
	}

	var req model.AddChecklistItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	audit, ok := h.loadOwnedAudit(w, r, auditID)
	if !ok {
		return
	}
	if audit.Status.Terminal() {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "audit is already "+string(audit.Status))
		return
	}

	item, err := h.db.AddChecklistItem(r.Context(), model.AuditChecklistItem{
		AuditID:  auditID,
		Element:  req.Element,
		Response: req.Response,
		Finding:  req.Finding,
		Severity: req.Severity,
	})
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, item)
}

// HandleCompleteAudit runs the audit completion workflow.
func (h *Handlers) HandleCompleteAudit(w http.ResponseWriter, r *http.Request) {
	auditID, err := uuid.Parse(r.PathValue("audit_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid audit id")
		return
	}

	var req model.CompleteAuditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	orgID, ok := h.auditOrg(w, r, auditID)
	if !ok {
		return
	}

	result, err := h.auditSvc.Complete(r.Context(), orgID, auditID, req)
	if err != nil {
		if errors.Is(err, audits.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleListCAPAs lists the caller organization's corrective actions,
// optionally filtered by status.
func (h *Handlers) HandleListCAPAs(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requestOrg(w, r)
	if !ok {
		return
	}

	var status *model.CAPAStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := model.CAPAStatus(s)
		switch st {
		case model.CAPAOpen, model.CAPAInProgress, model.CAPAPendingVerification,
			model.CAPAClosed, model.CAPAOverdue:
			status = &st
		default:
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown capa status")
			return
		}
	}

	capas, err := h.db.ListCAPAs(r.Context(), orgID, status)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"capas": capas})
}

// HandleUpdateCAPAStatus advances one corrective action through its
// lifecycle.
func (h *Handlers) HandleUpdateCAPAStatus(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requestOrg(w, r)
	if !ok {
		return
	}
	capaID, err := uuid.Parse(r.PathValue("capa_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid capa id")
		return
	}

	var req model.UpdateCAPAStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if err := h.db.UpdateCAPAStatus(r.Context(), orgID, capaID, req.Status); err != nil {
		writeStorageError(w, r, err)
		return
	}

	capa, err := h.db.GetCAPA(r.Context(), orgID, capaID)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, capa)
}

// HandleChangeLog returns the most recent state-changing operations recorded
// against the caller's organization.
func (h *Handlers) HandleChangeLog(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requestOrg(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)

	entries, err := h.db.ListChangeLog(r.Context(), orgID, limit)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"entries": entries})
}

// requestOrg resolves the organization a request acts on when the route has
// no {org_id} segment: key-scoped requests use their own organization, admin
// requests name one via the org_id query parameter.
func requestOrg(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if claims := ctxutil.ClaimsFromContext(r.Context()); claims != nil {
		return claims.OrgID, true
	}
	if isAdmin(r.Context()) {
		orgID, err := uuid.Parse(r.URL.Query().Get("org_id"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "org_id query parameter is required for admin requests")
			return uuid.Nil, false
		}
		return orgID, true
	}
	writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no credential in context")
	return uuid.Nil, false
}

// auditOrg resolves the organization owning an audit: key-scoped requests use
// their own org (ownership is verified downstream), admin requests resolve it
// from the audit row.
func (h *Handlers) auditOrg(w http.ResponseWriter, r *http.Request, auditID uuid.UUID) (uuid.UUID, bool) {
	if claims := ctxutil.ClaimsFromContext(r.Context()); claims != nil {
		return claims.OrgID, true
	}
	if isAdmin(r.Context()) {
		audit, err := h.db.GetAudit(r.Context(), auditID)
		if err != nil {
			writeStorageError(w, r, err)
			return uuid.Nil, false
		}
		return audit.OrgID, true
	}
	writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no credential in context")
	return uuid.Nil, false
}

// loadOwnedAudit fetches an audit and verifies the caller may see it.
// Cross-org access reads as absence.
func (h *Handlers) loadOwnedAudit(w http.ResponseWriter, r *http.Request, auditID uuid.UUID) (model.Audit, bool) {
	audit, err := h.db.GetAudit(r.Context(), auditID)
	if err != nil {
		writeStorageError(w, r, err)
		return model.Audit{}, false
	}
	if !isAdmin(r.Context()) {
		claims := ctxutil.ClaimsFromContext(r.Context())
		if claims == nil || claims.OrgID != audit.OrgID {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "resource not found")
			return model.Audit{}, false
		}
	}
	return audit, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
