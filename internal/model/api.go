package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field length limits for caller-supplied audit completion input. These keep
// free-text fields out of pathological territory before they reach Postgres
// TEXT columns and CAPA descriptions.
const (
	MaxSummaryLen = 10 * 1024
	MaxFindingLen = 4 * 1024
)

// CompleteAuditRequest is the request body for POST /v1/audits/{id}/complete.
// CreateCAPAs defaults to true when absent from the request body.
type CompleteAuditRequest struct {
	Rating           AuditRating `json:"rating"`
	Summary          string      `json:"summary"`
	FollowUpRequired bool        `json:"follow_up_required,omitempty"`
	FollowUpDue      *time.Time  `json:"follow_up_due,omitempty"`
	CreateCAPAs      *bool       `json:"create_capas,omitempty"`
}

// ShouldCreateCAPAs resolves the CreateCAPAs flag with its default.
func (r CompleteAuditRequest) ShouldCreateCAPAs() bool {
	return r.CreateCAPAs == nil || *r.CreateCAPAs
}

// Validate checks rating and summary before the completion workflow runs.
func (r CompleteAuditRequest) Validate() error {
	if !ValidRating(r.Rating) {
		return fmt.Errorf("rating must be one of PASS, PASS_WITH_OBSERVATIONS, CONDITIONAL_PASS, FAIL (got %q)", r.Rating)
	}
	if r.Summary == "" {
		return fmt.Errorf("summary is required")
	}
	if len(r.Summary) > MaxSummaryLen {
		return fmt.Errorf("summary exceeds maximum length of %d bytes", MaxSummaryLen)
	}
	return nil
}

// CompleteAuditResult is the response payload for a successful audit
// completion. FollowUpAudit is set only when the rating triggered one.
type CompleteAuditResult struct {
	Audit          Audit          `json:"audit"`
	Stats          ChecklistStats `json:"stats"`
	CreatedCAPAIDs []uuid.UUID    `json:"created_capa_ids"`
	FollowUpAudit  *Audit         `json:"follow_up_audit,omitempty"`
}

// AuthTokenRequest exchanges a raw API key for a session token.
type AuthTokenRequest struct {
	APIKey string `json:"api_key"`
}

// AuthTokenResponse carries a freshly minted session token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateAuditRequest schedules a new audit for an organization.
type CreateAuditRequest struct {
	Type          AuditType  `json:"type"`
	ScheduledDate time.Time  `json:"scheduled_date"`
	AuditorID     *uuid.UUID `json:"auditor_id,omitempty"`
}

// Validate checks the audit type and schedule.
func (r CreateAuditRequest) Validate() error {
	switch r.Type {
	case AuditInitialCertification, AuditAnnual, AuditFollowUp, AuditRandom, AuditComplaint:
	default:
		return fmt.Errorf("unknown audit type %q", r.Type)
	}
	if r.ScheduledDate.IsZero() {
		return fmt.Errorf("scheduled_date is required")
	}
	return nil
}

// AddChecklistItemRequest records one auditor finding against an audit.
type AddChecklistItemRequest struct {
	Element  ISOElement        `json:"element"`
	Response ChecklistResponse `json:"response"`
	Finding  *string           `json:"finding,omitempty"`
	Severity *FindingSeverity  `json:"severity,omitempty"`
}

// Validate checks element, response, and optional severity values.
func (r AddChecklistItemRequest) Validate() error {
	if !ValidISOElement(r.Element) {
		return fmt.Errorf("unknown ISO element %q", r.Element)
	}
	switch r.Response {
	case ResponseConforming, ResponseMinor, ResponseMajor, ResponseObservation, ResponseNotApplicable:
	default:
		return fmt.Errorf("unknown checklist response %q", r.Response)
	}
	if r.Severity != nil && *r.Severity != SeverityMinor && *r.Severity != SeverityMajor {
		return fmt.Errorf("unknown severity %q", *r.Severity)
	}
	if r.Finding != nil && len(*r.Finding) > MaxFindingLen {
		return fmt.Errorf("finding exceeds maximum length of %d bytes", MaxFindingLen)
	}
	return nil
}

// UpdateCAPAStatusRequest advances a corrective action through its lifecycle.
// OPEN and OVERDUE are system-assigned and cannot be requested.
type UpdateCAPAStatusRequest struct {
	Status CAPAStatus `json:"status"`
}

// Validate restricts the target status to caller-reachable states.
func (r UpdateCAPAStatusRequest) Validate() error {
	switch r.Status {
	case CAPAInProgress, CAPAPendingVerification, CAPAClosed:
		return nil
	}
	return fmt.Errorf("status must be one of IN_PROGRESS, PENDING_VERIFICATION, CLOSED (got %q)", r.Status)
}

// CreateAPIKeyRequest mints a new API key. OrgID is required when the caller
// authenticates with the admin key; key-scoped callers mint for their own
// organization only.
type CreateAPIKeyRequest struct {
	OrgID *uuid.UUID `json:"org_id,omitempty"`
	Label string     `json:"label"`
}

// Validate checks the key label.
func (r CreateAPIKeyRequest) Validate() error {
	if r.Label == "" {
		return fmt.Errorf("label is required")
	}
	if len(r.Label) > 128 {
		return fmt.Errorf("label exceeds maximum length of 128 bytes")
	}
	return nil
}

// CreateAPIKeyResponse returns the raw key exactly once, at creation.
type CreateAPIKeyResponse struct {
	Key    APIKey `json:"key"`
	RawKey string `json:"raw_key"`
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// HealthResponse is the response for GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Outbox   int    `json:"outbox_depth"`
	Uptime   int64  `json:"uptime_seconds"`
}
