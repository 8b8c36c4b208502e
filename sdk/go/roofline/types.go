package roofline

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CertificationTier is an organization's tier in the upgrade ladder.
type CertificationTier string

const (
	TierAccredited   CertificationTier = "ACCREDITED"
	TierCertified    CertificationTier = "CERTIFIED"
	TierMasterRoofer CertificationTier = "MASTER_ROOFER"
)

// AuditType classifies why an audit was scheduled.
type AuditType string

const (
	AuditInitialCertification AuditType = "INITIAL_CERTIFICATION"
	AuditAnnual               AuditType = "ANNUAL"
	AuditFollowUp             AuditType = "FOLLOW_UP"
	AuditRandom               AuditType = "RANDOM"
	AuditComplaint            AuditType = "COMPLAINT"
)

// AuditStatus is the audit lifecycle state.
type AuditStatus string

const (
	AuditScheduled     AuditStatus = "SCHEDULED"
	AuditInProgress    AuditStatus = "IN_PROGRESS"
	AuditPendingReview AuditStatus = "PENDING_REVIEW"
	AuditCompleted     AuditStatus = "COMPLETED"
	AuditCancelled     AuditStatus = "CANCELLED"
)

// AuditRating is the auditor's overall verdict on a completed audit.
type AuditRating string

const (
	RatingPass                 AuditRating = "PASS"
	RatingPassWithObservations AuditRating = "PASS_WITH_OBSERVATIONS"
	RatingConditionalPass      AuditRating = "CONDITIONAL_PASS"
	RatingFail                 AuditRating = "FAIL"
)

// ChecklistResponse is the auditor's finding for one checklist element.
type ChecklistResponse string

const (
	ResponseConforming    ChecklistResponse = "CONFORMING"
	ResponseMinor         ChecklistResponse = "MINOR_NONCONFORMITY"
	ResponseMajor         ChecklistResponse = "MAJOR_NONCONFORMITY"
	ResponseObservation   ChecklistResponse = "OBSERVATION"
	ResponseNotApplicable ChecklistResponse = "NOT_APPLICABLE"
)

// FindingSeverity grades a nonconformity.
type FindingSeverity string

const (
	SeverityMinor FindingSeverity = "MINOR"
	SeverityMajor FindingSeverity = "MAJOR"
)

// CAPAStatus is the corrective action lifecycle state.
type CAPAStatus string

const (
	CAPAOpen                CAPAStatus = "OPEN"
	CAPAInProgress          CAPAStatus = "IN_PROGRESS"
	CAPAPendingVerification CAPAStatus = "PENDING_VERIFICATION"
	CAPAClosed              CAPAStatus = "CLOSED"
	CAPAOverdue             CAPAStatus = "OVERDUE"
)

// CategoryScores holds the per-category compliance scores (0-100 each).
type CategoryScores struct {
	Documentation int `json:"documentation"`
	Insurance     int `json:"insurance"`
	Personnel     int `json:"personnel"`
	Audit         int `json:"audit"`
}

// Issue is one compliance problem found during scoring.
type Issue struct {
	Category string  `json:"category"`
	Severity string  `json:"severity"`
	Message  string  `json:"message"`
	Element  *string `json:"element,omitempty"`
}

// TierEligibility describes where the organization stands on the tier ladder.
type TierEligibility struct {
	CurrentTier        CertificationTier  `json:"current_tier"`
	NextTier           *CertificationTier `json:"next_tier,omitempty"`
	EligibleForUpgrade bool               `json:"eligible_for_upgrade"`
	Blockers           []string           `json:"blockers"`
}

// ComplianceResult is one full compliance calculation for an organization.
type ComplianceResult struct {
	OrgID           uuid.UUID       `json:"org_id"`
	OverallScore    int             `json:"overall_score"`
	Breakdown       CategoryScores  `json:"breakdown"`
	Issues          []Issue         `json:"issues"`
	TierEligibility TierEligibility `json:"tier_eligibility"`
	CalculatedAt    time.Time       `json:"calculated_at"`
}

// Audit mirrors the server's audit record for API consumers.
type Audit struct {
	ID            uuid.UUID    `json:"id"`
	OrgID         uuid.UUID    `json:"org_id"`
	Type          AuditType    `json:"type"`
	Status        AuditStatus  `json:"status"`
	ScheduledDate time.Time    `json:"scheduled_date"`
	AuditorID     *uuid.UUID   `json:"auditor_id,omitempty"`
	Rating        *AuditRating `json:"rating,omitempty"`
	Summary       *string      `json:"summary,omitempty"`

	ConformingCount  int `json:"conforming_count"`
	MinorCount       int `json:"minor_count"`
	MajorCount       int `json:"major_count"`
	ObservationCount int `json:"observation_count"`

	FollowUpRequired bool       `json:"follow_up_required"`
	FollowUpDue      *time.Time `json:"follow_up_due,omitempty"`
	FollowUpOf       *uuid.UUID `json:"follow_up_of,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ChecklistItem is one auditor finding recorded against an audit.
type ChecklistItem struct {
	ID        uuid.UUID         `json:"id"`
	AuditID   uuid.UUID         `json:"audit_id"`
	Element   string            `json:"element"`
	Response  ChecklistResponse `json:"response"`
	Finding   *string           `json:"finding,omitempty"`
	Severity  *FindingSeverity  `json:"severity,omitempty"`
	Sequence  int               `json:"sequence"`
	CreatedAt time.Time         `json:"created_at"`
}

// ChecklistStats aggregates checklist responses for a completed audit.
type ChecklistStats struct {
	Conforming  int `json:"conforming"`
	Minor       int `json:"minor"`
	Major       int `json:"major"`
	Observation int `json:"observation"`
}

// AuditDetail is an audit together with its recorded checklist items.
type AuditDetail struct {
	Audit          Audit           `json:"audit"`
	ChecklistItems []ChecklistItem `json:"checklist_items"`
}

// CAPA is a corrective and preventive action raised from an audit finding.
type CAPA struct {
	ID              uuid.UUID       `json:"id"`
	OrgID           uuid.UUID       `json:"org_id"`
	AuditID         *uuid.UUID      `json:"audit_id,omitempty"`
	ChecklistItemID *uuid.UUID      `json:"checklist_item_id,omitempty"`
	Element         string          `json:"element"`
	Severity        FindingSeverity `json:"severity"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Status          CAPAStatus      `json:"status"`
	DueDate         time.Time       `json:"due_date"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// APIKey is the public view of a credential. The raw key is returned exactly
// once, at creation, inside CreateAPIKeyResponse.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	Prefix     string     `json:"prefix"`
	OrgID      uuid.UUID  `json:"org_id"`
	Label      string     `json:"label"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// CreateAPIKeyResponse returns the new key record and the raw secret.
type CreateAPIKeyResponse struct {
	Key    APIKey `json:"key"`
	RawKey string `json:"raw_key"`
}

// ChangeLogEntry is one recorded state-changing operation.
type ChangeLogEntry struct {
	ID           int64           `json:"id"`
	RequestID    string          `json:"request_id"`
	OrgID        uuid.UUID       `json:"org_id"`
	Actor        string          `json:"actor"`
	Operation    string          `json:"operation"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	BeforeData   json.RawMessage `json:"before_data,omitempty"`
	AfterData    json.RawMessage `json:"after_data,omitempty"`
	Metadata     json.RawMessage `json:"metadata"`
	CreatedAt    time.Time       `json:"created_at"`
}

// HealthResponse is the server's health report.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Outbox   int    `json:"outbox_depth"`
	Uptime   int64  `json:"uptime_seconds"`
}

// --- Request types ---

// CreateAuditRequest is the input for Client.CreateAudit.
type CreateAuditRequest struct {
	Type          AuditType  `json:"type"`
	ScheduledDate time.Time  `json:"scheduled_date"`
	AuditorID     *uuid.UUID `json:"auditor_id,omitempty"`
}

// AddChecklistItemRequest is the input for Client.AddChecklistItem.
type AddChecklistItemRequest struct {
	Element  string            `json:"element"`
	Response ChecklistResponse `json:"response"`
	Finding  *string           `json:"finding,omitempty"`
	Severity *FindingSeverity  `json:"severity,omitempty"`
}

// CompleteAuditRequest is the input for Client.CompleteAudit. When CreateCAPAs
// is nil the server defaults to creating corrective actions for every
// nonconformity.
type CompleteAuditRequest struct {
	Rating           AuditRating `json:"rating"`
	Summary          string      `json:"summary"`
	FollowUpRequired bool        `json:"follow_up_required,omitempty"`
	FollowUpDue      *time.Time  `json:"follow_up_due,omitempty"`
	CreateCAPAs      *bool       `json:"create_capas,omitempty"`
}

// CompleteAuditResult is the outcome of a successful audit completion.
// FollowUpAudit is set only when the rating triggered one.
type CompleteAuditResult struct {
	Audit          Audit          `json:"audit"`
	Stats          ChecklistStats `json:"stats"`
	CreatedCAPAIDs []uuid.UUID    `json:"created_capa_ids"`
	FollowUpAudit  *Audit         `json:"follow_up_audit,omitempty"`
}

// ListAuditsResponse is a page of audits plus the unpaged total.
type ListAuditsResponse struct {
	Audits []Audit `json:"audits"`
	Total  int     `json:"total"`
}
