package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditType categorizes why an audit was raised.
type AuditType string

const (
	AuditInitialCertification AuditType = "INITIAL_CERTIFICATION"
	AuditAnnual               AuditType = "ANNUAL"
	AuditFollowUp             AuditType = "FOLLOW_UP"
	AuditRandom               AuditType = "RANDOM"
	AuditComplaint            AuditType = "COMPLAINT"
)

// AuditStatus is the lifecycle state of an audit. COMPLETED and CANCELLED are
// terminal; CANCELLED is reachable from any non-terminal state.
type AuditStatus string

const (
	AuditScheduled     AuditStatus = "SCHEDULED"
	AuditInProgress    AuditStatus = "IN_PROGRESS"
	AuditPendingReview AuditStatus = "PENDING_REVIEW"
	AuditCompleted     AuditStatus = "COMPLETED"
	AuditCancelled     AuditStatus = "CANCELLED"
)

// Terminal reports whether s is a terminal audit status.
func (s AuditStatus) Terminal() bool {
	return s == AuditCompleted || s == AuditCancelled
}

// AuditRating is the auditor's overall verdict, set at completion.
type AuditRating string

const (
	RatingPass                 AuditRating = "PASS"
	RatingPassWithObservations AuditRating = "PASS_WITH_OBSERVATIONS"
	RatingConditionalPass      AuditRating = "CONDITIONAL_PASS"
	RatingFail                 AuditRating = "FAIL"
)

// ValidRating reports whether r is a known audit rating.
func ValidRating(r AuditRating) bool {
	switch r {
	case RatingPass, RatingPassWithObservations, RatingConditionalPass, RatingFail:
		return true
	}
	return false
}

// Audit is a certification audit of one organization. Version supports the
// optimistic completion check; a completed or cancelled audit is never
// mutated again.
type Audit struct {
	ID            uuid.UUID    `json:"id"`
	OrgID         uuid.UUID    `json:"org_id"`
	Type          AuditType    `json:"type"`
	Status        AuditStatus  `json:"status"`
	ScheduledDate time.Time    `json:"scheduled_date"`
	AuditorID     *uuid.UUID   `json:"auditor_id,omitempty"`
	Rating        *AuditRating `json:"rating,omitempty"`
	Summary       *string      `json:"summary,omitempty"`

	// Aggregate finding counts, tallied from checklist items at completion.
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

// ChecklistResponse is the auditor's finding for one checklist item.
type ChecklistResponse string

const (
	ResponseConforming    ChecklistResponse = "CONFORMING"
	ResponseMinor         ChecklistResponse = "MINOR_NONCONFORMITY"
	ResponseMajor         ChecklistResponse = "MAJOR_NONCONFORMITY"
	ResponseObservation   ChecklistResponse = "OBSERVATION"
	ResponseNotApplicable ChecklistResponse = "NOT_APPLICABLE"
)

// Nonconformity reports whether the response records a failed requirement.
func (r ChecklistResponse) Nonconformity() bool {
	return r == ResponseMinor || r == ResponseMajor
}

// FindingSeverity classifies a nonconformity. Shared by checklist items and
// the corrective actions raised from them.
type FindingSeverity string

const (
	SeverityMinor FindingSeverity = "MINOR"
	SeverityMajor FindingSeverity = "MAJOR"
)

// AuditChecklistItem is one line of an audit's checklist.
type AuditChecklistItem struct {
	ID        uuid.UUID         `json:"id"`
	AuditID   uuid.UUID         `json:"audit_id"`
	Element   ISOElement        `json:"element"`
	Response  ChecklistResponse `json:"response"`
	Finding   *string           `json:"finding,omitempty"`
	Severity  *FindingSeverity  `json:"severity,omitempty"`
	Sequence  int               `json:"sequence"`
	CreatedAt time.Time         `json:"created_at"`
}

// ChecklistStats aggregates checklist responses by kind. NOT_APPLICABLE
// items are not counted.
type ChecklistStats struct {
	Conforming  int `json:"conforming"`
	Minor       int `json:"minor"`
	Major       int `json:"major"`
	Observation int `json:"observation"`
}

// TallyChecklist folds checklist items into aggregate counts.
func TallyChecklist(items []AuditChecklistItem) ChecklistStats {
	var stats ChecklistStats
	for _, item := range items {
		switch item.Response {
		case ResponseConforming:
			stats.Conforming++
		case ResponseMinor:
			stats.Minor++
		case ResponseMajor:
			stats.Major++
		case ResponseObservation:
			stats.Observation++
		}
	}
	return stats
}
