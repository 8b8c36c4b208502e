package model

import (
	"time"

	"github.com/google/uuid"
)

// AssessmentStatus is the reviewer's verdict for one ISO element.
type AssessmentStatus string

const (
	AssessmentCompliant    AssessmentStatus = "COMPLIANT"
	AssessmentPartial      AssessmentStatus = "PARTIAL"
	AssessmentNonCompliant AssessmentStatus = "NON_COMPLIANT"
	AssessmentNotAssessed  AssessmentStatus = "NOT_ASSESSED"
)

// ComplianceAssessment is a human reviewer's authoritative judgement of one
// organization's standing on one ISO element. At most one exists per
// (organization, element); when present it overrides document-presence
// heuristics in scoring.
type ComplianceAssessment struct {
	ID         uuid.UUID        `json:"id"`
	OrgID      uuid.UUID        `json:"org_id"`
	Element    ISOElement       `json:"element"`
	Score      int              `json:"score"`
	Status     AssessmentStatus `json:"status"`
	AssessorID *uuid.UUID       `json:"assessor_id,omitempty"`
	Notes      *string          `json:"notes,omitempty"`
	AssessedAt time.Time        `json:"assessed_at"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}
