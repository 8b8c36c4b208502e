package model

import (
	"time"

	"github.com/google/uuid"
)

// IssueSeverity grades a compliance issue. Issues are result data returned to
// the caller, never errors.
type IssueSeverity string

const (
	IssueInfo     IssueSeverity = "info"
	IssueWarning  IssueSeverity = "warning"
	IssueCritical IssueSeverity = "critical"
)

// IssueCategory names the scorer that raised an issue.
type IssueCategory string

const (
	CategoryDocumentation IssueCategory = "documentation"
	CategoryInsurance     IssueCategory = "insurance"
	CategoryPersonnel     IssueCategory = "personnel"
	CategoryAudit         IssueCategory = "audit"
)

// Issue is one actionable finding produced during score calculation.
type Issue struct {
	Category IssueCategory `json:"category"`
	Severity IssueSeverity `json:"severity"`
	Message  string        `json:"message"`
	Element  *ISOElement   `json:"element,omitempty"`
}

// CategoryScores is the per-category breakdown of a compliance calculation.
// Every score is an integer in [0,100].
type CategoryScores struct {
	Documentation int `json:"documentation"`
	Insurance     int `json:"insurance"`
	Personnel     int `json:"personnel"`
	Audit         int `json:"audit"`
}

// TierEligibility reports whether the organization qualifies for the next
// certification tier. NextTier is nil when the organization already holds the
// top tier.
type TierEligibility struct {
	CurrentTier        CertificationTier  `json:"current_tier"`
	NextTier           *CertificationTier `json:"next_tier,omitempty"`
	EligibleForUpgrade bool               `json:"eligible_for_upgrade"`
	Blockers           []string           `json:"blockers"`
}

// ComplianceResult is the full outcome of one compliance calculation.
type ComplianceResult struct {
	OrgID           uuid.UUID       `json:"org_id"`
	OverallScore    int             `json:"overall_score"`
	Breakdown       CategoryScores  `json:"breakdown"`
	Issues          []Issue         `json:"issues"`
	TierEligibility TierEligibility `json:"tier_eligibility"`
	CalculatedAt    time.Time       `json:"calculated_at"`
}

// OrganizationSnapshot is the full relation graph one compliance calculation
// reads, assembled once and passed by value into the pure scorers. Documents
// exclude soft-deleted rows; LatestAudit is the most recently completed audit
// with CAPAs holding every corrective action raised for the organization.
type OrganizationSnapshot struct {
	Organization Organization
	Policies     []InsurancePolicy
	Members      []OrganizationMember
	Documents    []Document
	Assessments  []ComplianceAssessment
	LatestAudit  *Audit
	CAPAs        []CAPARecord
	LoadedAt     time.Time
}

// HasValidInsurance reports whether any unexpired public-liability policy
// exists at the given instant. This is the "insurance valid" flag synced to
// the identity service.
func (s OrganizationSnapshot) HasValidInsurance(now time.Time) bool {
	for _, p := range s.Policies {
		if p.PolicyType == PolicyPublicLiability && p.ValidAt(now) {
			return true
		}
	}
	return false
}

// VerifiedLicenseCount counts members holding a verified practitioner
// license.
func (s OrganizationSnapshot) VerifiedLicenseCount() int {
	n := 0
	for _, m := range s.Members {
		if m.HoldsLicense() && m.LicenseVerified {
			n++
		}
	}
	return n
}
