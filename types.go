package roofline

import (
	"time"

	"github.com/google/uuid"
)

// Tier is a certification tier in the upgrade ladder.
type Tier string

const (
	TierAccredited   Tier = "ACCREDITED"
	TierCertified    Tier = "CERTIFIED"
	TierMasterRoofer Tier = "MASTER_ROOFER"
)

// CategoryBreakdown holds the per-category compliance scores (0-100 each).
type CategoryBreakdown struct {
	Documentation int
	Insurance     int
	Personnel     int
	Audit         int
}

// ScoreReport is the public view of one compliance calculation, delivered to
// registered ScoreHooks. It is a curated copy of the internal result with no
// internal package imports, so extension code can depend on it safely.
type ScoreReport struct {
	OrgID              uuid.UUID
	OverallScore       int
	Breakdown          CategoryBreakdown
	CurrentTier        Tier
	NextTier           *Tier
	EligibleForUpgrade bool
	Blockers           []string
	CalculatedAt       time.Time
}

// IdentityUpdate is the payload pushed to the member-identity service after a
// persisted recalculation: the fields the membership directory displays.
type IdentityUpdate struct {
	OrgID           uuid.UUID
	Tier            Tier
	ComplianceScore int
	InsuranceValid  bool
	CalculatedAt    time.Time
}
