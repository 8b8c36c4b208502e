package model

import (
	"time"

	"github.com/google/uuid"
)

// IdentitySync is the payload pushed to the member identity service after a
// compliance calculation. The identity service drives the public directory,
// so it only needs the headline fields.
type IdentitySync struct {
	OrgID           uuid.UUID         `json:"org_id"`
	Tier            CertificationTier `json:"tier"`
	ComplianceScore int               `json:"compliance_score"`
	InsuranceValid  bool              `json:"insurance_valid"`
	CalculatedAt    time.Time         `json:"calculated_at"`
}
