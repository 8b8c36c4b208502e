package model

import (
	"time"

	"github.com/google/uuid"
)

// PolicyType enumerates the insurance policy categories tracked for
// certification.
type PolicyType string

const (
	PolicyPublicLiability       PolicyType = "public-liability"
	PolicyProfessionalIndemnity PolicyType = "professional-indemnity"
	PolicyStatutoryLiability    PolicyType = "statutory-liability"
	PolicyEmployersLiability    PolicyType = "employers-liability"
	PolicyMotorVehicle          PolicyType = "motor-vehicle"
	PolicyContractWorks         PolicyType = "contract-works"
)

// PolicyTypes lists every tracked policy type in stable order.
func PolicyTypes() []PolicyType {
	return []PolicyType{
		PolicyPublicLiability,
		PolicyProfessionalIndemnity,
		PolicyStatutoryLiability,
		PolicyEmployersLiability,
		PolicyMotorVehicle,
		PolicyContractWorks,
	}
}

// InsurancePolicy is one insurance cover held by an organization.
// CoverageAmount is in whole dollars.
type InsurancePolicy struct {
	ID             uuid.UUID  `json:"id"`
	OrgID          uuid.UUID  `json:"org_id"`
	PolicyType     PolicyType `json:"policy_type"`
	Insurer        string     `json:"insurer"`
	PolicyNumber   string     `json:"policy_number"`
	CoverageAmount int64      `json:"coverage_amount"`
	ExpiryDate     time.Time  `json:"expiry_date"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ValidAt reports whether the policy is in force at the given instant.
// A policy expiring exactly at now is no longer valid.
func (p InsurancePolicy) ValidAt(now time.Time) bool {
	return p.ExpiryDate.After(now)
}
