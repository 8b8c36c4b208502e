// Package model defines the core domain types for Roofline.
//
// Types correspond directly to database tables and API payloads. Strong
// typing throughout (UUIDs, time.Time, string enums); nullable columns map
// to pointer fields.
package model

import (
	"time"

	"github.com/google/uuid"
)

// CertificationTier is the ordered certification level of an organization.
type CertificationTier string

const (
	TierAccredited   CertificationTier = "ACCREDITED"
	TierCertified    CertificationTier = "CERTIFIED"
	TierMasterRoofer CertificationTier = "MASTER_ROOFER"
)

// MembershipStatus represents the standing of an organization's membership.
type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "ACTIVE"
	MembershipSuspended MembershipStatus = "SUSPENDED"
	MembershipLapsed    MembershipStatus = "LAPSED"
)

// Organization is a certified member business. Score fields are derived and
// written only by the compliance service; everything else is managed by the
// membership surfaces.
type Organization struct {
	ID     uuid.UUID         `json:"id"`
	Name   string            `json:"name"`
	Slug   string            `json:"slug"`
	Region *string           `json:"region,omitempty"`
	Tier   CertificationTier `json:"tier"`
	Status MembershipStatus  `json:"status"`

	LastAuditDate *time.Time `json:"last_audit_date,omitempty"`
	NextAuditDue  *time.Time `json:"next_audit_due,omitempty"`

	// Stored compliance scores from the most recent calculation.
	ComplianceScore    *int       `json:"compliance_score,omitempty"`
	DocumentationScore *int       `json:"documentation_score,omitempty"`
	InsuranceScore     *int       `json:"insurance_score,omitempty"`
	PersonnelScore     *int       `json:"personnel_score,omitempty"`
	AuditScore         *int       `json:"audit_score,omitempty"`
	LastCalculatedAt   *time.Time `json:"last_calculated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TierRank returns the numeric rank of a certification tier (higher = more
// senior). Only relative ordering matters.
func TierRank(t CertificationTier) int {
	switch t {
	case TierMasterRoofer:
		return 3
	case TierCertified:
		return 2
	case TierAccredited:
		return 1
	default:
		return 0
	}
}

// TierAtLeast returns true if tier t is at or above minTier.
func TierAtLeast(t, minTier CertificationTier) bool {
	return TierRank(t) >= TierRank(minTier)
}

// NextTier returns the tier directly above t. The second return is false when
// t is already the top tier or is unknown.
func NextTier(t CertificationTier) (CertificationTier, bool) {
	switch t {
	case TierAccredited:
		return TierCertified, true
	case TierCertified:
		return TierMasterRoofer, true
	default:
		return "", false
	}
}

// ValidTier reports whether t is a known certification tier.
func ValidTier(t CertificationTier) bool {
	return TierRank(t) > 0
}
