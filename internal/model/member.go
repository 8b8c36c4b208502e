package model

import (
	"time"

	"github.com/google/uuid"
)

// MemberRole represents a member's role within their organization.
type MemberRole string

const (
	RoleOwner MemberRole = "OWNER"
	RoleAdmin MemberRole = "ADMIN"
	RoleStaff MemberRole = "STAFF"
)

// MemberStatus represents whether a member currently works for the
// organization.
type MemberStatus string

const (
	MemberActive   MemberStatus = "ACTIVE"
	MemberInactive MemberStatus = "INACTIVE"
)

// OrganizationMember is a person attached to an organization. LicenseNumber
// holds a licensed-practitioner registration when the member is a licensed
// tradesperson; LicenseVerified records the outcome of the external registry
// check.
type OrganizationMember struct {
	ID              uuid.UUID    `json:"id"`
	OrgID           uuid.UUID    `json:"org_id"`
	FullName        string       `json:"full_name"`
	Email           *string      `json:"email,omitempty"`
	Role            MemberRole   `json:"role"`
	Status          MemberStatus `json:"status"`
	LicenseNumber   *string      `json:"license_number,omitempty"`
	LicenseVerified bool         `json:"license_verified"`
	LicenseExpiry   *time.Time   `json:"license_expiry,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// HoldsLicense reports whether the member has a licensed-practitioner number
// on record.
func (m OrganizationMember) HoldsLicense() bool {
	return m.LicenseNumber != nil && *m.LicenseNumber != ""
}

// LicenseExpired reports whether the member's license expiry has passed as of
// now. Members without an expiry on record never report expired.
func (m OrganizationMember) LicenseExpired(now time.Time) bool {
	return m.LicenseExpiry != nil && m.LicenseExpiry.Before(now)
}
