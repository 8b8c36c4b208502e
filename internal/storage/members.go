package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rooflinehq/roofline/internal/model"
)

// CreateMember inserts a new organization member.
func (db *DB) CreateMember(ctx context.Context, m model.OrganizationMember) (model.OrganizationMember, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Role == "" {
		m.Role = model.RoleStaff
	}
	if m.Status == "" {
		m.Status = model.MemberActive
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO organization_members (id, org_id, full_name, email, role, status,
		 license_number, license_verified, license_expiry, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.OrgID, m.FullName, m.Email, string(m.Role), string(m.Status),
		m.LicenseNumber, m.LicenseVerified, m.LicenseExpiry, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return model.OrganizationMember{}, fmt.Errorf("storage: create member: %w", err)
	}
	return m, nil
}

// GetMember retrieves a member by ID, scoped to an org.
func (db *DB) GetMember(ctx context.Context, orgID, memberID uuid.UUID) (model.OrganizationMember, error) {
	var m model.OrganizationMember
	err := db.pool.QueryRow(ctx,
		`SELECT id, org_id, full_name, email, role, status,
		 license_number, license_verified, license_expiry, created_at, updated_at
		 FROM organization_members WHERE id = $1 AND org_id = $2`,
		memberID, orgID,
	).Scan(
		&m.ID, &m.OrgID, &m.FullName, &m.Email, &m.Role, &m.Status,
		&m.LicenseNumber, &m.LicenseVerified, &m.LicenseExpiry, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.OrganizationMember{}, fmt.Errorf("storage: member %s: %w", memberID, ErrNotFound)
		}
		return model.OrganizationMember{}, fmt.Errorf("storage: get member: %w", err)
	}
	return m, nil
}

// ListMembers returns every member of an organization, owners first, then by
// name. Scoring reads the full roster, so there is no status filter here.
func (db *DB) ListMembers(ctx context.Context, orgID uuid.UUID) ([]model.OrganizationMember, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, org_id, full_name, email, role, status,
		 license_number, license_verified, license_expiry, created_at, updated_at
		 FROM organization_members
		 WHERE org_id = $1
		 ORDER BY role = 'OWNER' DESC, full_name ASC`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list members: %w", err)
	}
	defer rows.Close()

	var members []model.OrganizationMember
	for rows.Next() {
		var m model.OrganizationMember
		if err := rows.Scan(
			&m.ID, &m.OrgID, &m.FullName, &m.Email, &m.Role, &m.Status,
			&m.LicenseNumber, &m.LicenseVerified, &m.LicenseExpiry, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// UpdateMember updates a member's profile and license fields.
func (db *DB) UpdateMember(ctx context.Context, m model.OrganizationMember) error {
	m.UpdatedAt = time.Now().UTC()
	tag, err := db.pool.Exec(ctx,
		`UPDATE organization_members SET full_name = $1, email = $2, role = $3, status = $4,
		 license_number = $5, license_verified = $6, license_expiry = $7, updated_at = $8
		 WHERE id = $9 AND org_id = $10`,
		m.FullName, m.Email, string(m.Role), string(m.Status),
		m.LicenseNumber, m.LicenseVerified, m.LicenseExpiry, m.UpdatedAt,
		m.ID, m.OrgID,
	)
	if err != nil {
		return fmt.Errorf("storage: update member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: member %s: %w", m.ID, ErrNotFound)
	}
	return nil
}

// SetLicenseVerified records the outcome of an external registry check for a
// member's practitioner license.
func (db *DB) SetLicenseVerified(ctx context.Context, orgID, memberID uuid.UUID, verified bool) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE organization_members SET license_verified = $1, updated_at = now()
		 WHERE id = $2 AND org_id = $3 AND license_number IS NOT NULL`,
		verified, memberID, orgID,
	)
	if err != nil {
		return fmt.Errorf("storage: set license verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: member %s has no license on record: %w", memberID, ErrNotFound)
	}
	return nil
}
