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

// CreateOrganization inserts a new organization.
func (db *DB) CreateOrganization(ctx context.Context, org model.Organization) (model.Organization, error) {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	if org.Tier == "" {
		org.Tier = model.TierAccredited
	}
	if org.Status == "" {
		org.Status = model.MembershipActive
	}
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, slug, region, tier, status,
		 last_audit_date, next_audit_due, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		org.ID, org.Name, org.Slug, org.Region, string(org.Tier), string(org.Status),
		org.LastAuditDate, org.NextAuditDue, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		return model.Organization{}, fmt.Errorf("storage: create organization: %w", err)
	}
	return org, nil
}

// GetOrganization retrieves an org by ID.
func (db *DB) GetOrganization(ctx context.Context, id uuid.UUID) (model.Organization, error) {
	var org model.Organization
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, slug, region, tier, status, last_audit_date, next_audit_due,
		 compliance_score, documentation_score, insurance_score, personnel_score, audit_score,
		 last_calculated_at, created_at, updated_at
		 FROM organizations WHERE id = $1`, id,
	).Scan(
		&org.ID, &org.Name, &org.Slug, &org.Region, &org.Tier, &org.Status,
		&org.LastAuditDate, &org.NextAuditDue,
		&org.ComplianceScore, &org.DocumentationScore, &org.InsuranceScore, &org.PersonnelScore, &org.AuditScore,
		&org.LastCalculatedAt, &org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Organization{}, fmt.Errorf("storage: organization %s: %w", id, ErrNotFound)
		}
		return model.Organization{}, fmt.Errorf("storage: get organization: %w", err)
	}
	return org, nil
}

// GetOrganizationBySlug retrieves an org by slug.
func (db *DB) GetOrganizationBySlug(ctx context.Context, slug string) (model.Organization, error) {
	var org model.Organization
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, slug, region, tier, status, last_audit_date, next_audit_due,
		 compliance_score, documentation_score, insurance_score, personnel_score, audit_score,
		 last_calculated_at, created_at, updated_at
		 FROM organizations WHERE slug = $1`, slug,
	).Scan(
		&org.ID, &org.Name, &org.Slug, &org.Region, &org.Tier, &org.Status,
		&org.LastAuditDate, &org.NextAuditDue,
		&org.ComplianceScore, &org.DocumentationScore, &org.InsuranceScore, &org.PersonnelScore, &org.AuditScore,
		&org.LastCalculatedAt, &org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Organization{}, fmt.Errorf("storage: organization %s: %w", slug, ErrNotFound)
		}
		return model.Organization{}, fmt.Errorf("storage: get organization by slug: %w", err)
	}
	return org, nil
}

// UpdateOrganization updates the membership-managed fields of an org.
// Derived score columns are written only by SaveComplianceResult.
func (db *DB) UpdateOrganization(ctx context.Context, org model.Organization) error {
	org.UpdatedAt = time.Now().UTC()
	tag, err := db.pool.Exec(ctx,
		`UPDATE organizations SET name = $1, slug = $2, region = $3, tier = $4,
		 status = $5, updated_at = $6 WHERE id = $7`,
		org.Name, org.Slug, org.Region, string(org.Tier), string(org.Status),
		org.UpdatedAt, org.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: organization %s: %w", org.ID, ErrNotFound)
	}
	return nil
}

// ListOrganizations returns organizations with pagination, optionally
// filtered by tier. Ordered by name for stable admin listings.
func (db *DB) ListOrganizations(ctx context.Context, tier *model.CertificationTier, limit, offset int) ([]model.Organization, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM organizations WHERE ($1::text IS NULL OR tier = $1)`,
		tier,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count organizations: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, name, slug, region, tier, status, last_audit_date, next_audit_due,
		 compliance_score, documentation_score, insurance_score, personnel_score, audit_score,
		 last_calculated_at, created_at, updated_at
		 FROM organizations
		 WHERE ($1::text IS NULL OR tier = $1)
		 ORDER BY name ASC
		 LIMIT $2 OFFSET $3`,
		tier, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		var org model.Organization
		if err := rows.Scan(
			&org.ID, &org.Name, &org.Slug, &org.Region, &org.Tier, &org.Status,
			&org.LastAuditDate, &org.NextAuditDue,
			&org.ComplianceScore, &org.DocumentationScore, &org.InsuranceScore, &org.PersonnelScore, &org.AuditScore,
			&org.LastCalculatedAt, &org.CreatedAt, &org.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("storage: scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: list organizations: %w", err)
	}
	return orgs, total, nil
}

// ListOrganizationsDueForAudit returns active organizations whose next audit
// due date falls on or before the given cutoff, soonest first. Organizations
// with no scheduled audit are excluded.
func (db *DB) ListOrganizationsDueForAudit(ctx context.Context, cutoff time.Time, limit int) ([]model.Organization, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, slug, region, tier, status, last_audit_date, next_audit_due,
		 compliance_score, documentation_score, insurance_score, personnel_score, audit_score,
		 last_calculated_at, created_at, updated_at
		 FROM organizations
		 WHERE status = 'ACTIVE' AND next_audit_due IS NOT NULL AND next_audit_due <= $1
		 ORDER BY next_audit_due ASC
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list organizations due for audit: %w", err)
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		var org model.Organization
		if err := rows.Scan(
			&org.ID, &org.Name, &org.Slug, &org.Region, &org.Tier, &org.Status,
			&org.LastAuditDate, &org.NextAuditDue,
			&org.ComplianceScore, &org.DocumentationScore, &org.InsuranceScore, &org.PersonnelScore, &org.AuditScore,
			&org.LastCalculatedAt, &org.CreatedAt, &org.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}
