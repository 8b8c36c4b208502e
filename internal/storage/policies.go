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

// CreateInsurancePolicy inserts a new insurance policy for an organization.
func (db *DB) CreateInsurancePolicy(ctx context.Context, p model.InsurancePolicy) (model.InsurancePolicy, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO insurance_policies (id, org_id, policy_type, insurer, policy_number,
		 coverage_amount, expiry_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.OrgID, string(p.PolicyType), p.Insurer, p.PolicyNumber,
		p.CoverageAmount, p.ExpiryDate, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return model.InsurancePolicy{}, fmt.Errorf("storage: create insurance policy: %w", err)
	}
	return p, nil
}

// GetInsurancePolicy retrieves a policy by ID, scoped to an org.
func (db *DB) GetInsurancePolicy(ctx context.Context, orgID, policyID uuid.UUID) (model.InsurancePolicy, error) {
	var p model.InsurancePolicy
	err := db.pool.QueryRow(ctx,
		`SELECT id, org_id, policy_type, insurer, policy_number, coverage_amount,
		 expiry_date, created_at, updated_at
		 FROM insurance_policies WHERE id = $1 AND org_id = $2`,
		policyID, orgID,
	).Scan(
		&p.ID, &p.OrgID, &p.PolicyType, &p.Insurer, &p.PolicyNumber, &p.CoverageAmount,
		&p.ExpiryDate, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.InsurancePolicy{}, fmt.Errorf("storage: insurance policy %s: %w", policyID, ErrNotFound)
		}
		return model.InsurancePolicy{}, fmt.Errorf("storage: get insurance policy: %w", err)
	}
	return p, nil
}

// ListInsurancePolicies returns all policies for an organization, including
// expired ones. Validity is judged at scoring time, not at read time.
func (db *DB) ListInsurancePolicies(ctx context.Context, orgID uuid.UUID) ([]model.InsurancePolicy, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, org_id, policy_type, insurer, policy_number, coverage_amount,
		 expiry_date, created_at, updated_at
		 FROM insurance_policies
		 WHERE org_id = $1
		 ORDER BY policy_type ASC, expiry_date DESC`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list insurance policies: %w", err)
	}
	defer rows.Close()

	var policies []model.InsurancePolicy
	for rows.Next() {
		var p model.InsurancePolicy
		if err := rows.Scan(
			&p.ID, &p.OrgID, &p.PolicyType, &p.Insurer, &p.PolicyNumber, &p.CoverageAmount,
			&p.ExpiryDate, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan insurance policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// UpdateInsurancePolicy updates a policy's cover details.
func (db *DB) UpdateInsurancePolicy(ctx context.Context, p model.InsurancePolicy) error {
	p.UpdatedAt = time.Now().UTC()
	tag, err := db.pool.Exec(ctx,
		`UPDATE insurance_policies SET policy_type = $1, insurer = $2, policy_number = $3,
		 coverage_amount = $4, expiry_date = $5, updated_at = $6
		 WHERE id = $7 AND org_id = $8`,
		string(p.PolicyType), p.Insurer, p.PolicyNumber,
		p.CoverageAmount, p.ExpiryDate, p.UpdatedAt,
		p.ID, p.OrgID,
	)
	if err != nil {
		return fmt.Errorf("storage: update insurance policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: insurance policy %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// DeleteInsurancePolicy removes a policy. Policies are hard-deleted; expired
// cover is kept only while the row remains relevant to the insurer record.
func (db *DB) DeleteInsurancePolicy(ctx context.Context, orgID, policyID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM insurance_policies WHERE id = $1 AND org_id = $2`,
		policyID, orgID,
	)
	if err != nil {
		return fmt.Errorf("storage: delete insurance policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: insurance policy %s: %w", policyID, ErrNotFound)
	}
	return nil
}
