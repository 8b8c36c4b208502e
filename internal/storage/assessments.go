package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rooflinehq/roofline/internal/model"
)

// UpsertAssessment records a reviewer's judgement for one ISO element.
// Each organization holds at most one assessment per element; a later call
// for the same element overwrites the score, status, and notes.
// Returns ErrNotFound if the organization does not exist.
func (db *DB) UpsertAssessment(ctx context.Context, a model.ComplianceAssessment) (model.ComplianceAssessment, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM organizations WHERE id = $1)`,
		a.OrgID,
	).Scan(&exists)
	if err != nil {
		return model.ComplianceAssessment{}, fmt.Errorf("storage: upsert assessment: verify org: %w", err)
	}
	if !exists {
		return model.ComplianceAssessment{}, ErrNotFound
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.AssessedAt.IsZero() {
		a.AssessedAt = time.Now().UTC()
	}

	row := db.pool.QueryRow(ctx, `
		INSERT INTO compliance_assessments (id, org_id, element, score, status, assessor_id, notes, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (org_id, element)
		DO UPDATE SET
			score       = EXCLUDED.score,
			status      = EXCLUDED.status,
			assessor_id = EXCLUDED.assessor_id,
			notes       = EXCLUDED.notes,
			assessed_at = EXCLUDED.assessed_at,
			updated_at  = now()
		RETURNING id, org_id, element, score, status, assessor_id, notes, assessed_at, created_at, updated_at`,
		a.ID, a.OrgID, string(a.Element), a.Score, string(a.Status), a.AssessorID, a.Notes, a.AssessedAt,
	)

	var out model.ComplianceAssessment
	err = row.Scan(
		&out.ID, &out.OrgID, &out.Element, &out.Score, &out.Status,
		&out.AssessorID, &out.Notes, &out.AssessedAt, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return model.ComplianceAssessment{}, fmt.Errorf("storage: upsert assessment: %w", err)
	}
	return out, nil
}

// ListAssessments returns all element assessments for an organization in
// element order.
func (db *DB) ListAssessments(ctx context.Context, orgID uuid.UUID) ([]model.ComplianceAssessment, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, org_id, element, score, status, assessor_id, notes, assessed_at, created_at, updated_at
		FROM compliance_assessments
		WHERE org_id = $1
		ORDER BY element ASC`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list assessments: %w", err)
	}
	defer rows.Close()

	var out []model.ComplianceAssessment
	for rows.Next() {
		var a model.ComplianceAssessment
		if err := rows.Scan(
			&a.ID, &a.OrgID, &a.Element, &a.Score, &a.Status,
			&a.AssessorID, &a.Notes, &a.AssessedAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan assessment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAssessment removes a reviewer assessment, returning the element to
// document-presence scoring.
func (db *DB) DeleteAssessment(ctx context.Context, orgID uuid.UUID, element model.ISOElement) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM compliance_assessments WHERE org_id = $1 AND element = $2`,
		orgID, string(element),
	)
	if err != nil {
		return fmt.Errorf("storage: delete assessment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: assessment for %s: %w", element, ErrNotFound)
	}
	return nil
}
