package storage

import (
	"context"
	"fmt"

	"github.com/rooflinehq/roofline/internal/model"
)

// SaveComplianceResult persists the outcome of a compliance calculation onto
// the organization row and enqueues the identity sync in the same
// transaction. The sync reaches the identity service through the outbox
// relay, so a relay outage can never fail or roll back a calculation. An
// optional changelog entry commits atomically with the scores.
func (db *DB) SaveComplianceResult(ctx context.Context, result model.ComplianceResult, sync model.IdentitySync, cl *ChangeLogEntry) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin save compliance tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE organizations SET
		   compliance_score = $1,
		   documentation_score = $2,
		   insurance_score = $3,
		   personnel_score = $4,
		   audit_score = $5,
		   last_calculated_at = $6,
		   updated_at = $6
		 WHERE id = $7`,
		result.OverallScore,
		result.Breakdown.Documentation, result.Breakdown.Insurance,
		result.Breakdown.Personnel, result.Breakdown.Audit,
		result.CalculatedAt.UTC(), result.OrgID,
	)
	if err != nil {
		return fmt.Errorf("storage: save compliance scores: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: organization %s: %w", result.OrgID, ErrNotFound)
	}

	if err := enqueueIdentitySyncTx(ctx, tx, sync); err != nil {
		return err
	}

	if cl != nil {
		entry := *cl
		entry.ResourceID = result.OrgID.String()
		if err := InsertChangeLogTx(ctx, tx, entry); err != nil {
			return fmt.Errorf("storage: changelog in save compliance tx: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit save compliance tx: %w", err)
	}
	return nil
}
