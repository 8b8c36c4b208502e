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

// CreateCAPA inserts a corrective action raised outside the audit completion
// flow, such as one opened manually from a complaint.
func (db *DB) CreateCAPA(ctx context.Context, c model.CAPARecord) (model.CAPARecord, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = model.CAPAOpen
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.DueDate.IsZero() {
		c.DueDate = model.CAPADueDate(c.Severity, c.CreatedAt)
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO capa_records (id, org_id, audit_id, checklist_item_id, element, severity,
		 title, description, status, due_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.OrgID, c.AuditID, c.ChecklistItemID, string(c.Element), string(c.Severity),
		c.Title, c.Description, string(c.Status), c.DueDate, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return model.CAPARecord{}, fmt.Errorf("storage: create capa: %w", err)
	}
	return c, nil
}

// GetCAPA retrieves a corrective action by ID, scoped to an org.
func (db *DB) GetCAPA(ctx context.Context, orgID, capaID uuid.UUID) (model.CAPARecord, error) {
	var c model.CAPARecord
	err := db.pool.QueryRow(ctx,
		`SELECT id, org_id, audit_id, checklist_item_id, element, severity,
		 title, description, status, due_date, closed_at, created_at, updated_at
		 FROM capa_records WHERE id = $1 AND org_id = $2`,
		capaID, orgID,
	).Scan(
		&c.ID, &c.OrgID, &c.AuditID, &c.ChecklistItemID, &c.Element, &c.Severity,
		&c.Title, &c.Description, &c.Status, &c.DueDate, &c.ClosedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CAPARecord{}, fmt.Errorf("storage: capa %s: %w", capaID, ErrNotFound)
		}
		return model.CAPARecord{}, fmt.Errorf("storage: get capa: %w", err)
	}
	return c, nil
}

// ListCAPAs returns corrective actions for an org, due soonest first, with an
// optional status filter. Unpaginated: an organization carries at most a
// handful of open actions at a time.
func (db *DB) ListCAPAs(ctx context.Context, orgID uuid.UUID, status *model.CAPAStatus) ([]model.CAPARecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, org_id, audit_id, checklist_item_id, element, severity,
		 title, description, status, due_date, closed_at, created_at, updated_at
		 FROM capa_records
		 WHERE org_id = $1 AND ($2::text IS NULL OR status = $2)
		 ORDER BY due_date ASC, created_at ASC`,
		orgID, status,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list capas: %w", err)
	}
	defer rows.Close()

	var capas []model.CAPARecord
	for rows.Next() {
		var c model.CAPARecord
		if err := rows.Scan(
			&c.ID, &c.OrgID, &c.AuditID, &c.ChecklistItemID, &c.Element, &c.Severity,
			&c.Title, &c.Description, &c.Status, &c.DueDate, &c.ClosedAt, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan capa: %w", err)
		}
		capas = append(capas, c)
	}
	return capas, rows.Err()
}

// UpdateCAPAStatus moves a corrective action through its lifecycle. Closing
// sets closed_at; reopening clears it.
func (db *DB) UpdateCAPAStatus(ctx context.Context, orgID, capaID uuid.UUID, status model.CAPAStatus) error {
	var closedAt *time.Time
	if status == model.CAPAClosed {
		now := time.Now().UTC()
		closedAt = &now
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE capa_records SET status = $1, closed_at = $2, updated_at = now()
		 WHERE id = $3 AND org_id = $4`,
		string(status), closedAt, capaID, orgID,
	)
	if err != nil {
		return fmt.Errorf("storage: update capa status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: capa %s: %w", capaID, ErrNotFound)
	}
	return nil
}

// MarkOverdueCAPAs flips OPEN and IN_PROGRESS corrective actions whose due
// date has passed to OVERDUE. Run periodically; returns the number of rows
// changed.
func (db *DB) MarkOverdueCAPAs(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE capa_records SET status = 'OVERDUE', updated_at = now()
		 WHERE status IN ('OPEN', 'IN_PROGRESS') AND due_date < $1`,
		asOf,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: mark overdue capas: %w", err)
	}
	return tag.RowsAffected(), nil
}
