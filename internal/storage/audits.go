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

// CreateAudit inserts a new audit in SCHEDULED state.
func (db *DB) CreateAudit(ctx context.Context, a model.Audit) (model.Audit, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = model.AuditScheduled
	}
	if a.Version == 0 {
		a.Version = 1
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO audits (id, org_id, type, status, scheduled_date, auditor_id,
		 follow_up_of, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.OrgID, string(a.Type), string(a.Status), a.ScheduledDate, a.AuditorID,
		a.FollowUpOf, a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return model.Audit{}, fmt.Errorf("storage: create audit: %w", err)
	}
	return a, nil
}

// GetAudit retrieves an audit by ID. Org ownership is checked by the caller;
// the completion endpoint addresses audits directly.
func (db *DB) GetAudit(ctx context.Context, id uuid.UUID) (model.Audit, error) {
	var a model.Audit
	err := db.pool.QueryRow(ctx,
		`SELECT id, org_id, type, status, scheduled_date, auditor_id, rating, summary,
		 conforming_count, minor_count, major_count, observation_count,
		 follow_up_required, follow_up_due, follow_up_of,
		 completed_at, version, created_at, updated_at
		 FROM audits WHERE id = $1`, id,
	).Scan(
		&a.ID, &a.OrgID, &a.Type, &a.Status, &a.ScheduledDate, &a.AuditorID, &a.Rating, &a.Summary,
		&a.ConformingCount, &a.MinorCount, &a.MajorCount, &a.ObservationCount,
		&a.FollowUpRequired, &a.FollowUpDue, &a.FollowUpOf,
		&a.CompletedAt, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Audit{}, fmt.Errorf("storage: audit %s: %w", id, ErrNotFound)
		}
		return model.Audit{}, fmt.Errorf("storage: get audit: %w", err)
	}
	return a, nil
}

// ListAudits returns audits for an org, newest scheduled first, with
// pagination and an optional status filter.
func (db *DB) ListAudits(ctx context.Context, orgID uuid.UUID, status *model.AuditStatus, limit, offset int) ([]model.Audit, int, error) {
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
		`SELECT COUNT(*) FROM audits WHERE org_id = $1 AND ($2::text IS NULL OR status = $2)`,
		orgID, status,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count audits: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, org_id, type, status, scheduled_date, auditor_id, rating, summary,
		 conforming_count, minor_count, major_count, observation_count,
		 follow_up_required, follow_up_due, follow_up_of,
		 completed_at, version, created_at, updated_at
		 FROM audits
		 WHERE org_id = $1 AND ($2::text IS NULL OR status = $2)
		 ORDER BY scheduled_date DESC
		 LIMIT $3 OFFSET $4`,
		orgID, status, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list audits: %w", err)
	}
	defer rows.Close()

	var audits []model.Audit
	for rows.Next() {
		var a model.Audit
		if err := rows.Scan(
			&a.ID, &a.OrgID, &a.Type, &a.Status, &a.ScheduledDate, &a.AuditorID, &a.Rating, &a.Summary,
			&a.ConformingCount, &a.MinorCount, &a.MajorCount, &a.ObservationCount,
			&a.FollowUpRequired, &a.FollowUpDue, &a.FollowUpOf,
			&a.CompletedAt, &a.Version, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("storage: scan audit: %w", err)
		}
		audits = append(audits, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: list audits: %w", err)
	}
	return audits, total, nil
}

// GetLatestCompletedAudit returns the most recently completed audit for an
// org, or nil if none has been completed.
func (db *DB) GetLatestCompletedAudit(ctx context.Context, orgID uuid.UUID) (*model.Audit, error) {
	var a model.Audit
	err := db.pool.QueryRow(ctx,
		`SELECT id, org_id, type, status, scheduled_date, auditor_id, rating, summary,
		 conforming_count, minor_count, major_count, observation_count,
		 follow_up_required, follow_up_due, follow_up_of,
		 completed_at, version, created_at, updated_at
		 FROM audits
		 WHERE org_id = $1 AND status = 'COMPLETED'
		 ORDER BY completed_at DESC
		 LIMIT 1`,
		orgID,
	).Scan(
		&a.ID, &a.OrgID, &a.Type, &a.Status, &a.ScheduledDate, &a.AuditorID, &a.Rating, &a.Summary,
		&a.ConformingCount, &a.MinorCount, &a.MajorCount, &a.ObservationCount,
		&a.FollowUpRequired, &a.FollowUpDue, &a.FollowUpOf,
		&a.CompletedAt, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get latest completed audit: %w", err)
	}
	return &a, nil
}

// AddChecklistItem appends one checklist line to an audit. Sequence numbers
// are assigned by the caller in submission order.
func (db *DB) AddChecklistItem(ctx context.Context, item model.AuditChecklistItem) (model.AuditChecklistItem, error) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO audit_checklist_items (id, audit_id, element, response, finding, severity, sequence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.AuditID, string(item.Element), string(item.Response),
		item.Finding, item.Severity, item.Sequence, item.CreatedAt,
	)
	if err != nil {
		return model.AuditChecklistItem{}, fmt.Errorf("storage: add checklist item: %w", err)
	}
	return item, nil
}

// ListChecklistItems returns an audit's checklist in sequence order.
func (db *DB) ListChecklistItems(ctx context.Context, auditID uuid.UUID) ([]model.AuditChecklistItem, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, audit_id, element, response, finding, severity, sequence, created_at
		 FROM audit_checklist_items
		 WHERE audit_id = $1
		 ORDER BY sequence ASC`,
		auditID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list checklist items: %w", err)
	}
	defer rows.Close()

	var items []model.AuditChecklistItem
	for rows.Next() {
		var item model.AuditChecklistItem
		if err := rows.Scan(
			&item.ID, &item.AuditID, &item.Element, &item.Response,
			&item.Finding, &item.Severity, &item.Sequence, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan checklist item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CompleteAuditParams holds all writes for one audit completion. The service
// layer tallies the checklist, builds the CAPA records and any follow-up
// audit, and computes the next audit schedule; this struct carries the
// finished values into a single transaction.
type CompleteAuditParams struct {
	AuditID uuid.UUID
	OrgID   uuid.UUID

	Rating  model.AuditRating
	Summary *string
	Stats   model.ChecklistStats

	FollowUpRequired bool
	FollowUpDue      *time.Time

	// CompletedAt is the single timestamp used for completed_at, CAPA
	// creation, and the org's last_audit_date.
	CompletedAt  time.Time
	NextAuditDue time.Time

	CAPAs         []model.CAPARecord
	FollowUpAudit *model.Audit

	ChangeLog ChangeLogEntry
}

// CompleteAuditTx marks an audit completed, raises its corrective actions,
// schedules any follow-up audit, advances the organization's audit dates, and
// records a changelog entry, all atomically. The status gate inside the
// UPDATE means a concurrent completion gets ErrConflict rather than a double
// write. Returns the completed audit, created CAPA IDs in checklist order,
// and the follow-up audit if one was scheduled.
func (db *DB) CompleteAuditTx(ctx context.Context, params CompleteAuditParams) (model.Audit, []uuid.UUID, *model.Audit, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Audit{}, nil, nil, fmt.Errorf("storage: begin complete audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	completedAt := params.CompletedAt.UTC()

	// 1. Complete the audit. The WHERE clause excludes terminal states so the
	// first committer wins.
	var audit model.Audit
	err = tx.QueryRow(ctx,
		`UPDATE audits SET
		   status = 'COMPLETED',
		   rating = $1,
		   summary = $2,
		   conforming_count = $3,
		   minor_count = $4,
		   major_count = $5,
		   observation_count = $6,
		   follow_up_required = $7,
		   follow_up_due = $8,
		   completed_at = $9,
		   version = version + 1,
		   updated_at = $9
		 WHERE id = $10 AND org_id = $11 AND status NOT IN ('COMPLETED', 'CANCELLED')
		 RETURNING id, org_id, type, status, scheduled_date, auditor_id, rating, summary,
		   conforming_count, minor_count, major_count, observation_count,
		   follow_up_required, follow_up_due, follow_up_of,
		   completed_at, version, created_at, updated_at`,
		string(params.Rating), params.Summary,
		params.Stats.Conforming, params.Stats.Minor, params.Stats.Major, params.Stats.Observation,
		params.FollowUpRequired, params.FollowUpDue, completedAt,
		params.AuditID, params.OrgID,
	).Scan(
		&audit.ID, &audit.OrgID, &audit.Type, &audit.Status, &audit.ScheduledDate, &audit.AuditorID,
		&audit.Rating, &audit.Summary,
		&audit.ConformingCount, &audit.MinorCount, &audit.MajorCount, &audit.ObservationCount,
		&audit.FollowUpRequired, &audit.FollowUpDue, &audit.FollowUpOf,
		&audit.CompletedAt, &audit.Version, &audit.CreatedAt, &audit.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Audit{}, nil, nil, db.classifyCompleteMiss(ctx, tx, params.AuditID, params.OrgID)
		}
		return model.Audit{}, nil, nil, fmt.Errorf("storage: complete audit: %w", err)
	}

	// 2. Raise corrective actions via COPY.
	capaIDs := make([]uuid.UUID, 0, len(params.CAPAs))
	if len(params.CAPAs) > 0 {
		columns := []string{"id", "org_id", "audit_id", "checklist_item_id", "element", "severity",
			"title", "description", "status", "due_date", "created_at", "updated_at"}
		rows := make([][]any, len(params.CAPAs))
		for i, c := range params.CAPAs {
			id := c.ID
			if id == uuid.Nil {
				id = uuid.New()
			}
			capaIDs = append(capaIDs, id)
			status := c.Status
			if status == "" {
				status = model.CAPAOpen
			}
			rows[i] = []any{id, params.OrgID, c.AuditID, c.ChecklistItemID, string(c.Element), string(c.Severity),
				c.Title, c.Description, string(status), c.DueDate, completedAt, completedAt}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"capa_records"}, columns, pgx.CopyFromRows(rows)); err != nil {
			return model.Audit{}, nil, nil, fmt.Errorf("storage: create capas in complete audit tx: %w", err)
		}
	}

	// 3. Schedule the follow-up audit when the rating demands one.
	followUp := params.FollowUpAudit
	if followUp != nil {
		if followUp.ID == uuid.Nil {
			followUp.ID = uuid.New()
		}
		if followUp.Version == 0 {
			followUp.Version = 1
		}
		followUp.CreatedAt = completedAt
		followUp.UpdatedAt = completedAt
		if _, err := tx.Exec(ctx,
			`INSERT INTO audits (id, org_id, type, status, scheduled_date, follow_up_of, version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			followUp.ID, followUp.OrgID, string(followUp.Type), string(followUp.Status),
			followUp.ScheduledDate, followUp.FollowUpOf, followUp.Version,
			followUp.CreatedAt, followUp.UpdatedAt,
		); err != nil {
			return model.Audit{}, nil, nil, fmt.Errorf("storage: schedule follow-up in complete audit tx: %w", err)
		}
	}

	// 4. Advance the organization's audit schedule.
	if _, err := tx.Exec(ctx,
		`UPDATE organizations SET last_audit_date = $1, next_audit_due = $2, updated_at = $1
		 WHERE id = $3`,
		completedAt, params.NextAuditDue, params.OrgID,
	); err != nil {
		return model.Audit{}, nil, nil, fmt.Errorf("storage: advance audit schedule in complete audit tx: %w", err)
	}

	// 5. Changelog entry for the completion.
	cl := params.ChangeLog
	cl.ResourceID = params.AuditID.String()
	cl.AfterData = audit
	if err := InsertChangeLogTx(ctx, tx, cl); err != nil {
		return model.Audit{}, nil, nil, fmt.Errorf("storage: changelog in complete audit tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Audit{}, nil, nil, fmt.Errorf("storage: commit complete audit tx: %w", err)
	}
	return audit, capaIDs, followUp, nil
}

// classifyCompleteMiss distinguishes a missing audit from one that is already
// in a terminal state, after the completion UPDATE matched no rows.
func (db *DB) classifyCompleteMiss(ctx context.Context, tx pgx.Tx, auditID, orgID uuid.UUID) error {
	var status string
	err := tx.QueryRow(ctx,
		`SELECT status FROM audits WHERE id = $1 AND org_id = $2`,
		auditID, orgID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("storage: audit %s: %w", auditID, ErrNotFound)
		}
		return fmt.Errorf("storage: classify complete miss: %w", err)
	}
	return fmt.Errorf("storage: audit %s is %s: %w", auditID, status, ErrConflict)
}
