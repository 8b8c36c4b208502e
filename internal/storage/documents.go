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

// CreateDocument inserts a new quality document at version 1.
func (db *DB) CreateDocument(ctx context.Context, d model.Document) (model.Document, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = model.DocumentDraft
	}
	if d.Version == 0 {
		d.Version = 1
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO documents (id, org_id, title, element, status, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.OrgID, d.Title, string(d.Element), string(d.Status), d.Version,
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return model.Document{}, fmt.Errorf("storage: create document: %w", err)
	}
	return d, nil
}

// GetDocument retrieves a document by ID, scoped to an org. Soft-deleted
// documents are still retrievable by ID for history views.
func (db *DB) GetDocument(ctx context.Context, orgID, docID uuid.UUID) (model.Document, error) {
	var d model.Document
	err := db.pool.QueryRow(ctx,
		`SELECT id, org_id, title, element, status, version, deleted_at, created_at, updated_at
		 FROM documents WHERE id = $1 AND org_id = $2`,
		docID, orgID,
	).Scan(
		&d.ID, &d.OrgID, &d.Title, &d.Element, &d.Status, &d.Version,
		&d.DeletedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Document{}, fmt.Errorf("storage: document %s: %w", docID, ErrNotFound)
		}
		return model.Document{}, fmt.Errorf("storage: get document: %w", err)
	}
	return d, nil
}

// ListDocuments returns all live (not soft-deleted) documents for an
// organization, grouped by element.
func (db *DB) ListDocuments(ctx context.Context, orgID uuid.UUID) ([]model.Document, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, org_id, title, element, status, version, deleted_at, created_at, updated_at
		 FROM documents
		 WHERE org_id = $1 AND deleted_at IS NULL
		 ORDER BY element ASC, updated_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list documents: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(
			&d.ID, &d.OrgID, &d.Title, &d.Element, &d.Status, &d.Version,
			&d.DeletedAt, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SetDocumentStatus moves a document through its approval lifecycle and bumps
// the version on approval.
func (db *DB) SetDocumentStatus(ctx context.Context, orgID, docID uuid.UUID, status model.DocumentStatus) error {
	bump := 0
	if status == model.DocumentApproved {
		bump = 1
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE documents SET status = $1, version = version + $2, updated_at = now()
		 WHERE id = $3 AND org_id = $4 AND deleted_at IS NULL`,
		string(status), bump, docID, orgID,
	)
	if err != nil {
		return fmt.Errorf("storage: set document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: document %s: %w", docID, ErrNotFound)
	}
	return nil
}

// SoftDeleteDocument marks a document deleted. Deleted documents no longer
// count toward compliance scoring.
func (db *DB) SoftDeleteDocument(ctx context.Context, orgID, docID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE documents SET deleted_at = now(), updated_at = now()
		 WHERE id = $1 AND org_id = $2 AND deleted_at IS NULL`,
		docID, orgID,
	)
	if err != nil {
		return fmt.Errorf("storage: soft delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: document %s: %w", docID, ErrNotFound)
	}
	return nil
}
