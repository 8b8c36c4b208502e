package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ChangeLogEntry is an append-only record of a state-changing operation:
// audit completions, score recalculations, document approvals. The target
// table is immutable.
type ChangeLogEntry struct {
	RequestID    string
	OrgID        uuid.UUID
	Actor        string
	Operation    string
	ResourceType string
	ResourceID   string
	BeforeData   any
	AfterData    any
	Metadata     map[string]any
}

// ChangeLogRecord is a changelog row as read back from the database.
type ChangeLogRecord struct {
	ID           int64           `json:"id"`
	RequestID    string          `json:"request_id"`
	OrgID        uuid.UUID       `json:"org_id"`
	Actor        string          `json:"actor"`
	Operation    string          `json:"operation"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	BeforeData   json.RawMessage `json:"before_data,omitempty"`
	AfterData    json.RawMessage `json:"after_data,omitempty"`
	Metadata     json.RawMessage `json:"metadata"`
	CreatedAt    time.Time       `json:"created_at"`
}

// InsertChangeLog appends a changelog entry using the pool.
func (db *DB) InsertChangeLog(ctx context.Context, e ChangeLogEntry) error {
	return insertChangeLog(ctx, db.pool, e)
}

// InsertChangeLogTx appends a changelog entry inside an existing transaction,
// so the record commits or rolls back with the mutation it describes.
func InsertChangeLogTx(ctx context.Context, tx pgx.Tx, e ChangeLogEntry) error {
	return insertChangeLog(ctx, tx, e)
}

// execer covers both pgxpool.Pool and pgx.Tx for shared write helpers.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertChangeLog(ctx context.Context, q execer, e ChangeLogEntry) error {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}

	var (
		beforeJSON []byte
		afterJSON  []byte
		err        error
	)
	if e.BeforeData != nil {
		beforeJSON, err = json.Marshal(e.BeforeData)
		if err != nil {
			return fmt.Errorf("storage: marshal changelog before_data: %w", err)
		}
	}
	if e.AfterData != nil {
		afterJSON, err = json.Marshal(e.AfterData)
		if err != nil {
			return fmt.Errorf("storage: marshal changelog after_data: %w", err)
		}
	}
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("storage: marshal changelog metadata: %w", err)
	}

	_, err = q.Exec(ctx,
		`INSERT INTO change_log (
		     request_id, org_id, actor, operation, resource_type, resource_id,
		     before_data, after_data, metadata
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9::jsonb)`,
		e.RequestID, e.OrgID, e.Actor, e.Operation, e.ResourceType, e.ResourceID,
		beforeJSON, afterJSON, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("storage: insert changelog: %w", err)
	}
	return nil
}

// ListChangeLog returns the most recent changelog rows for an org, newest
// first.
func (db *DB) ListChangeLog(ctx context.Context, orgID uuid.UUID, limit int) ([]ChangeLogRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, request_id, org_id, actor, operation, resource_type, resource_id,
		 before_data, after_data, metadata, created_at
		 FROM change_log
		 WHERE org_id = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		orgID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list changelog: %w", err)
	}
	defer rows.Close()

	var out []ChangeLogRecord
	for rows.Next() {
		var r ChangeLogRecord
		if err := rows.Scan(
			&r.ID, &r.RequestID, &r.OrgID, &r.Actor, &r.Operation, &r.ResourceType, &r.ResourceID,
			&r.BeforeData, &r.AfterData, &r.Metadata, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan changelog: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
