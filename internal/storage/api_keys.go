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

// CreateAPIKey inserts a new API key and a changelog entry atomically.
func (db *DB) CreateAPIKey(ctx context.Context, key model.APIKey, cl ChangeLogEntry) (model.APIKey, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("storage: begin create api key tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO api_keys (id, prefix, key_hash, org_id, label, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.Prefix, key.KeyHash, key.OrgID, key.Label, key.CreatedAt,
	)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("storage: create api key: %w", err)
	}

	cl.ResourceID = key.ID.String()
	cl.AfterData = key
	if err := InsertChangeLogTx(ctx, tx, cl); err != nil {
		return model.APIKey{}, fmt.Errorf("storage: changelog in create api key tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.APIKey{}, fmt.Errorf("storage: commit create api key tx: %w", err)
	}
	return key, nil
}

// GetAPIKeyByPrefix looks up a single active API key by prefix. Used by the
// auth middleware as an O(1) pre-filter before argon2id verification.
// Returns ErrNotFound if no matching active key exists.
func (db *DB) GetAPIKeyByPrefix(ctx context.Context, prefix string) (model.APIKey, error) {
	var k model.APIKey
	err := db.pool.QueryRow(ctx,
		`SELECT id, prefix, key_hash, org_id, label, created_at, last_used_at, revoked_at
		 FROM api_keys
		 WHERE prefix = $1 AND revoked_at IS NULL
		 LIMIT 1`,
		prefix,
	).Scan(
		&k.ID, &k.Prefix, &k.KeyHash, &k.OrgID, &k.Label,
		&k.CreatedAt, &k.LastUsedAt, &k.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIKey{}, ErrNotFound
		}
		return model.APIKey{}, fmt.Errorf("storage: get api key by prefix: %w", err)
	}
	return k, nil
}

// ListAPIKeys returns all keys for an org, newest first. Revoked keys are
// included for admin visibility.
func (db *DB) ListAPIKeys(ctx context.Context, orgID uuid.UUID) ([]model.APIKey, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, prefix, key_hash, org_id, label, created_at, last_used_at, revoked_at
		 FROM api_keys WHERE org_id = $1
		 ORDER BY created_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		var k model.APIKey
		if err := rows.Scan(
			&k.ID, &k.Prefix, &k.KeyHash, &k.OrgID, &k.Label,
			&k.CreatedAt, &k.LastUsedAt, &k.RevokedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey sets revoked_at on an API key and records a changelog entry
// atomically.
func (db *DB) RevokeAPIKey(ctx context.Context, orgID, keyID uuid.UUID, cl ChangeLogEntry) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin revoke api key tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND org_id = $2 AND revoked_at IS NULL`,
		keyID, orgID,
	)
	if err != nil {
		return fmt.Errorf("storage: revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: api key %s: %w", keyID, ErrNotFound)
	}

	cl.ResourceID = keyID.String()
	if err := InsertChangeLogTx(ctx, tx, cl); err != nil {
		return fmt.Errorf("storage: changelog in revoke api key tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit revoke api key tx: %w", err)
	}
	return nil
}

// TouchAPIKeyLastUsed updates the last_used_at timestamp for an API key.
// Called from the auth middleware on successful authentication; callers
// should not block on the result.
func (db *DB) TouchAPIKeyLastUsed(ctx context.Context, keyID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = now() WHERE id = $1`,
		keyID,
	)
	if err != nil {
		return fmt.Errorf("storage: touch api key last_used: %w", err)
	}
	return nil
}
