package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rooflinehq/roofline/internal/model"
)

// enqueueIdentitySyncTx appends an identity sync to the outbox inside an
// existing transaction and signals the relay via pg_notify. The notification
// is delivered on commit, so the relay never wakes for a rolled-back sync.
func enqueueIdentitySyncTx(ctx context.Context, tx pgx.Tx, sync model.IdentitySync) error {
	payload, err := json.Marshal(sync)
	if err != nil {
		return fmt.Errorf("storage: marshal identity sync: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO identity_outbox (org_id, payload) VALUES ($1, $2::jsonb)`,
		sync.OrgID, payload,
	); err != nil {
		return fmt.Errorf("storage: enqueue identity sync: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`SELECT pg_notify($1, $2)`,
		ChannelIdentitySync, sync.OrgID.String(),
	); err != nil {
		return fmt.Errorf("storage: notify identity sync: %w", err)
	}
	return nil
}

// CountPendingIdentitySyncs returns the number of outbox entries still
// awaiting delivery. Surfaced on the health endpoint.
func (db *DB) CountPendingIdentitySyncs(ctx context.Context, maxAttempts int) (int64, error) {
	var count int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM identity_outbox WHERE attempts < $1`,
		maxAttempts,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count pending identity syncs: %w", err)
	}
	return count, nil
}
