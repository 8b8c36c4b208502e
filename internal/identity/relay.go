package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/metric"

	"github.com/rooflinehq/roofline/internal/model"
	"github.com/rooflinehq/roofline/internal/storage"
	"github.com/rooflinehq/roofline/internal/telemetry"
)

// MaxAttempts is the delivery attempt ceiling before an outbox entry is
// treated as dead-lettered. Shared with the health endpoint's pending count.
const MaxAttempts = 10

// outboxEntry is a single row from the identity_outbox table.
type outboxEntry struct {
	ID       int64
	OrgID    uuid.UUID
	Payload  []byte
	Attempts int
}

// Relay drains the identity_outbox table and delivers queued syncs to the
// identity service. It polls on an interval and additionally wakes on the
// pg_notify signal sent when a sync is enqueued, so deliveries normally
// happen within milliseconds of the score commit.
type Relay struct {
	db           *storage.DB
	client       Client
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	started     atomic.Bool
	cancelLoop  context.CancelFunc
	done        chan struct{}
	once        sync.Once
	lastCleanup time.Time
	drainCh     chan context.Context // carries the drain context to pollLoop for the final poll
	wakeCh      chan struct{}

	delivered metric.Int64Counter
}

// NewRelay creates a new identity sync relay.
func NewRelay(db *storage.DB, client Client, logger *slog.Logger, pollInterval time.Duration, batchSize int) *Relay {
	return &Relay{
		db:           db,
		client:       client,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
		wakeCh:       make(chan struct{}, 1),
	}
}

// Start begins the background poll and listen loops. It is safe to call only
// once; subsequent calls are no-ops and log a warning.
func (r *Relay) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		r.logger.Warn("identity relay: Start called more than once, ignoring")
		return
	}
	r.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancelLoop = cancel
	go r.pollLoop(loopCtx)
	go r.listenLoop(loopCtx)
}

// Drain signals the loops to stop, processes remaining entries, and blocks
// until done or the context expires. The ctx parameter is passed to the final
// poll so it respects the caller's deadline.
func (r *Relay) Drain(ctx context.Context) {
	// Send the drain context to pollLoop via channel (race-free).
	// Must be sent before cancelLoop so pollLoop can receive it on ctx.Done().
	select {
	case r.drainCh <- ctx:
	default:
	}
	if r.cancelLoop != nil {
		r.cancelLoop()
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		r.logger.Warn("identity relay: drain timed out")
	}
}

func (r *Relay) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final drain: prefer the drain context (sent by Drain via channel)
			// so the final poll respects the caller's deadline.
			var drainCtx context.Context
			select {
			case drainCtx = <-r.drainCh:
			default:
			}
			if drainCtx != nil {
				r.processBatch(drainCtx)
			} else {
				// Fallback for direct cancellation without Drain (e.g., tests).
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				r.processBatch(fallbackCtx)
				cancel()
			}
			r.once.Do(func() { close(r.done) })
			return
		case <-r.wakeCh:
			batchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			r.processBatch(batchCtx)
			cancel()
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			r.processBatch(batchCtx)
			cancel()
		}
	}
}

// listenLoop wakes the poll loop as soon as a sync is enqueued rather than
// waiting out the poll interval. LISTEN needs the dedicated notify
// connection; without one the relay degrades to pure polling.
func (r *Relay) listenLoop(ctx context.Context) {
	if err := r.db.Listen(ctx, storage.ChannelIdentitySync); err != nil {
		r.logger.Info("identity relay: LISTEN unavailable, relying on polls", "error", err)
		return
	}

	failures := 0
	for {
		_, _, err := r.db.WaitForNotification(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			if failures >= 3 {
				r.logger.Warn("identity relay: notify connection unusable, relying on polls", "error", err)
				return
			}
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		failures = 0
		select {
		case r.wakeCh <- struct{}{}:
		default:
		}
	}
}

func (r *Relay) processBatch(ctx context.Context) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		r.logger.Error("identity relay: begin tx", "error", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Select and lock pending entries.
	rows, err := tx.Query(ctx,
		`SELECT id, org_id, payload, attempts
		 FROM identity_outbox
		 WHERE (locked_until IS NULL OR locked_until < now())
		   AND attempts < $1
		 ORDER BY created_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		MaxAttempts, r.batchSize,
	)
	if err != nil {
		r.logger.Error("identity relay: select pending", "error", err)
		return
	}

	entries, err := scanOutboxEntries(rows)
	if err != nil {
		r.logger.Error("identity relay: scan entries", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	// Lock the entries for 60 seconds (must exceed the 30s batchCtx timeout
	// to prevent a second relay from picking up entries whose lock expired
	// while the first is still processing).
	entryIDs := make([]int64, len(entries))
	for i, e := range entries {
		entryIDs[i] = e.ID
	}
	if _, err := tx.Exec(ctx,
		`UPDATE identity_outbox SET locked_until = now() + interval '60 seconds' WHERE id = ANY($1)`,
		entryIDs,
	); err != nil {
		r.logger.Error("identity relay: lock entries", "error", err)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("identity relay: commit lock", "error", err)
		return
	}

	// Coalesce per organization: each payload carries complete current state,
	// so only the newest row per org is delivered and older rows are
	// acknowledged as superseded. Entries arrive ordered by created_at ASC.
	latest := make(map[uuid.UUID]outboxEntry)
	grouped := make(map[uuid.UUID][]int64)
	for _, e := range entries {
		latest[e.OrgID] = e
		grouped[e.OrgID] = append(grouped[e.OrgID], e.ID)
	}

	var succeeded, failed []int64
	var lastErr string
	for orgID, entry := range latest {
		var sync model.IdentitySync
		if err := json.Unmarshal(entry.Payload, &sync); err != nil {
			// A malformed payload never delivers; let it back off toward the
			// dead-letter cleanup instead of blocking the batch.
			r.logger.Error("identity relay: unmarshal payload", "error", err, "outbox_id", entry.ID)
			failed = append(failed, grouped[orgID]...)
			lastErr = err.Error()
			continue
		}
		if err := r.client.Sync(ctx, sync); err != nil {
			r.logger.Warn("identity relay: delivery failed",
				"error", err, "org_id", orgID, "attempts", entry.Attempts+1)
			failed = append(failed, grouped[orgID]...)
			lastErr = err.Error()
			if entry.Attempts+1 >= MaxAttempts {
				r.logger.Warn("identity relay: dead-letter entry",
					"outbox_id", entry.ID, "org_id", orgID, "attempts", entry.Attempts+1)
			}
			continue
		}
		r.delivered.Add(ctx, 1)
		succeeded = append(succeeded, grouped[orgID]...)
	}

	if len(succeeded) > 0 {
		r.ackEntries(ctx, succeeded)
	}
	if len(failed) > 0 {
		r.failEntries(ctx, failed, lastErr)
	}

	// Periodically clean up dead-letter entries (attempts >= max, older than 7 days).
	if time.Since(r.lastCleanup) > time.Hour {
		r.cleanupDeadLetters(ctx)
		r.lastCleanup = time.Now()
	}
}

func (r *Relay) ackEntries(ctx context.Context, ids []int64) {
	if _, err := r.db.Pool().Exec(ctx,
		`DELETE FROM identity_outbox WHERE id = ANY($1)`, ids,
	); err != nil {
		r.logger.Error("identity relay: delete completed entries", "error", err)
	}
}

func (r *Relay) failEntries(ctx context.Context, ids []int64, errMsg string) {
	// Exponential backoff: locked_until = now() + 2^attempts seconds (capped
	// at 5 minutes). This prevents tight retry loops during identity service
	// outages.
	if _, err := r.db.Pool().Exec(ctx,
		`UPDATE identity_outbox
		 SET attempts = attempts + 1,
		     last_error = $1,
		     locked_until = now() + LEAST(POWER(2, attempts + 1), 300) * interval '1 second'
		 WHERE id = ANY($2)`,
		errMsg, ids,
	); err != nil {
		r.logger.Error("identity relay: update failed entries", "error", err)
	}
}

func (r *Relay) cleanupDeadLetters(ctx context.Context) {
	tag, err := r.db.Pool().Exec(ctx,
		`DELETE FROM identity_outbox
		 WHERE attempts >= $1
		   AND created_at < now() - interval '7 days'`,
		MaxAttempts,
	)
	if err != nil {
		r.logger.Error("identity relay: cleanup dead-letters failed", "error", err)
		return
	}
	if tag.RowsAffected() > 0 {
		r.logger.Info("identity relay: cleaned dead-letter entries", "deleted", tag.RowsAffected())
	}
}

// registerMetrics registers observable OTEL instruments for relay health.
func (r *Relay) registerMetrics() {
	meter := telemetry.Meter("roofline/identity")

	r.delivered, _ = meter.Int64Counter("roofline.identity.syncs.delivered",
		metric.WithDescription("Identity syncs delivered to the identity service"),
	)

	_, _ = meter.Int64ObservableGauge("roofline.identity.outbox.depth",
		metric.WithDescription("Number of pending entries in the identity outbox"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			count, err := r.db.CountPendingIdentitySyncs(ctx, MaxAttempts)
			if err != nil {
				return nil // Non-fatal: just skip this observation.
			}
			o.Observe(count)
			return nil
		}),
	)
}

func scanOutboxEntries(rows pgx.Rows) ([]outboxEntry, error) {
	defer rows.Close()
	var entries []outboxEntry
	for rows.Next() {
		var e outboxEntry
		if err := rows.Scan(&e.ID, &e.OrgID, &e.Payload, &e.Attempts); err != nil {
			return nil, fmt.Errorf("identity relay: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
