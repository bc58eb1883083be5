package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tradewire/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createDeliveryTasksTable = `
CREATE TABLE IF NOT EXISTS delivery_tasks (
    id               BIGSERIAL   PRIMARY KEY,
    subscription_id  BIGINT      NOT NULL,
    chat_id          BIGINT      NOT NULL,
    body             TEXT        NOT NULL,
    parse_mode       TEXT        NOT NULL DEFAULT '',
    event_kind       TEXT        NOT NULL,
    priority         INT         NOT NULL DEFAULT 1,
    status           TEXT        NOT NULL DEFAULT 'pending',
    attempts         INT         NOT NULL DEFAULT 0,
    max_attempts     INT         NOT NULL DEFAULT 3,
    next_attempt_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    lease_expires_at TIMESTAMPTZ,
    last_error       TEXT        NOT NULL DEFAULT '',
    enqueued_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    sent_at          TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_delivery_claim
    ON delivery_tasks (priority, enqueued_at) WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_delivery_lease
    ON delivery_tasks (lease_expires_at) WHERE status = 'sending';
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Stats is the delivery-queue snapshot the admin surfaces expose.
type Stats struct {
	Window        time.Duration `json:"-"`
	WindowSecs    int           `json:"window_secs"`
	Pending       int           `json:"pending"`
	Sending       int           `json:"sending"`
	Sent          int           `json:"sent"`
	Failed        int           `json:"failed"`
	OldestPending *time.Time    `json:"oldest_pending,omitempty"`
}

// Repository owns the delivery_tasks table. Claiming uses
// FOR UPDATE SKIP LOCKED with a lease so concurrent dispatchers never pick
// the same task and a crashed dispatcher's tasks return to the queue when
// the lease lapses.
type Repository struct {
	pool        PgxPool
	tracer      trace.Tracer
	maxAttempts int
}

func NewRepository(pool PgxPool, tracer trace.Tracer, maxAttempts int) *Repository {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Repository{pool: pool, tracer: tracer, maxAttempts: maxAttempts}
}

func (r *Repository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "delivery-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createDeliveryTasksTable)
	return err
}

// Enqueue persists a batch of tasks in one round trip.
func (r *Repository) Enqueue(ctx context.Context, tasks []*domain.DeliveryTask) error {
	_, span := r.tracer.Start(ctx, "delivery-repo.enqueue")
	defer span.End()

	if len(tasks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range tasks {
		batch.Queue(
			`INSERT INTO delivery_tasks (
			     subscription_id, chat_id, body, parse_mode, event_kind,
			     priority, status, max_attempts, next_attempt_at, enqueued_at
			 ) VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8, $9)`,
			t.SubscriptionID, t.ChatID, t.Body, t.ParseMode, string(t.EventKind),
			t.Priority, r.maxAttempts, t.NextAttemptAt, t.EnqueuedAt,
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range tasks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("enqueue delivery task: %w", err)
		}
	}
	return nil
}

const taskSelect = `
	SELECT id, subscription_id, chat_id, body, parse_mode, event_kind,
	       priority, status, attempts, max_attempts, next_attempt_at,
	       lease_expires_at, last_error, enqueued_at, sent_at
	FROM delivery_tasks`

// Claim marks up to limit due tasks as sending, ordered by priority then
// arrival, and leases them to the caller.
func (r *Repository) Claim(ctx context.Context, limit int, lease time.Duration) ([]*domain.DeliveryTask, error) {
	_, span := r.tracer.Start(ctx, "delivery-repo.claim")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx,
		`WITH due AS (
		     SELECT id FROM delivery_tasks
		     WHERE status = 'pending' AND next_attempt_at <= NOW()
		     ORDER BY priority ASC, enqueued_at ASC, id ASC
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 UPDATE delivery_tasks t
		 SET status = 'sending',
		     lease_expires_at = NOW() + make_interval(secs => $2)
		 FROM due
		 WHERE t.id = due.id
		 RETURNING t.id, t.subscription_id, t.chat_id, t.body, t.parse_mode,
		           t.event_kind, t.priority, t.status, t.attempts, t.max_attempts,
		           t.next_attempt_at, t.lease_expires_at, t.last_error,
		           t.enqueued_at, t.sent_at`,
		limit, lease.Seconds(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	// The UPDATE ... FROM does not preserve the CTE order.
	sortTasks(tasks)
	return tasks, nil
}

// ReclaimExpired returns tasks whose dispatcher died mid-send to the queue.
func (r *Repository) ReclaimExpired(ctx context.Context) (int, error) {
	_, span := r.tracer.Start(ctx, "delivery-repo.reclaim-expired")
	defer span.End()

	tag, err := r.pool.Exec(ctx,
		`UPDATE delivery_tasks
		 SET status = 'pending', lease_expires_at = NULL
		 WHERE status = 'sending' AND lease_expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// MarkSent records terminal success.
func (r *Repository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	_, span := r.tracer.Start(ctx, "delivery-repo.mark-sent")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`UPDATE delivery_tasks
		 SET status = 'sent', attempts = attempts + 1, sent_at = $2,
		     lease_expires_at = NULL, last_error = ''
		 WHERE id = $1`,
		id, at)
	return err
}

// MarkFailed records terminal failure.
func (r *Repository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	_, span := r.tracer.Start(ctx, "delivery-repo.mark-failed")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`UPDATE delivery_tasks
		 SET status = 'failed', attempts = attempts + 1,
		     lease_expires_at = NULL, last_error = $2
		 WHERE id = $1`,
		id, lastError)
	return err
}

// Reschedule books a failed attempt and returns the task to the queue for a
// later retry.
func (r *Repository) Reschedule(ctx context.Context, id int64, next time.Time, lastError string) error {
	_, span := r.tracer.Start(ctx, "delivery-repo.reschedule")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`UPDATE delivery_tasks
		 SET status = 'pending', attempts = attempts + 1,
		     next_attempt_at = $2, lease_expires_at = NULL, last_error = $3
		 WHERE id = $1`,
		id, next, lastError)
	return err
}

// Defer pushes a task back without booking an attempt; used for rate-limit
// deferrals, which are the channel's problem rather than the task's.
func (r *Repository) Defer(ctx context.Context, id int64, next time.Time) error {
	_, span := r.tracer.Start(ctx, "delivery-repo.defer")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`UPDATE delivery_tasks
		 SET status = 'pending', next_attempt_at = $2, lease_expires_at = NULL
		 WHERE id = $1`,
		id, next)
	return err
}

// GetStats summarizes the queue: live backlog plus terminal outcomes within
// the window.
func (r *Repository) GetStats(ctx context.Context, window time.Duration) (*Stats, error) {
	_, span := r.tracer.Start(ctx, "delivery-repo.get-stats")
	defer span.End()

	stats := &Stats{Window: window, WindowSecs: int(window.Seconds())}
	err := r.pool.QueryRow(ctx,
		`SELECT
		     COUNT(*) FILTER (WHERE status = 'pending'),
		     COUNT(*) FILTER (WHERE status = 'sending'),
		     COUNT(*) FILTER (WHERE status = 'sent'   AND sent_at     >= NOW() - make_interval(secs => $1)),
		     COUNT(*) FILTER (WHERE status = 'failed' AND enqueued_at >= NOW() - make_interval(secs => $1)),
		     MIN(enqueued_at) FILTER (WHERE status = 'pending')
		 FROM delivery_tasks`,
		window.Seconds(),
	).Scan(&stats.Pending, &stats.Sending, &stats.Sent, &stats.Failed, &stats.OldestPending)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// PurgeOlderThan deletes terminal rows past the retention window.
func (r *Repository) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	_, span := r.tracer.Start(ctx, "delivery-repo.purge")
	defer span.End()

	tag, err := r.pool.Exec(ctx,
		`DELETE FROM delivery_tasks
		 WHERE status IN ('sent', 'failed')
		   AND enqueued_at < NOW() - make_interval(secs => $1)`,
		age.Seconds())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanTasks(rows pgx.Rows) ([]*domain.DeliveryTask, error) {
	var tasks []*domain.DeliveryTask
	for rows.Next() {
		t := &domain.DeliveryTask{}
		if err := rows.Scan(
			&t.ID, &t.SubscriptionID, &t.ChatID, &t.Body, &t.ParseMode,
			&t.EventKind, &t.Priority, &t.Status, &t.Attempts, &t.MaxAttempts,
			&t.NextAttemptAt, &t.LeaseExpiresAt, &t.LastError,
			&t.EnqueuedAt, &t.SentAt,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func sortTasks(tasks []*domain.DeliveryTask) {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.ID < b.ID
	})
}
