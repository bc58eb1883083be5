package ingest

import (
	"context"
	"time"

	"tradewire/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createSignalsTable = `
CREATE TABLE IF NOT EXISTS signals (
    id               BIGSERIAL   PRIMARY KEY,
    tracking_id      TEXT        NOT NULL UNIQUE,
    symbol           TEXT        NOT NULL,
    timeframe        TEXT        NOT NULL,
    strategy         TEXT        NOT NULL,
    kind             TEXT        NOT NULL,
    direction        TEXT,
    price            NUMERIC     NOT NULL,
    take_profit      NUMERIC,
    stop_loss        NUMERIC,
    bar_time         TIMESTAMPTZ,
    source           TEXT        NOT NULL,
    idempotency_key  TEXT        NOT NULL,
    duplicate        BOOLEAN     NOT NULL DEFAULT FALSE,
    processing_error TEXT,
    received_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_signals_idem_received
    ON signals (idempotency_key, received_at DESC);

CREATE INDEX IF NOT EXISTS idx_signals_config
    ON signals (symbol, timeframe, strategy, received_at DESC);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewRepository(pool PgxPool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "signal-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createSignalsTable)
	return err
}

// Insert persists a signal row. Duplicate markers are rows too so the audit
// trail shows every replayed delivery.
func (r *Repository) Insert(ctx context.Context, signal *domain.Signal) (*domain.Signal, error) {
	_, span := r.tracer.Start(ctx, "signal-repo.insert")
	defer span.End()

	row := r.pool.QueryRow(ctx,
		`INSERT INTO signals (
		     tracking_id, symbol, timeframe, strategy, kind, direction,
		     price, take_profit, stop_loss, bar_time, source,
		     idempotency_key, duplicate, received_at
		 ) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id`,
		signal.TrackingID,
		signal.Config.Symbol, signal.Config.Timeframe, signal.Config.Strategy,
		string(signal.Kind), string(signal.Direction),
		signal.Price, signal.TakeProfit, signal.StopLoss, signal.BarTime, signal.Source,
		signal.IdempotencyKey, signal.Duplicate, signal.ReceivedAt,
	)
	if err := row.Scan(&signal.ID); err != nil {
		return nil, err
	}
	return signal, nil
}

// RecentExists reports whether a non-duplicate signal with the same
// idempotency key was accepted inside the window.
func (r *Repository) RecentExists(ctx context.Context, idempotencyKey string, window time.Duration) (bool, error) {
	_, span := r.tracer.Start(ctx, "signal-repo.recent-exists")
	defer span.End()

	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM signals
		     WHERE idempotency_key = $1 AND NOT duplicate AND received_at > $2
		 )`,
		idempotencyKey, time.Now().UTC().Add(-window),
	).Scan(&exists)
	return exists, err
}

// SetProcessingError records an exhausted-retry pipeline failure on the signal
// row for the audit trail.
func (r *Repository) SetProcessingError(ctx context.Context, trackingID, message string) error {
	_, span := r.tracer.Start(ctx, "signal-repo.set-processing-error")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`UPDATE signals SET processing_error = $2 WHERE tracking_id = $1`,
		trackingID, message,
	)
	return err
}

// GetByTrackingID loads one signal for the admin/audit surface.
func (r *Repository) GetByTrackingID(ctx context.Context, trackingID string) (*domain.Signal, error) {
	_, span := r.tracer.Start(ctx, "signal-repo.get-by-tracking-id")
	defer span.End()

	signal := &domain.Signal{}
	var direction *string
	err := r.pool.QueryRow(ctx,
		`SELECT id, tracking_id, symbol, timeframe, strategy, kind, direction,
		        price, take_profit, stop_loss, bar_time, source,
		        idempotency_key, duplicate, received_at
		 FROM signals WHERE tracking_id = $1`,
		trackingID,
	).Scan(
		&signal.ID, &signal.TrackingID,
		&signal.Config.Symbol, &signal.Config.Timeframe, &signal.Config.Strategy,
		&signal.Kind, &direction,
		&signal.Price, &signal.TakeProfit, &signal.StopLoss, &signal.BarTime, &signal.Source,
		&signal.IdempotencyKey, &signal.Duplicate, &signal.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	if direction != nil {
		signal.Direction = domain.TradeDirection(*direction)
	}
	return signal, nil
}
