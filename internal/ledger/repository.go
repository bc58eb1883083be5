package ledger

import (
	"context"
	"fmt"
	"time"

	"tradewire/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createTradesTable = `
CREATE TABLE IF NOT EXISTS trades (
    id            BIGSERIAL   PRIMARY KEY,
    symbol        TEXT        NOT NULL,
    timeframe     TEXT        NOT NULL,
    strategy      TEXT        NOT NULL,
    trade_number  INT         NOT NULL,
    direction     TEXT        NOT NULL,
    entry_price   NUMERIC     NOT NULL,
    exit_price    NUMERIC,
    status        TEXT        NOT NULL DEFAULT 'open',
    pnl_amount    NUMERIC,
    pnl_percent   NUMERIC,
    opened_by_key TEXT        NOT NULL,
    closed_by_key TEXT,
    opened_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    closed_at     TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_config_number
    ON trades (symbol, timeframe, strategy, trade_number);

CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_opened_by
    ON trades (opened_by_key);

CREATE INDEX IF NOT EXISTS idx_trades_open
    ON trades (symbol, timeframe, strategy) WHERE status = 'open';
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository owns the trades table. All mutations run inside WithConfigLock
// so that two near-simultaneous signals for the same configuration cannot
// interleave.
type Repository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewRepository(pool PgxPool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "trade-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createTradesTable)
	return err
}

// WithConfigLock runs fn inside a transaction holding the configuration's
// advisory lock. The lock is released on commit or rollback.
func (r *Repository) WithConfigLock(ctx context.Context, config domain.Configuration, fn func(ctx context.Context, tx TradeTx) error) error {
	ctx, span := r.tracer.Start(ctx, "trade-repo.with-config-lock")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, config.Key()); err != nil {
		return fmt.Errorf("acquire config lock: %w", err)
	}

	if err := fn(ctx, &txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetSnapshot returns the configuration's trades, newest first.
func (r *Repository) GetSnapshot(ctx context.Context, config domain.Configuration, limit int) ([]*domain.Trade, error) {
	_, span := r.tracer.Start(ctx, "trade-repo.get-snapshot")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		tradeSelect+`
		 WHERE symbol = $1 AND timeframe = $2 AND strategy = $3
		 ORDER BY trade_number DESC
		 LIMIT $4`,
		config.Symbol, config.Timeframe, config.Strategy, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// RecentTrades returns the latest trades across all configurations, open
// trades first. This feeds the dashboard, not the state machine.
func (r *Repository) RecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	_, span := r.tracer.Start(ctx, "trade-repo.recent-trades")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		tradeSelect+`
		 ORDER BY status = 'open' DESC, opened_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// TradeTx is the per-transaction view the ledger service drives.
type TradeTx interface {
	OpenTrades(ctx context.Context, config domain.Configuration) ([]*domain.Trade, error)
	NextTradeNumber(ctx context.Context, config domain.Configuration) (int, error)
	Insert(ctx context.Context, trade *domain.Trade, openedByKey string) (*domain.Trade, error)
	Close(ctx context.Context, tradeID int64, status domain.TradeStatus, exitPrice, pnlAmount, pnlPercent *float64, closedByKey string, closedAt time.Time) (bool, error)
	AlreadyOpenedBy(ctx context.Context, idempotencyKey string) (bool, error)
}

type txStore struct {
	tx pgx.Tx
}

const tradeSelect = `
		SELECT id, symbol, timeframe, strategy, trade_number, direction,
		       entry_price, exit_price, status, pnl_amount, pnl_percent,
		       opened_at, closed_at
		FROM trades`

func (s *txStore) OpenTrades(ctx context.Context, config domain.Configuration) ([]*domain.Trade, error) {
	rows, err := s.tx.Query(ctx,
		tradeSelect+`
		 WHERE symbol = $1 AND timeframe = $2 AND strategy = $3 AND status = 'open'
		 ORDER BY trade_number ASC`,
		config.Symbol, config.Timeframe, config.Strategy,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *txStore) NextTradeNumber(ctx context.Context, config domain.Configuration) (int, error) {
	var next int
	err := s.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(trade_number), 0) + 1 FROM trades
		 WHERE symbol = $1 AND timeframe = $2 AND strategy = $3`,
		config.Symbol, config.Timeframe, config.Strategy,
	).Scan(&next)
	return next, err
}

func (s *txStore) Insert(ctx context.Context, trade *domain.Trade, openedByKey string) (*domain.Trade, error) {
	err := s.tx.QueryRow(ctx,
		`INSERT INTO trades (
		     symbol, timeframe, strategy, trade_number, direction,
		     entry_price, status, opened_by_key, opened_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, 'open', $7, $8)
		 RETURNING id`,
		trade.Config.Symbol, trade.Config.Timeframe, trade.Config.Strategy,
		trade.TradeNumber, string(trade.Direction),
		trade.EntryPrice, openedByKey, trade.OpenedAt,
	).Scan(&trade.ID)
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// Close soft-closes an open trade. The status guard makes the update atomic:
// a trade already closed by a concurrent path is left alone and reported as
// not closed.
func (s *txStore) Close(ctx context.Context, tradeID int64, status domain.TradeStatus, exitPrice, pnlAmount, pnlPercent *float64, closedByKey string, closedAt time.Time) (bool, error) {
	tag, err := s.tx.Exec(ctx,
		`UPDATE trades
		 SET status = $2, exit_price = $3, pnl_amount = $4, pnl_percent = $5,
		     closed_by_key = NULLIF($6, ''), closed_at = $7
		 WHERE id = $1 AND status = 'open'`,
		tradeID, string(status), exitPrice, pnlAmount, pnlPercent, closedByKey, closedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *txStore) AlreadyOpenedBy(ctx context.Context, idempotencyKey string) (bool, error) {
	var exists bool
	err := s.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM trades WHERE opened_by_key = $1)`,
		idempotencyKey,
	).Scan(&exists)
	return exists, err
}

func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade
	for rows.Next() {
		t := &domain.Trade{}
		if err := rows.Scan(
			&t.ID, &t.Config.Symbol, &t.Config.Timeframe, &t.Config.Strategy,
			&t.TradeNumber, &t.Direction,
			&t.EntryPrice, &t.ExitPrice, &t.Status, &t.PnLAmount, &t.PnLPercent,
			&t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
