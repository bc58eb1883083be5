package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradewire/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createSubscriptionsTable = `
CREATE TABLE IF NOT EXISTS subscriptions (
    id                     BIGSERIAL   PRIMARY KEY,
    chat_id                BIGINT      NOT NULL,
    symbol                 TEXT,
    timeframe              TEXT,
    strategy               TEXT,
    plan                   TEXT        NOT NULL DEFAULT 'standard',
    active                 BOOLEAN     NOT NULL DEFAULT TRUE,
    paused                 BOOLEAN     NOT NULL DEFAULT FALSE,
    enabled_kinds          TEXT        NOT NULL DEFAULT '',
    quiet_start            TEXT        NOT NULL DEFAULT '',
    quiet_end              TEXT        NOT NULL DEFAULT '',
    cooldown_override_secs INT,
    last_notified_at       TIMESTAMPTZ,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_chat_config
    ON subscriptions (chat_id, COALESCE(symbol, ''), COALESCE(timeframe, ''), COALESCE(strategy, ''));

CREATE INDEX IF NOT EXISTS idx_subscriptions_active
    ON subscriptions (symbol, timeframe, strategy) WHERE active;
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository owns the subscriptions table. A NULL configuration triple means
// the recipient wants every configuration.
type Repository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewRepository(pool PgxPool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "subscription-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createSubscriptionsTable)
	return err
}

const subscriptionSelect = `
	SELECT id, chat_id, symbol, timeframe, strategy, plan, active, paused,
	       enabled_kinds, quiet_start, quiet_end, cooldown_override_secs,
	       last_notified_at, created_at
	FROM subscriptions`

// Subscribe creates or revives a subscription for the chat. A nil config
// subscribes to everything.
func (r *Repository) Subscribe(ctx context.Context, chatID int64, config *domain.Configuration) (*domain.Subscription, error) {
	_, span := r.tracer.Start(ctx, "subscription-repo.subscribe")
	defer span.End()

	var symbol, timeframe, strategy *string
	if config != nil {
		symbol, timeframe, strategy = &config.Symbol, &config.Timeframe, &config.Strategy
	}
	sub := &domain.Subscription{ChatID: chatID, Config: config}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO subscriptions (chat_id, symbol, timeframe, strategy)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (chat_id, COALESCE(symbol, ''), COALESCE(timeframe, ''), COALESCE(strategy, ''))
		 DO UPDATE SET active = TRUE, paused = FALSE
		 RETURNING id, plan, created_at`,
		chatID, symbol, timeframe, strategy,
	).Scan(&sub.ID, &sub.Plan, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	sub.Active = true
	return sub, nil
}

// Unsubscribe deactivates the chat's subscriptions; with a config only the
// matching one.
func (r *Repository) Unsubscribe(ctx context.Context, chatID int64, config *domain.Configuration) (int, error) {
	_, span := r.tracer.Start(ctx, "subscription-repo.unsubscribe")
	defer span.End()

	var tag pgconn.CommandTag
	var err error
	if config == nil {
		tag, err = r.pool.Exec(ctx,
			`UPDATE subscriptions SET active = FALSE WHERE chat_id = $1 AND active`, chatID)
	} else {
		tag, err = r.pool.Exec(ctx,
			`UPDATE subscriptions SET active = FALSE
			 WHERE chat_id = $1 AND symbol = $2 AND timeframe = $3 AND strategy = $4 AND active`,
			chatID, config.Symbol, config.Timeframe, config.Strategy)
	}
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ActiveFor returns the active subscriptions that cover the configuration:
// exact matches plus the all-configurations rows.
func (r *Repository) ActiveFor(ctx context.Context, config domain.Configuration) ([]*domain.Subscription, error) {
	_, span := r.tracer.Start(ctx, "subscription-repo.active-for")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		subscriptionSelect+`
		 WHERE active
		   AND (symbol IS NULL OR (UPPER(symbol) = UPPER($1) AND timeframe = $2 AND strategy = $3))
		 ORDER BY id ASC`,
		config.Symbol, config.Timeframe, config.Strategy,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ByChat returns the chat's subscriptions, active first.
func (r *Repository) ByChat(ctx context.Context, chatID int64) ([]*domain.Subscription, error) {
	_, span := r.tracer.Start(ctx, "subscription-repo.by-chat")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		subscriptionSelect+` WHERE chat_id = $1 ORDER BY active DESC, id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// SetPaused pauses or resumes every subscription the chat holds.
func (r *Repository) SetPaused(ctx context.Context, chatID int64, paused bool) (int, error) {
	_, span := r.tracer.Start(ctx, "subscription-repo.set-paused")
	defer span.End()

	tag, err := r.pool.Exec(ctx,
		`UPDATE subscriptions SET paused = $2 WHERE chat_id = $1 AND active`, chatID, paused)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// SetQuietHours sets the chat's quiet window; empty strings clear it.
func (r *Repository) SetQuietHours(ctx context.Context, chatID int64, start, end string) error {
	_, span := r.tracer.Start(ctx, "subscription-repo.set-quiet-hours")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`UPDATE subscriptions SET quiet_start = $2, quiet_end = $3 WHERE chat_id = $1`,
		chatID, start, end)
	return err
}

// Deactivate marks one subscription dead, used when the channel rejects the
// recipient permanently (blocked bot, deleted chat).
func (r *Repository) Deactivate(ctx context.Context, id int64) error {
	_, span := r.tracer.Start(ctx, "subscription-repo.deactivate")
	defer span.End()

	tag, err := r.pool.Exec(ctx,
		`UPDATE subscriptions SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %d not found", id)
	}
	return nil
}

// TouchNotified stamps the per-recipient cooldown clock.
func (r *Repository) TouchNotified(ctx context.Context, id int64, at time.Time) error {
	_, span := r.tracer.Start(ctx, "subscription-repo.touch-notified")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`UPDATE subscriptions SET last_notified_at = $2 WHERE id = $1`, id, at)
	return err
}

func scanSubscriptions(rows pgx.Rows) ([]*domain.Subscription, error) {
	var subs []*domain.Subscription
	for rows.Next() {
		s := &domain.Subscription{}
		var symbol, timeframe, strategy *string
		var kinds string
		var cooldownSecs *int
		if err := rows.Scan(
			&s.ID, &s.ChatID, &symbol, &timeframe, &strategy, &s.Plan,
			&s.Active, &s.Paused, &kinds, &s.QuietStart, &s.QuietEnd,
			&cooldownSecs, &s.LastNotifiedAt, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		if symbol != nil {
			s.Config = &domain.Configuration{Symbol: *symbol}
			if timeframe != nil {
				s.Config.Timeframe = *timeframe
			}
			if strategy != nil {
				s.Config.Strategy = *strategy
			}
		}
		for _, k := range strings.Split(kinds, ",") {
			if k = strings.TrimSpace(k); k != "" {
				s.EnabledKinds = append(s.EnabledKinds, domain.EventKind(k))
			}
		}
		if cooldownSecs != nil {
			d := time.Duration(*cooldownSecs) * time.Second
			s.CooldownOverride = &d
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}
