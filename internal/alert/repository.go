package alert

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradewire/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createConditionsTable = `
CREATE TABLE IF NOT EXISTS alert_conditions (
    id                  BIGSERIAL   PRIMARY KEY,
    name                TEXT        NOT NULL,
    symbol              TEXT        NOT NULL,
    timeframe           TEXT        NOT NULL,
    strategy            TEXT        NOT NULL,
    type                TEXT        NOT NULL,
    operator            TEXT        NOT NULL DEFAULT '',
    threshold           NUMERIC     NOT NULL DEFAULT 0,
    threshold_high      NUMERIC,
    indicator           TEXT        NOT NULL DEFAULT '',
    keywords            TEXT        NOT NULL DEFAULT '',
    sentiment           TEXT        NOT NULL DEFAULT '',
    expression          TEXT        NOT NULL DEFAULT '',
    check_interval_secs INT         NOT NULL DEFAULT 60,
    cooldown_secs       INT         NOT NULL DEFAULT 300,
    max_triggers_day    INT         NOT NULL DEFAULT 0,
    active_from         TEXT        NOT NULL DEFAULT '',
    active_to           TEXT        NOT NULL DEFAULT '',
    active_days         TEXT        NOT NULL DEFAULT '',
    auto_disable_after  INT         NOT NULL DEFAULT 0,
    active              BOOLEAN     NOT NULL DEFAULT TRUE,
    paused              BOOLEAN     NOT NULL DEFAULT FALSE,
    last_triggered_at   TIMESTAMPTZ,
    triggers_today      INT         NOT NULL DEFAULT 0,
    trigger_day         TEXT        NOT NULL DEFAULT '',
    total_triggers      INT         NOT NULL DEFAULT 0,
    next_check_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_conditions_due
    ON alert_conditions (next_check_at) WHERE active AND NOT paused;

CREATE INDEX IF NOT EXISTS idx_conditions_config
    ON alert_conditions (symbol, timeframe, strategy);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository owns the alert_conditions table, including the trigger
// bookkeeping columns the evaluator's gating policy reads.
type Repository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewRepository(pool PgxPool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "condition-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createConditionsTable)
	return err
}

const conditionSelect = `
	SELECT id, name, symbol, timeframe, strategy, type, operator, threshold,
	       threshold_high, indicator, keywords, sentiment, expression,
	       check_interval_secs, cooldown_secs, max_triggers_day,
	       active_from, active_to, active_days, auto_disable_after,
	       active, paused, last_triggered_at, triggers_today, trigger_day,
	       total_triggers, next_check_at
	FROM alert_conditions`

// Insert persists a new condition and returns it with its assigned id.
func (r *Repository) Insert(ctx context.Context, c *domain.AlertCondition) (*domain.AlertCondition, error) {
	_, span := r.tracer.Start(ctx, "condition-repo.insert")
	defer span.End()

	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Minute
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO alert_conditions (
		     name, symbol, timeframe, strategy, type, operator, threshold,
		     threshold_high, indicator, keywords, sentiment, expression,
		     check_interval_secs, cooldown_secs, max_triggers_day,
		     active_from, active_to, active_days, auto_disable_after, active
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,TRUE)
		 RETURNING id, next_check_at`,
		c.Name, c.Config.Symbol, c.Config.Timeframe, c.Config.Strategy,
		string(c.Type), string(c.Operator), c.Threshold, c.ThresholdHigh,
		c.Indicator, strings.Join(c.Keywords, ","), c.Sentiment, c.Expression,
		int(c.CheckInterval.Seconds()), int(c.Cooldown.Seconds()), c.MaxTriggersDay,
		c.ActiveFrom, c.ActiveTo, joinDays(c.ActiveDays), c.AutoDisableAfter,
	).Scan(&c.ID, &c.NextCheckAt)
	if err != nil {
		return nil, err
	}
	c.Active = true
	return c, nil
}

// List returns every condition, newest first, for the admin surface.
func (r *Repository) List(ctx context.Context) ([]*domain.AlertCondition, error) {
	_, span := r.tracer.Start(ctx, "condition-repo.list")
	defer span.End()

	rows, err := r.pool.Query(ctx, conditionSelect+` ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConditions(rows)
}

// BoundTo returns the active conditions bound to one configuration. Used by
// the signal-bound evaluation path.
func (r *Repository) BoundTo(ctx context.Context, config domain.Configuration) ([]*domain.AlertCondition, error) {
	_, span := r.tracer.Start(ctx, "condition-repo.bound-to")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		conditionSelect+`
		 WHERE symbol = $1 AND timeframe = $2 AND strategy = $3 AND active
		 ORDER BY id ASC`,
		config.Symbol, config.Timeframe, config.Strategy,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConditions(rows)
}

// Due returns conditions whose next check time has arrived. The paused flag
// is deliberately not filtered here: the evaluator gates paused conditions so
// the skip is logged with its reason.
func (r *Repository) Due(ctx context.Context, now time.Time, limit int) ([]*domain.AlertCondition, error) {
	_, span := r.tracer.Start(ctx, "condition-repo.due")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		conditionSelect+`
		 WHERE active AND next_check_at <= $1
		 ORDER BY next_check_at ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConditions(rows)
}

// MarkTriggered records a trigger: cooldown timestamp, the daily counter
// (reset when the day rolled over), the lifetime counter, and auto-disable
// once the lifetime cap is reached. The WHERE clause re-checks the cooldown
// against the stored row, so when the signal-bound path and the scheduler
// sweep race on the same condition only one of them books the trigger; the
// loser gets false back and must not emit an event.
func (r *Repository) MarkTriggered(ctx context.Context, id int64, at time.Time) (bool, error) {
	_, span := r.tracer.Start(ctx, "condition-repo.mark-triggered")
	defer span.End()

	day := at.UTC().Format("2006-01-02")
	tag, err := r.pool.Exec(ctx,
		`UPDATE alert_conditions
		 SET last_triggered_at = $2,
		     triggers_today = CASE WHEN trigger_day = $3 THEN triggers_today + 1 ELSE 1 END,
		     trigger_day = $3,
		     total_triggers = total_triggers + 1,
		     active = CASE
		         WHEN auto_disable_after > 0 AND total_triggers + 1 >= auto_disable_after THEN FALSE
		         ELSE active
		     END
		 WHERE id = $1
		   AND (last_triggered_at IS NULL
		        OR last_triggered_at <= $2::timestamptz - make_interval(secs => cooldown_secs))`,
		id, at, day,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Reschedule advances the condition's next check time.
func (r *Repository) Reschedule(ctx context.Context, id int64, next time.Time) error {
	_, span := r.tracer.Start(ctx, "condition-repo.reschedule")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`UPDATE alert_conditions SET next_check_at = $2 WHERE id = $1`, id, next)
	return err
}

// SetPaused flips the pause flag without losing trigger bookkeeping. Only
// active conditions can be paused or resumed; a disabled one has nothing to
// pause.
func (r *Repository) SetPaused(ctx context.Context, id int64, paused bool) error {
	_, span := r.tracer.Start(ctx, "condition-repo.set-paused")
	defer span.End()

	tag, err := r.pool.Exec(ctx,
		`UPDATE alert_conditions SET paused = $2 WHERE id = $1 AND active`, id, paused)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("condition %d: %w", id, domain.ErrConditionDisabled)
	}
	return nil
}

func scanConditions(rows pgx.Rows) ([]*domain.AlertCondition, error) {
	var conditions []*domain.AlertCondition
	for rows.Next() {
		c := &domain.AlertCondition{}
		var keywords, days string
		var checkSecs, cooldownSecs int
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Config.Symbol, &c.Config.Timeframe, &c.Config.Strategy,
			&c.Type, &c.Operator, &c.Threshold, &c.ThresholdHigh,
			&c.Indicator, &keywords, &c.Sentiment, &c.Expression,
			&checkSecs, &cooldownSecs, &c.MaxTriggersDay,
			&c.ActiveFrom, &c.ActiveTo, &days, &c.AutoDisableAfter,
			&c.Active, &c.Paused, &c.LastTriggeredAt, &c.TriggersToday, &c.TriggerDay,
			&c.TotalTriggers, &c.NextCheckAt,
		); err != nil {
			return nil, err
		}
		c.CheckInterval = time.Duration(checkSecs) * time.Second
		c.Cooldown = time.Duration(cooldownSecs) * time.Second
		c.Keywords = splitCSV(keywords)
		c.ActiveDays = parseDays(days)
		conditions = append(conditions, c)
	}
	return conditions, rows.Err()
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinDays(days []time.Weekday) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func parseDays(s string) []time.Weekday {
	var days []time.Weekday
	for _, p := range splitCSV(s) {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 6 {
			continue
		}
		days = append(days, time.Weekday(n))
	}
	return days
}
