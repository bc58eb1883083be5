package tui

import (
	"context"
	"time"

	"tradewire/internal/dispatch"
	"tradewire/internal/domain"
)

// TradeSource feeds the trades tab.
type TradeSource interface {
	RecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error)
}

// StatsSource feeds the queue tab.
type StatsSource interface {
	GetStats(ctx context.Context, window time.Duration) (*dispatch.Stats, error)
}

// ConditionSource feeds the conditions tab.
type ConditionSource interface {
	List(ctx context.Context) ([]*domain.AlertCondition, error)
}

// Services bundles everything the dashboard reads. Sources left nil render
// as empty tabs.
type Services struct {
	Trades     TradeSource
	Delivery   StatsSource
	Conditions ConditionSource
	Username   string
}
