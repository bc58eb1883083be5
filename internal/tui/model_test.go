package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tradewire/internal/dispatch"
	"tradewire/internal/domain"

	tea "github.com/charmbracelet/bubbletea"
)

type stubTrades struct {
	trades []*domain.Trade
	err    error
}

func (s *stubTrades) RecentTrades(context.Context, int) ([]*domain.Trade, error) {
	return s.trades, s.err
}

type stubStats struct{ stats *dispatch.Stats }

func (s *stubStats) GetStats(context.Context, time.Duration) (*dispatch.Stats, error) {
	return s.stats, nil
}

type stubConditions struct{ conditions []*domain.AlertCondition }

func (s *stubConditions) List(context.Context) ([]*domain.AlertCondition, error) {
	return s.conditions, nil
}

func pct(v float64) *float64 { return &v }

func fixtureServices() Services {
	return Services{
		Trades: &stubTrades{trades: []*domain.Trade{
			{
				Config:      domain.Configuration{Symbol: "BTCUSDT", Timeframe: "4h", Strategy: "trend-follower"},
				TradeNumber: 7, Direction: domain.DirectionLong,
				EntryPrice: 50000, Status: domain.TradeOpen, OpenedAt: time.Now(),
			},
			{
				Config:      domain.Configuration{Symbol: "ETHUSDT", Timeframe: "1h", Strategy: "scalper"},
				TradeNumber: 3, Direction: domain.DirectionShort,
				EntryPrice: 3000, Status: domain.TradeClosed, PnLPercent: pct(-1.5), OpenedAt: time.Now(),
			},
		}},
		Delivery:   &stubStats{stats: &dispatch.Stats{WindowSecs: 3600, Pending: 2, Sent: 40}},
		Conditions: &stubConditions{conditions: []*domain.AlertCondition{{Name: "btc above 70k", Active: true}}},
		Username:   "operator",
	}
}

func loadedModel(t *testing.T) *AppModel {
	t.Helper()
	m := NewAppModel(fixtureServices())
	msg := m.fetch()()
	data, ok := msg.(dataMsg)
	if !ok {
		t.Fatalf("fetch returned %T", msg)
	}
	next, _ := m.Update(data)
	return next.(*AppModel)
}

func TestFetchCollectsAllSources(t *testing.T) {
	t.Parallel()

	m := NewAppModel(fixtureServices())
	msg := m.fetch()()
	data, ok := msg.(dataMsg)
	if !ok {
		t.Fatalf("fetch returned %T", msg)
	}
	if len(data.trades) != 2 || data.stats == nil || len(data.conditions) != 1 {
		t.Errorf("data = %+v", data)
	}
}

func TestFetchSurfacesErrors(t *testing.T) {
	t.Parallel()

	svc := fixtureServices()
	svc.Trades = &stubTrades{err: errors.New("connection refused")}
	m := NewAppModel(svc)

	msg := m.fetch()()
	if _, ok := msg.(errMsg); !ok {
		t.Fatalf("expected errMsg, got %T", msg)
	}
	next, _ := m.Update(msg)
	if !strings.Contains(next.(*AppModel).View(), "connection refused") {
		t.Error("view should show the fetch error")
	}
}

func TestViewShowsTrades(t *testing.T) {
	t.Parallel()

	view := loadedModel(t).View()
	for _, want := range []string{"BTCUSDT:4h:trend-follower", "open", "operator", "Trades"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestQueueTabShowsOldestPendingAge(t *testing.T) {
	t.Parallel()

	svc := fixtureServices()
	enqueued := time.Now().Add(-90 * time.Second)
	svc.Delivery = &stubStats{stats: &dispatch.Stats{WindowSecs: 3600, Pending: 2, OldestPending: &enqueued}}

	m := NewAppModel(svc)
	next, _ := m.Update(m.fetch()())
	m = next.(*AppModel)
	m.tab = tabQueue

	if view := m.View(); !strings.Contains(view, "1m30s") {
		t.Errorf("queue tab should show the oldest pending age, got:\n%s", view)
	}
}

func TestQueueTabWithNothingPending(t *testing.T) {
	t.Parallel()

	// The fixture stats carry no oldest-pending timestamp; the row still
	// renders instead of panicking on the nil.
	m := loadedModel(t)
	m.tab = tabQueue
	if view := m.View(); !strings.Contains(view, "Oldest pending") {
		t.Errorf("queue tab should render the oldest pending row, got:\n%s", view)
	}
}

func TestTabSwitching(t *testing.T) {
	t.Parallel()

	m := loadedModel(t)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(*AppModel)
	if m.tab != tabQueue {
		t.Fatalf("tab = %d, want queue", m.tab)
	}
	if !strings.Contains(m.View(), "Pending") {
		t.Error("queue tab should show delivery stats")
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(*AppModel)
	if m.tab != tabConditions {
		t.Fatalf("tab = %d, want conditions", m.tab)
	}
	if !strings.Contains(m.View(), "btc above 70k") {
		t.Error("conditions tab should list conditions")
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	if next.(*AppModel).tab != tabQueue {
		t.Error("shift+tab should go back")
	}
}

func TestQuitKeys(t *testing.T) {
	t.Parallel()

	m := loadedModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Errorf("expected quit, got %v", msg)
	}
}
