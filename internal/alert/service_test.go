package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradewire/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type mockConditionRepo struct {
	conditions []*domain.AlertCondition

	markTriggeredCalls int
	markTriggeredErr   error
	markTriggeredLost  bool
	rescheduleCalls    int
	rescheduled        map[int64]time.Time
}

func (m *mockConditionRepo) BoundTo(_ context.Context, config domain.Configuration) ([]*domain.AlertCondition, error) {
	var out []*domain.AlertCondition
	for _, c := range m.conditions {
		if c.Config.Key() == config.Key() && c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockConditionRepo) Due(_ context.Context, now time.Time, _ int) ([]*domain.AlertCondition, error) {
	var out []*domain.AlertCondition
	for _, c := range m.conditions {
		if c.Active && !c.NextCheckAt.After(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockConditionRepo) MarkTriggered(_ context.Context, id int64, at time.Time) (bool, error) {
	m.markTriggeredCalls++
	if m.markTriggeredErr != nil {
		return false, m.markTriggeredErr
	}
	if m.markTriggeredLost {
		return false, nil
	}
	for _, c := range m.conditions {
		if c.ID == id {
			triggered := at
			c.LastTriggeredAt = &triggered
			c.TotalTriggers++
		}
	}
	return true, nil
}

func (m *mockConditionRepo) Reschedule(_ context.Context, id int64, next time.Time) error {
	m.rescheduleCalls++
	if m.rescheduled == nil {
		m.rescheduled = map[int64]time.Time{}
	}
	m.rescheduled[id] = next
	for _, c := range m.conditions {
		if c.ID == id {
			c.NextCheckAt = next
		}
	}
	return nil
}

type stubMarket struct {
	sample *domain.Sample
	err    error
	calls  int
}

func (s *stubMarket) CurrentSample(context.Context, string, string) (*domain.Sample, error) {
	s.calls++
	return s.sample, s.err
}

type stubSentiment struct {
	sample *domain.SentimentSample
	err    error
}

func (s *stubSentiment) CurrentSentiment(context.Context, string) (*domain.SentimentSample, error) {
	return s.sample, s.err
}

func newTestService(repo *mockConditionRepo, market MarketProvider, sentiment SentimentProvider, at time.Time) *Service {
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	s := NewService(tracer, repo, market, sentiment)
	s.now = func() time.Time { return at }
	s.evaluator = fixedEvaluator(at)
	return s
}

var testConfig = domain.Configuration{Symbol: "BTCUSDT", Timeframe: "4h", Strategy: "trend-follower"}

func TestCheckSignalBoundTriggers(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &mockConditionRepo{conditions: []*domain.AlertCondition{{
		ID: 1, Name: "btc above 48k", Config: testConfig, Active: true,
		Type: domain.ConditionPrice, Operator: domain.OpGT, Threshold: 48000,
	}}}
	market := &stubMarket{sample: &domain.Sample{Price: 47000, Volume: 100, AvgVolume: 90}}
	svc := newTestService(repo, market, nil, now)

	signal := &domain.Signal{Config: testConfig, Kind: domain.SignalEntryLong, Price: 50000, ReceivedAt: now}
	events, err := svc.CheckSignalBound(context.Background(), signal)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != domain.EventConditionTriggered {
		t.Errorf("kind = %s", events[0].Kind)
	}
	if events[0].Condition.ID != 1 {
		t.Errorf("condition id = %d", events[0].Condition.ID)
	}
	if repo.markTriggeredCalls != 1 {
		t.Errorf("markTriggered calls = %d, want 1", repo.markTriggeredCalls)
	}
	// The signal price (50000) must override the stale provider price (47000).
	if repo.conditions[0].LastTriggeredAt == nil {
		t.Error("bookkeeping not applied")
	}
}

func TestCheckSignalBoundCooldownSharedAcrossPaths(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &mockConditionRepo{conditions: []*domain.AlertCondition{{
		ID: 1, Name: "btc above 48k", Config: testConfig, Active: true,
		Type: domain.ConditionPrice, Operator: domain.OpGT, Threshold: 48000,
		Cooldown: 300 * time.Second, CheckInterval: time.Minute,
	}}}
	market := &stubMarket{sample: &domain.Sample{Price: 50000}}

	signal := &domain.Signal{Config: testConfig, Kind: domain.SignalEntryLong, Price: 50000, ReceivedAt: start}

	// First trigger via the signal-bound path.
	svc := newTestService(repo, market, nil, start)
	events, err := svc.CheckSignalBound(context.Background(), signal)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected initial trigger, got %d events", len(events))
	}

	// The scheduler sweep inside the cooldown window must stay quiet.
	svc = newTestService(repo, market, nil, start.Add(200*time.Second))
	events, err = svc.CheckDue(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("cooldown violated: sweep produced %d events", len(events))
	}

	// Past the cooldown either path may fire again.
	svc = newTestService(repo, market, nil, start.Add(301*time.Second))
	events, err = svc.CheckSignalBound(context.Background(), signal)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected re-trigger after cooldown, got %d events", len(events))
	}
}

func TestCheckDueReschedulesRegardlessOfOutcome(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &mockConditionRepo{conditions: []*domain.AlertCondition{
		{
			ID: 1, Name: "not met", Config: testConfig, Active: true,
			Type: domain.ConditionPrice, Operator: domain.OpGT, Threshold: 99000,
			CheckInterval: 30 * time.Second, NextCheckAt: now.Add(-time.Second),
		},
		{
			ID: 2, Name: "paused", Config: testConfig, Active: true, Paused: true,
			Type: domain.ConditionPrice, Operator: domain.OpGT, Threshold: 1,
			CheckInterval: time.Minute, NextCheckAt: now.Add(-time.Second),
		},
	}}
	market := &stubMarket{sample: &domain.Sample{Price: 50000}}
	svc := newTestService(repo, market, nil, now)

	events, err := svc.CheckDue(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if repo.rescheduleCalls != 2 {
		t.Errorf("reschedule calls = %d, want 2 (unmet and paused both advance)", repo.rescheduleCalls)
	}
	if next := repo.rescheduled[1]; !next.Equal(now.Add(30 * time.Second)) {
		t.Errorf("condition 1 next check = %v, want %v", next, now.Add(30*time.Second))
	}
}

func TestTriggerSuppressedWhenBookkeepingFails(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &mockConditionRepo{
		conditions: []*domain.AlertCondition{{
			ID: 1, Name: "btc above 1", Config: testConfig, Active: true,
			Type: domain.ConditionPrice, Operator: domain.OpGT, Threshold: 1,
		}},
		markTriggeredErr: errors.New("connection refused"),
	}
	market := &stubMarket{sample: &domain.Sample{Price: 50000}}
	svc := newTestService(repo, market, nil, now)

	signal := &domain.Signal{Config: testConfig, Kind: domain.SignalEntryLong, Price: 50000, ReceivedAt: now}
	events, err := svc.CheckSignalBound(context.Background(), signal)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("trigger should be suppressed without bookkeeping, got %d events", len(events))
	}
}

func TestTriggerSuppressedWhenConcurrentCheckBooksFirst(t *testing.T) {
	t.Parallel()

	// Both evaluation paths can load the row with a stale cooldown stamp and
	// pass the gate; only the one whose bookkeeping write lands may notify.
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &mockConditionRepo{
		conditions: []*domain.AlertCondition{{
			ID: 1, Name: "btc above 48k", Config: testConfig, Active: true,
			Type: domain.ConditionPrice, Operator: domain.OpGT, Threshold: 48000,
			Cooldown: 300 * time.Second,
		}},
		markTriggeredLost: true,
	}
	market := &stubMarket{sample: &domain.Sample{Price: 50000}}
	svc := newTestService(repo, market, nil, now)

	signal := &domain.Signal{Config: testConfig, Kind: domain.SignalEntryLong, Price: 50000, ReceivedAt: now}
	events, err := svc.CheckSignalBound(context.Background(), signal)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("losing the bookkeeping race must suppress the trigger, got %d events", len(events))
	}
	if repo.markTriggeredCalls != 1 {
		t.Errorf("markTriggered calls = %d, want 1", repo.markTriggeredCalls)
	}
}

func TestCheckSignalBoundFallsBackToSignalPrice(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &mockConditionRepo{conditions: []*domain.AlertCondition{{
		ID: 1, Name: "btc above 48k", Config: testConfig, Active: true,
		Type: domain.ConditionPrice, Operator: domain.OpGT, Threshold: 48000,
	}}}
	market := &stubMarket{err: errors.New("provider timeout")}
	svc := newTestService(repo, market, nil, now)

	signal := &domain.Signal{Config: testConfig, Kind: domain.SignalEntryLong, Price: 50000, ReceivedAt: now}
	events, err := svc.CheckSignalBound(context.Background(), signal)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("price condition should still run on the signal's own price, got %d events", len(events))
	}
}

func TestCheckDueNewsCondition(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &mockConditionRepo{conditions: []*domain.AlertCondition{{
		ID: 1, Name: "bearish news", Config: testConfig, Active: true,
		Type: domain.ConditionNews, Sentiment: "bearish",
		CheckInterval: time.Minute, NextCheckAt: now.Add(-time.Second),
	}}}
	market := &stubMarket{sample: &domain.Sample{Price: 50000}}
	sentiment := &stubSentiment{sample: &domain.SentimentSample{Score: -0.7, Label: "bearish"}}
	svc := newTestService(repo, market, sentiment, now)

	events, err := svc.CheckDue(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected news trigger, got %d events", len(events))
	}

	// Sentiment provider failure skips the condition without an error.
	repo.conditions[0].LastTriggeredAt = nil
	repo.conditions[0].NextCheckAt = now.Add(-time.Second)
	sentiment.sample, sentiment.err = nil, errors.New("feed down")
	events, err = svc.CheckDue(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("expected skip on sentiment failure, got %d events", len(events))
	}
}
