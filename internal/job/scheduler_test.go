package job

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tradewire/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

var testConfig = domain.Configuration{Symbol: "BTCUSDT", Timeframe: "4h", Strategy: "trend-follower"}

type stubSweeper struct {
	events []domain.TriggerEvent
	err    error
	calls  atomic.Int32
}

func (s *stubSweeper) CheckDue(context.Context, int) ([]domain.TriggerEvent, error) {
	s.calls.Add(1)
	return s.events, s.err
}

type stubResolver struct {
	tasks []*domain.DeliveryTask
	err   error
	calls int
}

func (s *stubResolver) Resolve(context.Context, *domain.TriggerEvent) ([]*domain.DeliveryTask, error) {
	s.calls++
	return s.tasks, s.err
}

type stubQueue struct {
	enqueued int
	err      error
}

func (s *stubQueue) Enqueue(_ context.Context, tasks []*domain.DeliveryTask) error {
	if s.err != nil {
		return s.err
	}
	s.enqueued += len(tasks)
	return nil
}

type stubPublisher struct {
	published int
}

func (s *stubPublisher) Publish(context.Context, *domain.TriggerEvent) error {
	s.published++
	return nil
}

type stubRunner struct {
	calls atomic.Int32
}

func (s *stubRunner) RunOnce(context.Context) (int, error) {
	s.calls.Add(1)
	return 1, nil
}

type stubJanitor struct {
	ages []time.Duration
}

func (s *stubJanitor) PurgeOlderThan(_ context.Context, age time.Duration) (int, error) {
	s.ages = append(s.ages, age)
	return 2, nil
}

func newTestScheduler(sweeper *stubSweeper, resolver *stubResolver, queue *stubQueue, publisher *stubPublisher, runner *stubRunner, janitor QueueJanitor) *Scheduler {
	return NewScheduler(
		trace.NewNoopTracerProvider().Tracer("test"),
		sweeper, resolver, queue, publisher, runner, janitor,
		SchedulerOptions{ConditionIntervalSecs: 1, DeliveryIntervalSecs: 1},
	)
}

func TestSchedulerDefaults(t *testing.T) {
	s := NewScheduler(
		trace.NewNoopTracerProvider().Tracer("test"),
		&stubSweeper{}, &stubResolver{}, &stubQueue{}, &stubPublisher{}, &stubRunner{}, nil,
		SchedulerOptions{},
	)
	if s.conditionInterval != 5*time.Second {
		t.Errorf("condition interval = %v, want 5s", s.conditionInterval)
	}
	if s.deliveryInterval != 2*time.Second {
		t.Errorf("delivery interval = %v, want 2s", s.deliveryInterval)
	}
	if s.retention != 14*24*time.Hour {
		t.Errorf("retention = %v, want 14d", s.retention)
	}
}

func TestSchedulerStartRunsSweeps(t *testing.T) {
	t.Parallel()

	sweeper := &stubSweeper{}
	runner := &stubRunner{}
	s := newTestScheduler(sweeper, &stubResolver{}, &stubQueue{}, &stubPublisher{}, runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Start(ctx)

	eventually(t, func() bool {
		return runner.calls.Load() > 0 && sweeper.calls.Load() > 0
	})
	cancel()
}

func TestConditionSweepFansOut(t *testing.T) {
	t.Parallel()

	sweeper := &stubSweeper{events: []domain.TriggerEvent{
		{Kind: domain.EventConditionTriggered, Config: testConfig, Condition: &domain.AlertCondition{Name: "a"}},
		{Kind: domain.EventConditionTriggered, Config: testConfig, Condition: &domain.AlertCondition{Name: "b"}},
	}}
	resolver := &stubResolver{tasks: []*domain.DeliveryTask{{ChatID: 100, Body: "x"}}}
	queue := &stubQueue{}
	publisher := &stubPublisher{}
	s := newTestScheduler(sweeper, resolver, queue, publisher, &stubRunner{}, nil)

	if err := s.conditionSweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if resolver.calls != 2 {
		t.Errorf("resolved %d, want 2", resolver.calls)
	}
	if queue.enqueued != 2 {
		t.Errorf("enqueued %d, want 2", queue.enqueued)
	}
	if publisher.published != 2 {
		t.Errorf("published %d, want 2", publisher.published)
	}
}

func TestConditionSweepEnqueueFailureStillPublishes(t *testing.T) {
	t.Parallel()

	sweeper := &stubSweeper{events: []domain.TriggerEvent{
		{Kind: domain.EventConditionTriggered, Config: testConfig, Condition: &domain.AlertCondition{Name: "a"}},
	}}
	resolver := &stubResolver{tasks: []*domain.DeliveryTask{{ChatID: 100, Body: "x"}}}
	queue := &stubQueue{err: errors.New("connection refused")}
	publisher := &stubPublisher{}
	s := newTestScheduler(sweeper, resolver, queue, publisher, &stubRunner{}, nil)

	if err := s.conditionSweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if publisher.published != 1 {
		t.Errorf("published %d, want 1 despite enqueue failure", publisher.published)
	}
}

func TestPurgeSweepUsesRetention(t *testing.T) {
	t.Parallel()

	janitor := &stubJanitor{}
	s := newTestScheduler(&stubSweeper{}, &stubResolver{}, &stubQueue{}, &stubPublisher{}, &stubRunner{}, janitor)

	if err := s.purgeSweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(janitor.ages) != 1 || janitor.ages[0] != 14*24*time.Hour {
		t.Errorf("purge ages = %v", janitor.ages)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
