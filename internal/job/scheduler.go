package job

import (
	"context"
	"log"
	"time"

	"tradewire/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// ConditionSweeper evaluates due alert conditions and fans the triggers out.
type ConditionSweeper interface {
	CheckDue(ctx context.Context, limit int) ([]domain.TriggerEvent, error)
}

// EventFanOut is the tail of the pipeline the condition sweep feeds.
type EventFanOut interface {
	Resolve(ctx context.Context, event *domain.TriggerEvent) ([]*domain.DeliveryTask, error)
}

// TaskQueue persists the fan-out and is drained by the delivery sweep.
type TaskQueue interface {
	Enqueue(ctx context.Context, tasks []*domain.DeliveryTask) error
}

// EventPublisher mirrors triggers onto the external stream.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.TriggerEvent) error
}

// DeliveryRunner drains one batch of the delivery queue.
type DeliveryRunner interface {
	RunOnce(ctx context.Context) (int, error)
}

// QueueJanitor prunes terminal delivery rows.
type QueueJanitor interface {
	PurgeOlderThan(ctx context.Context, age time.Duration) (int, error)
}

// Scheduler runs the background sweeps: periodic condition evaluation,
// delivery queue draining, and queue retention. Sweeps start staggered so a
// restart does not slam the database all at once.
type Scheduler struct {
	tracer    trace.Tracer
	sweeper   ConditionSweeper
	resolver  EventFanOut
	queue     TaskQueue
	publisher EventPublisher
	runner    DeliveryRunner
	janitor   QueueJanitor

	conditionInterval time.Duration
	deliveryInterval  time.Duration
	conditionBatch    int
	retention         time.Duration
}

type SchedulerOptions struct {
	ConditionIntervalSecs int
	DeliveryIntervalSecs  int
	ConditionBatch        int
	Retention             time.Duration
}

func NewScheduler(
	tracer trace.Tracer,
	sweeper ConditionSweeper,
	resolver EventFanOut,
	queue TaskQueue,
	publisher EventPublisher,
	runner DeliveryRunner,
	janitor QueueJanitor,
	opts SchedulerOptions,
) *Scheduler {
	if opts.ConditionIntervalSecs <= 0 {
		opts.ConditionIntervalSecs = 5
	}
	if opts.DeliveryIntervalSecs <= 0 {
		opts.DeliveryIntervalSecs = 2
	}
	if opts.ConditionBatch <= 0 {
		opts.ConditionBatch = 100
	}
	if opts.Retention <= 0 {
		opts.Retention = 14 * 24 * time.Hour
	}
	return &Scheduler{
		tracer:            tracer,
		sweeper:           sweeper,
		resolver:          resolver,
		queue:             queue,
		publisher:         publisher,
		runner:            runner,
		janitor:           janitor,
		conditionInterval: time.Duration(opts.ConditionIntervalSecs) * time.Second,
		deliveryInterval:  time.Duration(opts.DeliveryIntervalSecs) * time.Second,
		conditionBatch:    opts.ConditionBatch,
		retention:         opts.Retention,
	}
}

// Start launches the sweeps and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Println("Scheduler starting...")

	go s.loop(ctx, "delivery-sweep", s.deliveryInterval, 0, s.deliverySweep)
	go s.loop(ctx, "condition-sweep", s.conditionInterval, s.deliveryInterval/2, s.conditionSweep)
	go s.loop(ctx, "queue-retention", time.Hour, time.Minute, s.purgeSweep)

	<-ctx.Done()
	log.Println("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, interval, stagger time.Duration, fn func(context.Context) error) {
	if stagger > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(stagger):
		}
	}

	if err := fn(ctx); err != nil {
		log.Printf("scheduler %s initial run error: %v", name, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				log.Printf("scheduler %s error: %v", name, err)
			}
		}
	}
}

// conditionSweep evaluates due conditions and pushes each trigger through
// fan-out and the event stream, the same tail the ingest path uses.
func (s *Scheduler) conditionSweep(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.condition-sweep")
	defer span.End()

	events, err := s.sweeper.CheckDue(ctx, s.conditionBatch)
	if err != nil {
		return err
	}
	for i := range events {
		event := &events[i]
		tasks, err := s.resolver.Resolve(ctx, event)
		if err != nil {
			log.Printf("scheduler: resolve %s for %s: %v", event.Kind, event.Config.Key(), err)
			continue
		}
		if len(tasks) > 0 {
			if err := s.queue.Enqueue(ctx, tasks); err != nil {
				log.Printf("scheduler: enqueue %d tasks for %s: %v", len(tasks), event.Kind, err)
			}
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			log.Printf("scheduler: publish %s: %v", event.Kind, err)
		}
	}
	return nil
}

func (s *Scheduler) deliverySweep(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.delivery-sweep")
	defer span.End()

	done, err := s.runner.RunOnce(ctx)
	if err != nil {
		return err
	}
	if done > 0 {
		log.Printf("scheduler: delivered %d tasks", done)
	}
	return nil
}

func (s *Scheduler) purgeSweep(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.queue-retention")
	defer span.End()

	if s.janitor == nil {
		return nil
	}
	purged, err := s.janitor.PurgeOlderThan(ctx, s.retention)
	if err != nil {
		return err
	}
	if purged > 0 {
		log.Printf("scheduler: purged %d delivered tasks past retention", purged)
	}
	return nil
}
