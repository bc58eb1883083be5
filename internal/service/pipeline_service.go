package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tradewire/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SignalValidator is the ingest boundary. The source tag feeds the
// idempotency key, so the same payload from two feeds is two signals.
type SignalValidator interface {
	Validate(ctx context.Context, body []byte, signature, source string) (*domain.Signal, error)
}

// TradeLedger applies a signal to the trade state machine.
type TradeLedger interface {
	Apply(ctx context.Context, signal *domain.Signal) ([]domain.TriggerEvent, error)
}

// ConditionChecker runs the signal-bound condition evaluations.
type ConditionChecker interface {
	CheckSignalBound(ctx context.Context, signal *domain.Signal) ([]domain.TriggerEvent, error)
}

// EventResolver fans one event out into delivery tasks.
type EventResolver interface {
	Resolve(ctx context.Context, event *domain.TriggerEvent) ([]*domain.DeliveryTask, error)
}

// TaskQueue persists delivery tasks for the dispatcher.
type TaskQueue interface {
	Enqueue(ctx context.Context, tasks []*domain.DeliveryTask) error
}

// EventPublisher pushes events onto the external stream.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.TriggerEvent) error
}

// SignalAuditor records processing failures against the stored signal.
type SignalAuditor interface {
	SetProcessingError(ctx context.Context, trackingID, message string) error
}

// IngestResult is what the webhook caller gets back: receipt, not outcome.
type IngestResult struct {
	TrackingID string `json:"tracking_id"`
	Duplicate  bool   `json:"duplicate"`
}

// PipelineService drives a signal through the pipeline: validate, apply to
// the ledger, run signal-bound conditions, fan out, enqueue, publish.
// Validation is synchronous; everything after it races the ingest deadline
// and continues in the background when the webhook must be acknowledged
// first.
type PipelineService struct {
	tracer     trace.Tracer
	validator  SignalValidator
	ledger     TradeLedger
	conditions ConditionChecker
	resolver   EventResolver
	queue      TaskQueue
	publisher  EventPublisher
	auditor    SignalAuditor
	deadline   time.Duration
}

func NewPipelineService(
	tracer trace.Tracer,
	validator SignalValidator,
	ledger TradeLedger,
	conditions ConditionChecker,
	resolver EventResolver,
	queue TaskQueue,
	publisher EventPublisher,
	auditor SignalAuditor,
	deadline time.Duration,
) *PipelineService {
	if deadline <= 0 {
		deadline = 300 * time.Millisecond
	}
	return &PipelineService{
		tracer:     tracer,
		validator:  validator,
		ledger:     ledger,
		conditions: conditions,
		resolver:   resolver,
		queue:      queue,
		publisher:  publisher,
		auditor:    auditor,
		deadline:   deadline,
	}
}

// IngestSignal validates and acknowledges one webhook delivery. A returned
// error is a validation error, or a capacity rejection when the ledger
// settled it within the deadline (the result still carries the tracking id);
// processing failures after the ack are recorded on the signal's audit trail
// instead.
func (s *PipelineService) IngestSignal(ctx context.Context, body []byte, signature, source string) (*IngestResult, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.ingest-signal")
	defer span.End()

	signal, err := s.validator.Validate(ctx, body, signature, source)
	if err != nil {
		return nil, err
	}
	result := &IngestResult{TrackingID: signal.TrackingID, Duplicate: signal.Duplicate}
	span.SetAttributes(
		attribute.String("tracking_id", signal.TrackingID),
		attribute.Bool("duplicate", signal.Duplicate),
	)
	if signal.Duplicate {
		return result, nil
	}

	// The webhook source resends on slow acks, so processing races the
	// deadline and keeps going in the background when it loses.
	bgCtx := context.WithoutCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- s.Process(bgCtx, signal)
	}()

	select {
	case err := <-done:
		// Capacity rejections that settle in time go back to the caller;
		// everything else is already on the audit trail.
		if errors.Is(err, domain.ErrCapacityExceeded) {
			return result, err
		}
	case <-time.After(s.deadline):
		log.Printf("pipeline: signal %s still processing after %s, acknowledging early", signal.TrackingID, s.deadline)
	}
	return result, nil
}

// Process runs the post-validation pipeline for one signal. The returned
// error is the ledger's rejection or failure; it has already been audited, so
// callers only inspect it, never re-record it.
func (s *PipelineService) Process(ctx context.Context, signal *domain.Signal) error {
	ctx, span := s.tracer.Start(ctx, "pipeline.process")
	defer span.End()

	events, err := s.ledger.Apply(ctx, signal)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCapacityExceeded),
			errors.Is(err, domain.ErrOrphanExit),
			errors.Is(err, domain.ErrDuplicateSignal):
			// Expected rejections: the signal stays on record with the
			// reason, no events flow.
			s.audit(ctx, signal.TrackingID, err.Error())
		default:
			log.Printf("pipeline: apply signal %s: %v", signal.TrackingID, err)
			s.audit(ctx, signal.TrackingID, err.Error())
		}
		return err
	}

	conditionEvents, err := s.conditions.CheckSignalBound(ctx, signal)
	if err != nil {
		// Condition checks are additive; trade events still flow.
		log.Printf("pipeline: signal-bound conditions for %s: %v", signal.TrackingID, err)
	}
	events = append(events, conditionEvents...)

	for i := range events {
		s.fanOut(ctx, signal, &events[i])
	}
	return nil
}

// fanOut resolves, enqueues and publishes one event. Enqueueing retries a
// few times because a dropped task is a silently missed notification; the
// stream publish is best-effort.
func (s *PipelineService) fanOut(ctx context.Context, signal *domain.Signal, event *domain.TriggerEvent) {
	tasks, err := s.resolver.Resolve(ctx, event)
	if err != nil {
		log.Printf("pipeline: resolve %s for %s: %v", event.Kind, event.Config.Key(), err)
		s.audit(ctx, signal.TrackingID, fmt.Sprintf("resolve %s: %v", event.Kind, err))
		return
	}

	if len(tasks) > 0 {
		enqueue := func() error { return s.queue.Enqueue(ctx, tasks) }
		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(50*time.Millisecond),
			backoff.WithMaxInterval(time.Second),
		), 3), ctx)
		if err := backoff.Retry(enqueue, policy); err != nil {
			log.Printf("pipeline: enqueue %d tasks for %s: %v", len(tasks), event.Kind, err)
			s.audit(ctx, signal.TrackingID, fmt.Sprintf("enqueue %s: %v", event.Kind, err))
		}
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Printf("pipeline: publish %s for %s: %v", event.Kind, event.Config.Key(), err)
	}
}

func (s *PipelineService) audit(ctx context.Context, trackingID, message string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.SetProcessingError(ctx, trackingID, message); err != nil {
		log.Printf("pipeline: record processing error for %s: %v", trackingID, err)
	}
}
