package dispatch

import (
	"context"
	"errors"
	"log"
	"time"

	"tradewire/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Sender pushes one message onto the outbound channel. A failed send must
// come back wrapped in domain.ErrChannelTransient or domain.ErrChannelPermanent
// so the dispatcher can tell a flaky network from a blocked recipient.
type Sender interface {
	Send(ctx context.Context, task *domain.DeliveryTask) error
}

// Queue is the slice of the repository the dispatcher drives.
type Queue interface {
	Claim(ctx context.Context, limit int, lease time.Duration) ([]*domain.DeliveryTask, error)
	ReclaimExpired(ctx context.Context) (int, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
	Reschedule(ctx context.Context, id int64, next time.Time, lastError string) error
	Defer(ctx context.Context, id int64, next time.Time) error
}

// SubscriptionDeactivator kills a subscription whose recipient is gone.
type SubscriptionDeactivator interface {
	Deactivate(ctx context.Context, id int64) error
}

// Dispatcher drains the delivery queue: claim a batch, push each task through
// its channel's rate limiter and the sender, and book the outcome. Aside from
// the limiter table it holds no state, so several instances can run against
// the same queue.
type Dispatcher struct {
	tracer   trace.Tracer
	queue    Queue
	sender   Sender
	subs     SubscriptionDeactivator
	limiters *ChannelLimiters

	batchSize      int
	lease          time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	backoffCap     time.Duration
	now            func() time.Time
}

type DispatcherOptions struct {
	BatchSize      int
	Lease          time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	BackoffCap     time.Duration
	RatePerMinute  int
}

func NewDispatcher(tracer trace.Tracer, queue Queue, sender Sender, subs SubscriptionDeactivator, opts DispatcherOptions) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.Lease <= 0 {
		opts.Lease = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 2 * time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 5 * time.Minute
	}
	return &Dispatcher{
		tracer:         tracer,
		queue:          queue,
		sender:         sender,
		subs:           subs,
		limiters:       NewChannelLimiters(opts.RatePerMinute),
		batchSize:      opts.BatchSize,
		lease:          opts.Lease,
		maxAttempts:    opts.MaxAttempts,
		initialBackoff: opts.InitialBackoff,
		backoffCap:     opts.BackoffCap,
		now:            time.Now,
	}
}

// RunOnce processes one batch and returns how many tasks reached a terminal
// status.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.run-once")
	defer span.End()

	if reclaimed, err := d.queue.ReclaimExpired(ctx); err != nil {
		log.Printf("dispatch: reclaim expired leases: %v", err)
	} else if reclaimed > 0 {
		log.Printf("dispatch: reclaimed %d expired leases", reclaimed)
	}

	tasks, err := d.queue.Claim(ctx, d.batchSize, d.lease)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("claimed", len(tasks)))

	done := 0
	for _, task := range tasks {
		limiter := d.limiters.For(task.ChatID)
		if !limiter.Allow() {
			// This chat's budget is exhausted: push the task back without
			// booking an attempt and let the next sweep pick it up. Other
			// chats in the batch keep their own budgets.
			wait := limiter.NextIn()
			if err := d.queue.Defer(ctx, task.ID, d.now().UTC().Add(wait)); err != nil {
				log.Printf("dispatch: defer task %d: %v", task.ID, err)
			}
			continue
		}
		if d.process(ctx, task) {
			done++
		}
	}
	return done, nil
}

// process runs one send attempt; reports whether the task reached a terminal
// status.
func (d *Dispatcher) process(ctx context.Context, task *domain.DeliveryTask) bool {
	err := d.sender.Send(ctx, task)
	now := d.now().UTC()

	switch {
	case err == nil:
		if err := d.queue.MarkSent(ctx, task.ID, now); err != nil {
			log.Printf("dispatch: mark task %d sent: %v", task.ID, err)
		}
		return true

	case errors.Is(err, domain.ErrChannelPermanent):
		// Blocked bot or deleted chat: retrying cannot help, and the
		// subscription is dead weight from here on.
		log.Printf("dispatch: task %d permanently rejected for chat %d: %v", task.ID, task.ChatID, err)
		if markErr := d.queue.MarkFailed(ctx, task.ID, err.Error()); markErr != nil {
			log.Printf("dispatch: mark task %d failed: %v", task.ID, markErr)
		}
		if d.subs != nil {
			if deactErr := d.subs.Deactivate(ctx, task.SubscriptionID); deactErr != nil {
				log.Printf("dispatch: deactivate subscription %d: %v", task.SubscriptionID, deactErr)
			}
		}
		return true

	default:
		attempt := task.Attempts + 1
		maxAttempts := task.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = d.maxAttempts
		}
		if attempt >= maxAttempts {
			log.Printf("dispatch: task %d failed after %d attempts: %v", task.ID, attempt, err)
			if markErr := d.queue.MarkFailed(ctx, task.ID, err.Error()); markErr != nil {
				log.Printf("dispatch: mark task %d failed: %v", task.ID, markErr)
			}
			return true
		}
		delay := d.retryDelay(attempt)
		log.Printf("dispatch: task %d attempt %d failed, retrying in %s: %v", task.ID, attempt, delay, err)
		if schedErr := d.queue.Reschedule(ctx, task.ID, now.Add(delay), err.Error()); schedErr != nil {
			log.Printf("dispatch: reschedule task %d: %v", task.ID, schedErr)
		}
		return false
	}
}

// retryDelay is the jittered exponential delay before the given attempt's
// retry, hard-capped so a long outage never pushes retries out indefinitely.
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initialBackoff
	b.MaxInterval = d.backoffCap
	b.RandomizationFactor = 0.2
	b.Multiplier = 2

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	if delay > d.backoffCap || delay == backoff.Stop {
		delay = d.backoffCap
	}
	return delay
}
