package notify

import (
	"context"
	"log"
	"time"

	"tradewire/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SubscriptionStore is the slice of the repository the resolver needs.
type SubscriptionStore interface {
	ActiveFor(ctx context.Context, config domain.Configuration) ([]*domain.Subscription, error)
	TouchNotified(ctx context.Context, id int64, at time.Time) error
}

// Resolver fans one trigger event out into delivery tasks: one per
// subscription that covers the configuration, wants the event kind, and is
// not muted by pause, quiet hours or the per-recipient cooldown.
type Resolver struct {
	tracer          trace.Tracer
	store           SubscriptionStore
	defaultCooldown time.Duration
	now             func() time.Time
}

func NewResolver(tracer trace.Tracer, store SubscriptionStore, defaultCooldown time.Duration) *Resolver {
	return &Resolver{
		tracer:          tracer,
		store:           store,
		defaultCooldown: defaultCooldown,
		now:             time.Now,
	}
}

// Resolve renders the event once and produces the delivery tasks. Urgent
// events (stop-loss closes) bypass the cooldown and pierce quiet hours at
// reduced priority; everything else respects both.
func (r *Resolver) Resolve(ctx context.Context, event *domain.TriggerEvent) ([]*domain.DeliveryTask, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("config", event.Config.Key()),
		attribute.String("kind", string(event.Kind)),
	)

	subs, err := r.store.ActiveFor(ctx, event.Config)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}

	body, err := RenderMessage(event)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	var tasks []*domain.DeliveryTask
	for _, sub := range subs {
		if sub.Paused {
			continue
		}
		if !sub.WantsKind(event.Kind) {
			continue
		}

		priority := domain.PriorityNormal
		if event.Urgent {
			priority = domain.PriorityHigh
		}

		if inQuietHours(sub, now) {
			if !event.Urgent {
				continue
			}
			priority = domain.PriorityLow
		}

		if !event.Urgent && r.inCooldown(sub, now) {
			log.Printf("notify: chat %d in cooldown, dropping %s", sub.ChatID, event.Kind)
			continue
		}

		if err := r.store.TouchNotified(ctx, sub.ID, now); err != nil {
			log.Printf("notify: touch subscription %d: %v", sub.ID, err)
		}

		tasks = append(tasks, &domain.DeliveryTask{
			SubscriptionID: sub.ID,
			ChatID:         sub.ChatID,
			Body:           body,
			ParseMode:      ParseModeMarkdown,
			EventKind:      event.Kind,
			Priority:       priority,
			Status:         domain.DeliveryPending,
			EnqueuedAt:     now,
			NextAttemptAt:  now,
		})
	}

	log.Printf("notify: %s for %s fanned out to %d of %d subscriptions",
		event.Kind, event.Config.Key(), len(tasks), len(subs))
	return tasks, nil
}

func (r *Resolver) inCooldown(sub *domain.Subscription, now time.Time) bool {
	cooldown := r.defaultCooldown
	if sub.CooldownOverride != nil {
		cooldown = *sub.CooldownOverride
	}
	if cooldown <= 0 || sub.LastNotifiedAt == nil {
		return false
	}
	return now.Sub(*sub.LastNotifiedAt) < cooldown
}

// inQuietHours checks the recipient's local quiet window. Times are stored as
// "HH:MM" in UTC; a window that crosses midnight wraps.
func inQuietHours(sub *domain.Subscription, now time.Time) bool {
	if sub.QuietStart == "" || sub.QuietEnd == "" {
		return false
	}
	clock := now.Format("15:04")
	if sub.QuietStart <= sub.QuietEnd {
		return clock >= sub.QuietStart && clock < sub.QuietEnd
	}
	return clock >= sub.QuietStart || clock < sub.QuietEnd
}
