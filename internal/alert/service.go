package alert

import (
	"context"
	"log"
	"time"

	"tradewire/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ConditionRepository is the persistence the service drives. The repository
// owns trigger bookkeeping; the service never mutates condition rows itself.
type ConditionRepository interface {
	BoundTo(ctx context.Context, config domain.Configuration) ([]*domain.AlertCondition, error)
	Due(ctx context.Context, now time.Time, limit int) ([]*domain.AlertCondition, error)
	// MarkTriggered books the trigger and reports whether this caller won
	// it; false means a concurrent evaluation already put the condition in
	// cooldown.
	MarkTriggered(ctx context.Context, id int64, at time.Time) (bool, error)
	Reschedule(ctx context.Context, id int64, next time.Time) error
}

// MarketProvider supplies fresh samples for evaluation.
type MarketProvider interface {
	CurrentSample(ctx context.Context, symbol, timeframe string) (*domain.Sample, error)
}

// SentimentProvider supplies the news/sentiment feed for news conditions.
type SentimentProvider interface {
	CurrentSentiment(ctx context.Context, symbol string) (*domain.SentimentSample, error)
}

// Service runs conditions from both triggering paths: signal-bound checks on
// ingestion and the periodic scheduler sweep. Both paths share the same
// gating and bookkeeping, so a condition triggered by one path is in cooldown
// for the other.
type Service struct {
	tracer    trace.Tracer
	repo      ConditionRepository
	market    MarketProvider
	sentiment SentimentProvider
	evaluator *Evaluator
	now       func() time.Time
}

func NewService(tracer trace.Tracer, repo ConditionRepository, market MarketProvider, sentiment SentimentProvider) *Service {
	return &Service{
		tracer:    tracer,
		repo:      repo,
		market:    market,
		sentiment: sentiment,
		evaluator: NewEvaluator(),
		now:       time.Now,
	}
}

// CheckSignalBound evaluates the conditions bound to the signal's
// configuration. The signal's own price overrides the provider sample so the
// check reflects the price that caused it.
func (s *Service) CheckSignalBound(ctx context.Context, signal *domain.Signal) ([]domain.TriggerEvent, error) {
	ctx, span := s.tracer.Start(ctx, "condition-service.check-signal-bound")
	defer span.End()
	span.SetAttributes(attribute.String("config", signal.Config.Key()))

	conditions, err := s.repo.BoundTo(ctx, signal.Config)
	if err != nil {
		return nil, err
	}
	if len(conditions) == 0 {
		return nil, nil
	}

	sample := s.sampleFor(ctx, signal.Config.Symbol, signal.Config.Timeframe)
	if sample == nil {
		// Provider down: fall back to a price-only sample built from the
		// signal. Volume and indicator conditions will report their data gap.
		sample = &domain.Sample{
			Symbol:    signal.Config.Symbol,
			Timeframe: signal.Config.Timeframe,
			Price:     signal.Price,
			At:        signal.ReceivedAt,
		}
	} else {
		sample.Price = signal.Price
	}

	return s.run(ctx, conditions, sample, false), nil
}

// CheckDue evaluates every condition whose check interval has elapsed and
// reschedules each one regardless of outcome.
func (s *Service) CheckDue(ctx context.Context, limit int) ([]domain.TriggerEvent, error) {
	ctx, span := s.tracer.Start(ctx, "condition-service.check-due")
	defer span.End()

	now := s.now().UTC()
	conditions, err := s.repo.Due(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	if len(conditions) == 0 {
		return nil, nil
	}

	// Conditions for the same symbol share one sample per sweep.
	samples := map[string]*domain.Sample{}
	var events []domain.TriggerEvent
	for _, cond := range conditions {
		key := cond.Config.Symbol + "|" + cond.Config.Timeframe
		sample, ok := samples[key]
		if !ok {
			sample = s.sampleFor(ctx, cond.Config.Symbol, cond.Config.Timeframe)
			samples[key] = sample
		}
		events = append(events, s.run(ctx, []*domain.AlertCondition{cond}, sample, true)...)
	}
	return events, nil
}

// run gates, evaluates and books each condition, returning the trigger events.
func (s *Service) run(ctx context.Context, conditions []*domain.AlertCondition, sample *domain.Sample, reschedule bool) []domain.TriggerEvent {
	now := s.now().UTC()
	var events []domain.TriggerEvent

	for _, cond := range conditions {
		if reschedule {
			if err := s.repo.Reschedule(ctx, cond.ID, now.Add(cond.CheckInterval)); err != nil {
				log.Printf("alert: reschedule condition %d: %v", cond.ID, err)
			}
		}

		if ok, reason := s.evaluator.Gate(cond); !ok {
			if reason != SkipInactive {
				log.Printf("alert: condition %d (%s) skipped: %s", cond.ID, cond.Name, reason)
			}
			continue
		}

		var sentiment *domain.SentimentSample
		if cond.Type == domain.ConditionNews {
			sentiment = s.sentimentFor(ctx, cond.Config.Symbol)
			if sentiment == nil {
				continue
			}
		}

		verdict, err := s.evaluator.Evaluate(cond, sample, sentiment)
		if err != nil {
			log.Printf("alert: condition %d (%s) evaluation failed: %v", cond.ID, cond.Name, err)
			continue
		}
		if !verdict.Met {
			continue
		}

		won, err := s.repo.MarkTriggered(ctx, cond.ID, now)
		if err != nil {
			// Without the bookkeeping write the cooldown would not hold, so
			// the trigger is suppressed rather than risking a notification
			// storm.
			log.Printf("alert: condition %d (%s) triggered but bookkeeping failed, suppressing: %v", cond.ID, cond.Name, err)
			continue
		}
		if !won {
			log.Printf("alert: condition %d (%s) already booked by a concurrent check, suppressing", cond.ID, cond.Name)
			continue
		}
		cond.LastTriggeredAt = &now
		cond.TotalTriggers++

		log.Printf("alert: condition %d (%s) triggered for %s at %.8g", cond.ID, cond.Name, cond.Config.Key(), verdict.Observed)
		events = append(events, domain.TriggerEvent{
			Kind:       domain.EventConditionTriggered,
			Config:     cond.Config,
			Condition:  cond,
			OccurredAt: now,
		})
	}
	return events
}

func (s *Service) sampleFor(ctx context.Context, symbol, timeframe string) *domain.Sample {
	if s.market == nil {
		return nil
	}
	sample, err := s.market.CurrentSample(ctx, symbol, timeframe)
	if err != nil {
		log.Printf("alert: market sample for %s %s: %v", symbol, timeframe, err)
		return nil
	}
	return sample
}

func (s *Service) sentimentFor(ctx context.Context, symbol string) *domain.SentimentSample {
	if s.sentiment == nil {
		return nil
	}
	sentiment, err := s.sentiment.CurrentSentiment(ctx, symbol)
	if err != nil {
		log.Printf("alert: sentiment for %s: %v", symbol, err)
		return nil
	}
	return sentiment
}
