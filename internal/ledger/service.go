package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"tradewire/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TradeStore is the persistence boundary the ledger drives.
type TradeStore interface {
	WithConfigLock(ctx context.Context, config domain.Configuration, fn func(ctx context.Context, tx TradeTx) error) error
	GetSnapshot(ctx context.Context, config domain.Configuration, limit int) ([]*domain.Trade, error)
}

// Service is the trade lifecycle state machine. One configuration holds at
// most one open trade per direction; opposite directions may coexist.
type Service struct {
	tracer   trace.Tracer
	store    TradeStore
	capacity int
}

func NewService(tracer trace.Tracer, store TradeStore, capacity int) *Service {
	if capacity <= 0 {
		capacity = 3
	}
	return &Service{tracer: tracer, store: store, capacity: capacity}
}

// Apply runs one signal through the state machine and returns the trade
// events it produced. Duplicate signals are a no-op. Capacity rejections and
// orphan exits come back as their sentinel errors after being logged; the
// signal itself is already persisted by the validator either way.
func (s *Service) Apply(ctx context.Context, signal *domain.Signal) ([]domain.TriggerEvent, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("config", signal.Config.Key()),
		attribute.String("kind", string(signal.Kind)),
	)

	if signal.Duplicate {
		log.Printf("ledger: skipping duplicate signal %s for %s", signal.TrackingID, signal.Config.Key())
		return nil, nil
	}

	var events []domain.TriggerEvent
	err := s.store.WithConfigLock(ctx, signal.Config, func(ctx context.Context, tx TradeTx) error {
		var txErr error
		if signal.Kind.IsEntry() {
			events, txErr = s.applyEntry(ctx, tx, signal)
		} else {
			events, txErr = s.applyExit(ctx, tx, signal)
		}
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Service) applyEntry(ctx context.Context, tx TradeTx, signal *domain.Signal) ([]domain.TriggerEvent, error) {
	// Replaying an already-applied entry must not open a second trade even
	// when the dedup window has lapsed.
	applied, err := tx.AlreadyOpenedBy(ctx, signal.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("check applied entry: %w", err)
	}
	if applied {
		log.Printf("ledger: entry %s already applied for %s", signal.TrackingID, signal.Config.Key())
		return nil, domain.ErrDuplicateSignal
	}

	open, err := tx.OpenTrades(ctx, signal.Config)
	if err != nil {
		return nil, fmt.Errorf("load open trades: %w", err)
	}

	direction := signal.Kind.EntryDirection()
	var sameDirection *domain.Trade
	for _, t := range open {
		if t.Direction == direction {
			sameDirection = t
			break
		}
	}

	now := signal.ReceivedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var replaced *domain.Trade
	if sameDirection != nil {
		// Same-direction re-entry is a signal-quality event: the older trade
		// closes as replaced with no P&L.
		closed, err := tx.Close(ctx, sameDirection.ID, domain.TradeReplaced, nil, nil, nil, signal.IdempotencyKey, now)
		if err != nil {
			return nil, fmt.Errorf("replace trade #%d: %w", sameDirection.TradeNumber, err)
		}
		if !closed {
			log.Printf("ledger: trade #%d for %s vanished during replacement", sameDirection.TradeNumber, signal.Config.Key())
		}
		sameDirection.Status = domain.TradeReplaced
		sameDirection.ClosedAt = &now
		replaced = sameDirection
	} else if len(open) >= s.capacity {
		log.Printf("ledger: capacity %d reached for %s, rejecting %s entry", s.capacity, signal.Config.Key(), direction)
		return nil, domain.ErrCapacityExceeded
	}

	number, err := tx.NextTradeNumber(ctx, signal.Config)
	if err != nil {
		return nil, fmt.Errorf("next trade number: %w", err)
	}

	trade := &domain.Trade{
		Config:      signal.Config,
		TradeNumber: number,
		Direction:   direction,
		EntryPrice:  signal.Price,
		Status:      domain.TradeOpen,
		OpenedAt:    now,
	}
	if _, err := tx.Insert(ctx, trade, signal.IdempotencyKey); err != nil {
		return nil, fmt.Errorf("open trade #%d: %w", number, err)
	}

	event := domain.TriggerEvent{
		Kind:       domain.EventTradeOpened,
		Config:     signal.Config,
		Trade:      trade,
		Signal:     signal,
		OccurredAt: now,
	}
	if replaced != nil {
		event.Kind = domain.EventTradeReplaced
		event.Replaced = replaced
		log.Printf("ledger: %s trade #%d replaced #%d (possible false signal)", signal.Config.Key(), trade.TradeNumber, replaced.TradeNumber)
	} else {
		log.Printf("ledger: %s opened %s trade #%d at %.8g", signal.Config.Key(), direction, number, signal.Price)
	}
	return []domain.TriggerEvent{event}, nil
}

func (s *Service) applyExit(ctx context.Context, tx TradeTx, signal *domain.Signal) ([]domain.TriggerEvent, error) {
	open, err := tx.OpenTrades(ctx, signal.Config)
	if err != nil {
		return nil, fmt.Errorf("load open trades: %w", err)
	}

	// LIFO: the most recently opened open trade of the matching direction.
	// Exit signals without an explicit direction match any open trade.
	var match *domain.Trade
	for _, t := range open {
		if signal.Direction != "" && t.Direction != signal.Direction {
			continue
		}
		if match == nil || t.TradeNumber > match.TradeNumber {
			match = t
		}
	}
	if match == nil {
		log.Printf("ledger: orphan %s for %s, no open trade to close", signal.Kind, signal.Config.Key())
		return nil, domain.ErrOrphanExit
	}

	now := signal.ReceivedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	amount, percent := match.PnL(signal.Price)
	exitPrice := signal.Price

	closed, err := tx.Close(ctx, match.ID, domain.TradeClosed, &exitPrice, &amount, &percent, signal.IdempotencyKey, now)
	if err != nil {
		return nil, fmt.Errorf("close trade #%d: %w", match.TradeNumber, err)
	}
	if !closed {
		// Lost to a concurrent close despite the lock; treat as orphan.
		log.Printf("ledger: trade #%d for %s already closed", match.TradeNumber, signal.Config.Key())
		return nil, domain.ErrOrphanExit
	}

	match.Status = domain.TradeClosed
	match.ExitPrice = &exitPrice
	match.PnLAmount = &amount
	match.PnLPercent = &percent
	match.ClosedAt = &now

	log.Printf("ledger: %s closed trade #%d at %.8g (P&L %+.2f / %+.2f%%)",
		signal.Config.Key(), match.TradeNumber, exitPrice, amount, percent)

	return []domain.TriggerEvent{{
		Kind:       domain.EventTradeClosed,
		Config:     signal.Config,
		Trade:      match,
		Signal:     signal,
		Urgent:     signal.Kind == domain.SignalStopLossHit,
		OccurredAt: now,
	}}, nil
}

// Snapshot exposes the configuration's trades for the admin surfaces.
func (s *Service) Snapshot(ctx context.Context, config domain.Configuration, limit int) ([]*domain.Trade, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.snapshot")
	defer span.End()
	return s.store.GetSnapshot(ctx, config, limit)
}
