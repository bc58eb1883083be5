package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"tradewire/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const idemKeyPrefix = "ingest:idem:"

// Payload is the raw webhook body shape sent by the charting platform.
type Payload struct {
	Symbol     string   `json:"symbol"`
	Timeframe  string   `json:"timeframe"`
	Strategy   string   `json:"strategy"`
	Kind       string   `json:"kind"`
	Direction  string   `json:"direction,omitempty"`
	Price      float64  `json:"price"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	BarTime    *int64   `json:"bar_time,omitempty"` // unix seconds
}

type SignalRepository interface {
	Insert(ctx context.Context, signal *domain.Signal) (*domain.Signal, error)
	RecentExists(ctx context.Context, idempotencyKey string, window time.Duration) (bool, error)
}

type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Validator authenticates and validates inbound signals and persists them
// before anything downstream runs, so a crash after validation never loses
// the event.
type Validator struct {
	tracer      trace.Tracer
	secret      string
	dedupWindow time.Duration
	redis       RedisClient
	repo        SignalRepository
}

func NewValidator(tracer trace.Tracer, secret string, dedupWindow time.Duration, redisClient RedisClient, repo SignalRepository) *Validator {
	if dedupWindow <= 0 {
		dedupWindow = 5 * time.Minute
	}
	return &Validator{
		tracer:      tracer,
		secret:      secret,
		dedupWindow: dedupWindow,
		redis:       redisClient,
		repo:        repo,
	}
}

// Validate checks the signature and structure of a raw webhook payload,
// marks duplicates inside the dedup window, and persists the signal.
// Duplicates come back with Duplicate=true, not as an error: the webhook
// source delivers at least once and a replay is not the caller's fault.
func (v *Validator) Validate(ctx context.Context, rawPayload []byte, signature, source string) (*domain.Signal, error) {
	ctx, span := v.tracer.Start(ctx, "ingest.validate")
	defer span.End()

	if v.secret != "" {
		if err := v.verifySignature(rawPayload, signature); err != nil {
			return nil, err
		}
	}

	var payload Payload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return nil, domain.NewValidationError("", "malformed JSON payload")
	}

	signal, err := v.buildSignal(&payload, source)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("symbol", signal.Config.Symbol),
		attribute.String("kind", string(signal.Kind)),
	)

	duplicate, err := v.seenRecently(ctx, signal.IdempotencyKey)
	if err != nil {
		log.Printf("idempotency check error for %s: %v", signal.IdempotencyKey, err)
	}
	signal.Duplicate = duplicate
	span.SetAttributes(attribute.Bool("duplicate", duplicate))

	stored, err := v.repo.Insert(ctx, signal)
	if err != nil {
		return nil, fmt.Errorf("persist signal: %w", err)
	}
	return stored, nil
}

func (v *Validator) verifySignature(rawPayload []byte, signature string) error {
	signature = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if signature == "" {
		return domain.NewValidationError("signature", "missing")
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return domain.NewValidationError("signature", "not hex encoded")
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(rawPayload)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return domain.NewValidationError("signature", "mismatch")
	}
	return nil
}

func (v *Validator) buildSignal(payload *Payload, source string) (*domain.Signal, error) {
	if strings.TrimSpace(payload.Symbol) == "" {
		return nil, domain.NewValidationError("symbol", "required")
	}
	if strings.TrimSpace(payload.Timeframe) == "" {
		return nil, domain.NewValidationError("timeframe", "required")
	}
	if strings.TrimSpace(payload.Strategy) == "" {
		return nil, domain.NewValidationError("strategy", "required")
	}
	kind := domain.SignalKind(payload.Kind)
	if !kind.IsValid() {
		return nil, domain.NewValidationError("kind", "must be one of entry-long, entry-short, take-profit-hit, stop-loss-hit")
	}
	if payload.Price <= 0 {
		return nil, domain.NewValidationError("price", "must be positive")
	}

	direction := kind.EntryDirection()
	if payload.Direction != "" {
		direction = domain.TradeDirection(payload.Direction)
		if !direction.IsValid() {
			return nil, domain.NewValidationError("direction", "must be long or short")
		}
		if kind.IsEntry() && direction != kind.EntryDirection() {
			return nil, domain.NewValidationError("direction", "contradicts entry kind")
		}
	}

	signal := &domain.Signal{
		TrackingID: uuid.NewString(),
		Config: domain.Configuration{
			Symbol:    strings.ToUpper(strings.TrimSpace(payload.Symbol)),
			Timeframe: strings.TrimSpace(payload.Timeframe),
			Strategy:  strings.TrimSpace(payload.Strategy),
		},
		Kind:       kind,
		Direction:  direction,
		Price:      payload.Price,
		TakeProfit: payload.TakeProfit,
		StopLoss:   payload.StopLoss,
		Source:     source,
		ReceivedAt: time.Now().UTC(),
	}
	if payload.BarTime != nil {
		bt := time.Unix(*payload.BarTime, 0).UTC()
		signal.BarTime = &bt
	}
	signal.IdempotencyKey = idempotencyKey(signal)
	return signal, nil
}

// seenRecently answers whether the same idempotency key was accepted inside
// the dedup window. Redis SETNX is the fast atomic path; the signals table is
// the fallback when Redis is down.
func (v *Validator) seenRecently(ctx context.Context, key string) (bool, error) {
	if v.redis != nil {
		ok, err := v.redis.SetNX(ctx, idemKeyPrefix+key, 1, v.dedupWindow).Result()
		if err == nil {
			return !ok, nil
		}
		log.Printf("redis idempotency error, falling back to store: %v", err)
	}
	exists, err := v.repo.RecentExists(ctx, key, v.dedupWindow)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func idempotencyKey(signal *domain.Signal) string {
	var sb strings.Builder
	sb.WriteString(signal.Source)
	sb.WriteByte('|')
	sb.WriteString(signal.Config.Key())
	sb.WriteByte('|')
	sb.WriteString(string(signal.Kind))
	sb.WriteByte('|')
	fmt.Fprintf(&sb, "%.8f", signal.Price)
	if signal.TakeProfit != nil {
		fmt.Fprintf(&sb, "|tp=%.8f", *signal.TakeProfit)
	}
	if signal.StopLoss != nil {
		fmt.Fprintf(&sb, "|sl=%.8f", *signal.StopLoss)
	}
	if signal.BarTime != nil {
		fmt.Fprintf(&sb, "|bar=%d", signal.BarTime.Unix())
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
