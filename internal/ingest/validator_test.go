package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"tradewire/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

const validBody = `{"symbol":"btcusdt","timeframe":"1h","strategy":"breakout","kind":"entry-long","price":42000.5,"take_profit":43000,"stop_loss":41500}`

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestValidateAcceptsWellFormedSignal(t *testing.T) {
	t.Parallel()

	repo := &mockSignalRepo{}
	v := NewValidator(testTracer, "", time.Minute, nil, repo)

	signal, err := v.Validate(context.Background(), []byte(validBody), "", "tradingview")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signal.Config.Symbol != "BTCUSDT" || signal.Config.Timeframe != "1h" || signal.Config.Strategy != "breakout" {
		t.Fatalf("unexpected configuration: %+v", signal.Config)
	}
	if signal.Kind != domain.SignalEntryLong || signal.Direction != domain.DirectionLong {
		t.Fatalf("unexpected kind/direction: %s/%s", signal.Kind, signal.Direction)
	}
	if signal.TrackingID == "" || signal.IdempotencyKey == "" {
		t.Fatal("expected tracking and idempotency identifiers")
	}
	if signal.TakeProfit == nil || *signal.TakeProfit != 43000 {
		t.Fatalf("take profit not parsed: %+v", signal.TakeProfit)
	}
	if repo.insertCalls != 1 {
		t.Fatalf("expected signal to be persisted, got %d inserts", repo.insertCalls)
	}
}

func TestValidateSignature(t *testing.T) {
	t.Parallel()

	body := []byte(validBody)
	v := NewValidator(testTracer, "topsecret", time.Minute, nil, &mockSignalRepo{})

	if _, err := v.Validate(context.Background(), body, "", "tv"); err == nil {
		t.Fatal("expected error for missing signature")
	}
	if _, err := v.Validate(context.Background(), body, "deadbeef", "tv"); err == nil {
		t.Fatal("expected error for wrong signature")
	}

	var verr *domain.ValidationError
	_, err := v.Validate(context.Background(), body, sign("othersecret", body), "tv")
	if !errors.As(err, &verr) || verr.Field != "signature" {
		t.Fatalf("expected signature validation error, got %v", err)
	}

	if _, err := v.Validate(context.Background(), body, sign("topsecret", body), "tv"); err != nil {
		t.Fatalf("expected valid signature to pass, got %v", err)
	}
	// "sha256=" prefix is accepted too
	if _, err := v.Validate(context.Background(), body, "sha256="+sign("topsecret", body), "tv"); err != nil {
		t.Fatalf("expected prefixed signature to pass, got %v", err)
	}
}

func TestValidateRejectsMalformedPayloads(t *testing.T) {
	t.Parallel()

	v := NewValidator(testTracer, "", time.Minute, nil, &mockSignalRepo{})

	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"not json", `{"symbol":`, ""},
		{"missing symbol", `{"timeframe":"1h","strategy":"s","kind":"entry-long","price":1}`, "symbol"},
		{"missing timeframe", `{"symbol":"BTC","strategy":"s","kind":"entry-long","price":1}`, "timeframe"},
		{"missing strategy", `{"symbol":"BTC","timeframe":"1h","kind":"entry-long","price":1}`, "strategy"},
		{"bad kind", `{"symbol":"BTC","timeframe":"1h","strategy":"s","kind":"entry-up","price":1}`, "kind"},
		{"zero price", `{"symbol":"BTC","timeframe":"1h","strategy":"s","kind":"entry-long","price":0}`, "price"},
		{"bad direction", `{"symbol":"BTC","timeframe":"1h","strategy":"s","kind":"stop-loss-hit","price":1,"direction":"up"}`, "direction"},
		{"contradicting direction", `{"symbol":"BTC","timeframe":"1h","strategy":"s","kind":"entry-long","price":1,"direction":"short"}`, "direction"},
	}

	for _, tc := range cases {
		_, err := v.Validate(context.Background(), []byte(tc.body), "", "tv")
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
		if verr.Field != tc.field {
			t.Fatalf("%s: expected field %q, got %q", tc.name, tc.field, verr.Field)
		}
	}
}

func TestValidateMarksDuplicatesWithinWindow(t *testing.T) {
	t.Parallel()

	repo := &mockSignalRepo{}
	rdb := newFakeRedis()
	v := NewValidator(testTracer, "", time.Minute, rdb, repo)

	first, err := v.Validate(context.Background(), []byte(validBody), "", "tv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Duplicate {
		t.Fatal("first delivery flagged duplicate")
	}

	second, err := v.Validate(context.Background(), []byte(validBody), "", "tv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("replayed delivery not flagged duplicate")
	}
	if second.IdempotencyKey != first.IdempotencyKey {
		t.Fatal("same payload produced different idempotency keys")
	}
	if repo.insertCalls != 2 {
		t.Fatalf("duplicate marker should still be persisted, got %d inserts", repo.insertCalls)
	}
}

func TestValidateFallsBackToStoreWithoutRedis(t *testing.T) {
	t.Parallel()

	repo := &mockSignalRepo{recentExists: true}
	v := NewValidator(testTracer, "", time.Minute, nil, repo)

	signal, err := v.Validate(context.Background(), []byte(validBody), "", "tv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !signal.Duplicate {
		t.Fatal("expected store-backed duplicate detection")
	}
	if repo.recentExistsCalls != 1 {
		t.Fatalf("expected RecentExists to be consulted, got %d calls", repo.recentExistsCalls)
	}
}

func TestIdempotencyKeyDependsOnPayload(t *testing.T) {
	t.Parallel()

	repo := &mockSignalRepo{}
	v := NewValidator(testTracer, "", time.Minute, nil, repo)

	a, _ := v.Validate(context.Background(), []byte(validBody), "", "tv")
	b, _ := v.Validate(context.Background(), []byte(`{"symbol":"BTCUSDT","timeframe":"1h","strategy":"breakout","kind":"entry-long","price":42001}`), "", "tv")
	c, _ := v.Validate(context.Background(), []byte(validBody), "", "other-source")

	if a.IdempotencyKey == b.IdempotencyKey {
		t.Fatal("different prices must produce different keys")
	}
	if a.IdempotencyKey == c.IdempotencyKey {
		t.Fatal("different sources must produce different keys")
	}
}

type mockSignalRepo struct {
	insertCalls       int
	insertErr         error
	recentExists      bool
	recentExistsCalls int
	lastInserted      *domain.Signal
}

func (m *mockSignalRepo) Insert(ctx context.Context, signal *domain.Signal) (*domain.Signal, error) {
	m.insertCalls++
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	signal.ID = int64(m.insertCalls)
	m.lastInserted = signal
	return signal, nil
}

func (m *mockSignalRepo) RecentExists(ctx context.Context, key string, window time.Duration) (bool, error) {
	m.recentExistsCalls++
	return m.recentExists, nil
}

type fakeRedis struct {
	data map[string]struct{}
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]struct{})}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = struct{}{}
	return redis.NewBoolResult(true, nil)
}
