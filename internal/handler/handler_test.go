package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradewire/internal/dispatch"
	"tradewire/internal/domain"
	"tradewire/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubIngestor struct {
	result *service.IngestResult
	err    error
	source string
}

func (s *stubIngestor) IngestSignal(_ context.Context, _ []byte, _ string, source string) (*service.IngestResult, error) {
	s.source = source
	return s.result, s.err
}

type stubLedger struct {
	trades []*domain.Trade
	err    error
}

func (s *stubLedger) Snapshot(context.Context, domain.Configuration, int) ([]*domain.Trade, error) {
	return s.trades, s.err
}

type stubStats struct {
	stats *dispatch.Stats
}

func (s *stubStats) GetStats(context.Context, time.Duration) (*dispatch.Stats, error) {
	return s.stats, nil
}

type stubConditions struct {
	conditions   []*domain.AlertCondition
	inserted     *domain.AlertCondition
	paused       map[int64]bool
	setPausedErr error
}

func (s *stubConditions) List(context.Context) ([]*domain.AlertCondition, error) {
	return s.conditions, nil
}

func (s *stubConditions) Insert(_ context.Context, c *domain.AlertCondition) (*domain.AlertCondition, error) {
	s.inserted = c
	c.ID = 42
	return c, nil
}

func (s *stubConditions) SetPaused(_ context.Context, id int64, paused bool) error {
	if s.setPausedErr != nil {
		return s.setPausedErr
	}
	if s.paused == nil {
		s.paused = map[int64]bool{}
	}
	s.paused[id] = paused
	return nil
}

func newTestRouter(h *Handler) *gin.Engine {
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func newTestHandler(ingestor SignalIngestor, ledger LedgerReader, delivery DeliveryStatsReader, conditions ConditionAdmin, apiKey string) *Handler {
	return New(trace.NewNoopTracerProvider().Tracer("handler-test"), ingestor, ledger, delivery, conditions, apiKey)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	r := newTestRouter(newTestHandler(&stubIngestor{}, &stubLedger{}, &stubStats{}, &stubConditions{}, ""))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestIngestSignalAccepted(t *testing.T) {
	t.Parallel()

	ingestor := &stubIngestor{result: &service.IngestResult{TrackingID: "track-1"}}
	r := newTestRouter(newTestHandler(ingestor, &stubLedger{}, &stubStats{}, &stubConditions{}, ""))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/signal", bytes.NewBufferString(`{"symbol":"BTCUSDT"}`))
	req.Header.Set("X-Signature", "abc")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body service.IngestResult
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.TrackingID != "track-1" || body.Duplicate {
		t.Fatalf("unexpected payload: %+v", body)
	}
	if ingestor.source != "tradingview" {
		t.Errorf("source = %q, want the default feed tag", ingestor.source)
	}
}

func TestIngestSignalSourceOverride(t *testing.T) {
	t.Parallel()

	ingestor := &stubIngestor{result: &service.IngestResult{TrackingID: "track-1"}}
	r := newTestRouter(newTestHandler(ingestor, &stubLedger{}, &stubStats{}, &stubConditions{}, ""))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/signal?source=custom-feed", bytes.NewBufferString("{}"))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ingestor.source != "custom-feed" {
		t.Errorf("source = %q, want custom-feed", ingestor.source)
	}
}

func TestIngestSignalCapacityIs409(t *testing.T) {
	t.Parallel()

	ingestor := &stubIngestor{
		result: &service.IngestResult{TrackingID: "track-9"},
		err:    domain.ErrCapacityExceeded,
	}
	r := newTestRouter(newTestHandler(ingestor, &stubLedger{}, &stubStats{}, &stubConditions{}, ""))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook/signal", bytes.NewBufferString("{}")))

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "track-9") {
		t.Errorf("rejection should carry the tracking id: %s", w.Body.String())
	}
}

func TestIngestSignalBadSignatureIs401(t *testing.T) {
	t.Parallel()

	ingestor := &stubIngestor{err: domain.NewValidationError("signature", "signature mismatch")}
	r := newTestRouter(newTestHandler(ingestor, &stubLedger{}, &stubStats{}, &stubConditions{}, ""))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook/signal", bytes.NewBufferString("{}")))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestIngestSignalValidationErrorIs400(t *testing.T) {
	t.Parallel()

	ingestor := &stubIngestor{err: domain.NewValidationError("price", "must be positive")}
	r := newTestRouter(newTestHandler(ingestor, &stubLedger{}, &stubStats{}, &stubConditions{}, ""))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook/signal", bytes.NewBufferString("{}")))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "price") {
		t.Errorf("body should name the field: %s", w.Body.String())
	}
}

func TestIngestSignalInternalErrorIs500(t *testing.T) {
	t.Parallel()

	ingestor := &stubIngestor{err: errors.New("connection refused")}
	r := newTestRouter(newTestHandler(ingestor, &stubLedger{}, &stubStats{}, &stubConditions{}, ""))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook/signal", bytes.NewBufferString("{}")))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestGetTradesRequiresConfig(t *testing.T) {
	t.Parallel()

	r := newTestRouter(newTestHandler(&stubIngestor{}, &stubLedger{}, &stubStats{}, &stubConditions{}, ""))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/trades?symbol=BTCUSDT", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetTradesCountsOpen(t *testing.T) {
	t.Parallel()

	ledger := &stubLedger{trades: []*domain.Trade{
		{TradeNumber: 3, Status: domain.TradeOpen},
		{TradeNumber: 2, Status: domain.TradeClosed},
		{TradeNumber: 1, Status: domain.TradeReplaced},
	}}
	r := newTestRouter(newTestHandler(&stubIngestor{}, ledger, &stubStats{}, &stubConditions{}, ""))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/trades?symbol=BTCUSDT&timeframe=4h&strategy=trend-follower", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Open   int            `json:"open"`
		Trades []domain.Trade `json:"trades"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Open != 1 || len(body.Trades) != 3 {
		t.Fatalf("unexpected payload: open=%d trades=%d", body.Open, len(body.Trades))
	}
}

func TestGetDeliveryStats(t *testing.T) {
	t.Parallel()

	stats := &stubStats{stats: &dispatch.Stats{WindowSecs: 3600, Pending: 4, Sent: 10}}
	r := newTestRouter(newTestHandler(&stubIngestor{}, &stubLedger{}, stats, &stubConditions{}, ""))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/delivery/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body dispatch.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Pending != 4 || body.Sent != 10 {
		t.Fatalf("unexpected payload: %+v", body)
	}
}

func TestCreateConditionValidatesExpression(t *testing.T) {
	t.Parallel()

	conditions := &stubConditions{}
	r := newTestRouter(newTestHandler(&stubIngestor{}, &stubLedger{}, &stubStats{}, conditions, ""))

	payload := `{"name":"bad expr","config":{"symbol":"BTCUSDT","timeframe":"4h","strategy":"t"},"type":"custom","expression":"price >"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/conditions", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if conditions.inserted != nil {
		t.Error("invalid condition must not be stored")
	}
}

func TestCreateCondition(t *testing.T) {
	t.Parallel()

	conditions := &stubConditions{}
	r := newTestRouter(newTestHandler(&stubIngestor{}, &stubLedger{}, &stubStats{}, conditions, ""))

	payload := `{
		"name": "btc above 70k",
		"config": {"symbol": "BTCUSDT", "timeframe": "4h", "strategy": "trend-follower"},
		"type": "price",
		"operator": "gt",
		"threshold": 70000,
		"cooldown_secs": 300
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/conditions", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if conditions.inserted == nil {
		t.Fatal("condition not stored")
	}
	if conditions.inserted.Cooldown != 5*time.Minute {
		t.Errorf("cooldown = %v, want 5m", conditions.inserted.Cooldown)
	}
	if !conditions.inserted.Active {
		t.Error("new condition should start active")
	}
}

func TestPauseAndResumeCondition(t *testing.T) {
	t.Parallel()

	conditions := &stubConditions{}
	r := newTestRouter(newTestHandler(&stubIngestor{}, &stubLedger{}, &stubStats{}, conditions, ""))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/conditions/7/pause", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", w.Code)
	}
	if !conditions.paused[7] {
		t.Error("condition 7 should be paused")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/conditions/7/resume", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", w.Code)
	}
	if conditions.paused[7] {
		t.Error("condition 7 should be resumed")
	}
}

func TestPauseDisabledConditionIs409(t *testing.T) {
	t.Parallel()

	conditions := &stubConditions{setPausedErr: domain.ErrConditionDisabled}
	r := newTestRouter(newTestHandler(&stubIngestor{}, &stubLedger{}, &stubStats{}, conditions, ""))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/conditions/7/pause", nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAPIKeyAuth(t *testing.T) {
	t.Parallel()

	r := newTestRouter(newTestHandler(&stubIngestor{}, &stubLedger{}, &stubStats{}, &stubConditions{}, "secret"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/conditions", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: expected 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/conditions", nil)
	req.Header.Set("X-API-Key", "wrong")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("wrong key: expected 403, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/conditions", nil)
	req.Header.Set("X-API-Key", "secret")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid key: expected 200, got %d", w.Code)
	}
}
