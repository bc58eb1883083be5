package bot

import (
	"context"
	"errors"
	"testing"

	"tradewire/internal/domain"

	"go.opentelemetry.io/otel/trace"
	tele "gopkg.in/telebot.v3"
)

type stubAPI struct {
	err      error
	lastBody string
	lastTo   tele.Recipient
	lastOpts []interface{}
}

func (s *stubAPI) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	s.lastTo = to
	s.lastBody, _ = what.(string)
	s.lastOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return &tele.Message{}, nil
}

func newTestSender(api telegramAPI) *Sender {
	return &Sender{api: api, tracer: trace.NewNoopTracerProvider().Tracer("test")}
}

func TestSenderSend(t *testing.T) {
	t.Parallel()

	api := &stubAPI{}
	s := newTestSender(api)
	task := &domain.DeliveryTask{ChatID: 100, Body: "*BTCUSDT* trade opened", ParseMode: "Markdown"}

	if err := s.Send(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	if api.lastTo != tele.ChatID(100) {
		t.Errorf("sent to %v, want chat 100", api.lastTo)
	}
	if api.lastBody != task.Body {
		t.Errorf("body = %q", api.lastBody)
	}
	if len(api.lastOpts) != 1 {
		t.Fatalf("opts = %v", api.lastOpts)
	}
	opts, ok := api.lastOpts[0].(*tele.SendOptions)
	if !ok || opts.ParseMode != "Markdown" {
		t.Errorf("send options = %+v", api.lastOpts[0])
	}
}

func TestSenderClassifiesBlockedAsPermanent(t *testing.T) {
	t.Parallel()

	s := newTestSender(&stubAPI{err: tele.ErrBlockedByUser})
	err := s.Send(context.Background(), &domain.DeliveryTask{ChatID: 100, Body: "x"})
	if !errors.Is(err, domain.ErrChannelPermanent) {
		t.Errorf("blocked bot should be permanent, got %v", err)
	}
}

func TestSenderClassifiesFloodAsTransient(t *testing.T) {
	t.Parallel()

	flood := tele.FloodError{RetryAfter: 31}
	s := newTestSender(&stubAPI{err: flood})
	err := s.Send(context.Background(), &domain.DeliveryTask{ChatID: 100, Body: "x"})
	if !errors.Is(err, domain.ErrChannelTransient) {
		t.Errorf("flood control should be transient, got %v", err)
	}
}

func TestSenderClassifiesUnknownAsTransient(t *testing.T) {
	t.Parallel()

	s := newTestSender(&stubAPI{err: errors.New("connection reset")})
	err := s.Send(context.Background(), &domain.DeliveryTask{ChatID: 100, Body: "x"})
	if !errors.Is(err, domain.ErrChannelTransient) {
		t.Errorf("network error should be transient, got %v", err)
	}
}

func TestParseConfigArgs(t *testing.T) {
	t.Parallel()

	config, err := parseConfigArgs([]string{"btcusdt", "4H", "Trend-Follower"})
	if err != nil {
		t.Fatal(err)
	}
	if config.Symbol != "BTCUSDT" || config.Timeframe != "4h" || config.Strategy != "trend-follower" {
		t.Errorf("config = %+v", config)
	}

	config, err = parseConfigArgs(nil)
	if err != nil || config != nil {
		t.Errorf("no args should mean all configurations, got %v, %v", config, err)
	}

	if _, err := parseConfigArgs([]string{"BTCUSDT"}); err == nil {
		t.Error("partial configuration should be rejected")
	}
}

func TestValidClock(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"00:00", "22:00", "23:59"} {
		if !validClock(ok) {
			t.Errorf("%q should be valid", ok)
		}
	}
	for _, bad := range []string{"24:00", "9pm", "22", ""} {
		if validClock(bad) {
			t.Errorf("%q should be invalid", bad)
		}
	}
}
