package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"tradewire/internal/domain"

	"go.opentelemetry.io/otel/trace"
	tele "gopkg.in/telebot.v3"
)

// SubscriptionStore is the slice of the subscription repository the bot
// commands need.
type SubscriptionStore interface {
	Subscribe(ctx context.Context, chatID int64, config *domain.Configuration) (*domain.Subscription, error)
	Unsubscribe(ctx context.Context, chatID int64, config *domain.Configuration) (int, error)
	ByChat(ctx context.Context, chatID int64) ([]*domain.Subscription, error)
	SetPaused(ctx context.Context, chatID int64, paused bool) (int, error)
	SetQuietHours(ctx context.Context, chatID int64, start, end string) error
}

// Bot serves the Telegram command surface: subscription management and
// status. Outbound notifications do not go through here; the dispatcher
// sends those via Sender.
type Bot struct {
	tb     *tele.Bot
	tracer trace.Tracer
	subs   SubscriptionStore
}

func New(token string, tracer trace.Tracer, subs SubscriptionStore) (*Bot, error) {
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	tb, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Bot{tb: tb, tracer: tracer, subs: subs}, nil
}

// Sender returns the dispatcher-facing sending half bound to the same bot.
func (b *Bot) Sender() *Sender {
	return &Sender{api: b.tb, tracer: b.tracer}
}

// Start registers the command handlers and begins long polling. It does not
// block.
func (b *Bot) Start() {
	b.tb.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})
	b.tb.Handle("/start", b.handleHelp)
	b.tb.Handle("/help", b.handleHelp)
	b.tb.Handle("/subscribe", b.handleSubscribe)
	b.tb.Handle("/unsubscribe", b.handleUnsubscribe)
	b.tb.Handle("/pause", b.handlePause)
	b.tb.Handle("/resume", b.handleResume)
	b.tb.Handle("/quiet", b.handleQuiet)
	b.tb.Handle("/status", b.handleStatus)

	log.Println("Telegram bot started")
	go b.tb.Start()
}

func (b *Bot) Stop() {
	b.tb.Stop()
}

func (b *Bot) handleHelp(c tele.Context) error {
	return c.Send(strings.Join([]string{
		"Commands:",
		"/subscribe [SYMBOL TIMEFRAME STRATEGY] - all configurations when omitted",
		"/unsubscribe [SYMBOL TIMEFRAME STRATEGY]",
		"/pause - keep subscriptions but stop notifications",
		"/resume",
		"/quiet HH:MM HH:MM - mute non-urgent alerts in this window",
		"/quiet off",
		"/status",
	}, "\n"))
}

func (b *Bot) handleSubscribe(c tele.Context) error {
	ctx, span := b.tracer.Start(context.Background(), "bot.subscribe")
	defer span.End()

	config, err := parseConfigArgs(c.Args())
	if err != nil {
		return c.Send("Usage: /subscribe BTCUSDT 4h trend-follower (or just /subscribe for everything)")
	}
	sub, err := b.subs.Subscribe(ctx, c.Chat().ID, config)
	if err != nil {
		log.Printf("bot: subscribe chat %d: %v", c.Chat().ID, err)
		return c.Send("Something went wrong, try again later.")
	}
	if sub.Config == nil {
		return c.Send("Subscribed to all configurations.")
	}
	return c.Send("Subscribed to " + sub.Config.String() + ".")
}

func (b *Bot) handleUnsubscribe(c tele.Context) error {
	ctx, span := b.tracer.Start(context.Background(), "bot.unsubscribe")
	defer span.End()

	config, err := parseConfigArgs(c.Args())
	if err != nil {
		return c.Send("Usage: /unsubscribe BTCUSDT 4h trend-follower (or just /unsubscribe for everything)")
	}
	removed, err := b.subs.Unsubscribe(ctx, c.Chat().ID, config)
	if err != nil {
		log.Printf("bot: unsubscribe chat %d: %v", c.Chat().ID, err)
		return c.Send("Something went wrong, try again later.")
	}
	if removed == 0 {
		return c.Send("No matching subscription found.")
	}
	return c.Send(fmt.Sprintf("Removed %d subscription(s).", removed))
}

func (b *Bot) handlePause(c tele.Context) error {
	return b.setPaused(c, true, "Notifications paused. /resume to turn them back on.")
}

func (b *Bot) handleResume(c tele.Context) error {
	return b.setPaused(c, false, "Notifications resumed.")
}

func (b *Bot) setPaused(c tele.Context, paused bool, reply string) error {
	ctx, span := b.tracer.Start(context.Background(), "bot.set-paused")
	defer span.End()

	updated, err := b.subs.SetPaused(ctx, c.Chat().ID, paused)
	if err != nil {
		log.Printf("bot: set paused for chat %d: %v", c.Chat().ID, err)
		return c.Send("Something went wrong, try again later.")
	}
	if updated == 0 {
		return c.Send("You have no subscriptions. /subscribe first.")
	}
	return c.Send(reply)
}

func (b *Bot) handleQuiet(c tele.Context) error {
	ctx, span := b.tracer.Start(context.Background(), "bot.quiet-hours")
	defer span.End()

	args := c.Args()
	switch {
	case len(args) == 1 && strings.EqualFold(args[0], "off"):
		if err := b.subs.SetQuietHours(ctx, c.Chat().ID, "", ""); err != nil {
			log.Printf("bot: clear quiet hours for chat %d: %v", c.Chat().ID, err)
			return c.Send("Something went wrong, try again later.")
		}
		return c.Send("Quiet hours cleared.")
	case len(args) == 2:
		start, end := args[0], args[1]
		if !validClock(start) || !validClock(end) {
			return c.Send("Times must be HH:MM, e.g. /quiet 22:00 07:00")
		}
		if err := b.subs.SetQuietHours(ctx, c.Chat().ID, start, end); err != nil {
			log.Printf("bot: set quiet hours for chat %d: %v", c.Chat().ID, err)
			return c.Send("Something went wrong, try again later.")
		}
		return c.Send(fmt.Sprintf("Quiet hours set: %s-%s. Stop-loss alerts still come through.", start, end))
	default:
		return c.Send("Usage: /quiet 22:00 07:00 or /quiet off")
	}
}

func (b *Bot) handleStatus(c tele.Context) error {
	ctx, span := b.tracer.Start(context.Background(), "bot.status")
	defer span.End()

	subs, err := b.subs.ByChat(ctx, c.Chat().ID)
	if err != nil {
		log.Printf("bot: status for chat %d: %v", c.Chat().ID, err)
		return c.Send("Something went wrong, try again later.")
	}
	if len(subs) == 0 {
		return c.Send("No subscriptions. /subscribe to get started.")
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You have %d subscription(s):\n", len(subs)))
	for _, s := range subs {
		scope := "all configurations"
		if s.Config != nil {
			scope = s.Config.String()
		}
		state := "active"
		if s.Paused {
			state = "paused"
		}
		sb.WriteString(fmt.Sprintf("- %s (%s)", scope, state))
		if s.QuietStart != "" && s.QuietEnd != "" {
			sb.WriteString(fmt.Sprintf(", quiet %s-%s", s.QuietStart, s.QuietEnd))
		}
		sb.WriteString("\n")
	}
	return c.Send(strings.TrimSpace(sb.String()))
}

// parseConfigArgs turns command arguments into a configuration scope. No
// arguments means all configurations (nil).
func parseConfigArgs(args []string) (*domain.Configuration, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 3:
		return &domain.Configuration{
			Symbol:    strings.ToUpper(args[0]),
			Timeframe: strings.ToLower(args[1]),
			Strategy:  strings.ToLower(args[2]),
		}, nil
	default:
		return nil, fmt.Errorf("expected 0 or 3 arguments, got %d", len(args))
	}
}

func validClock(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil
}
