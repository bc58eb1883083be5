package bot

import (
	"context"
	"errors"
	"fmt"

	"tradewire/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tele "gopkg.in/telebot.v3"
)

// telegramAPI is the one method of *tele.Bot the sender uses.
type telegramAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Sender delivers queued notification tasks over Telegram. Errors are
// classified into the channel taxonomy so the dispatcher knows whether to
// retry or to deactivate the subscription.
type Sender struct {
	api    telegramAPI
	tracer trace.Tracer
}

func (s *Sender) Send(ctx context.Context, task *domain.DeliveryTask) error {
	_, span := s.tracer.Start(ctx, "telegram.send")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat_id", task.ChatID),
		attribute.String("event_kind", string(task.EventKind)),
	)

	opts := &tele.SendOptions{DisableWebPagePreview: true}
	if task.ParseMode != "" {
		opts.ParseMode = task.ParseMode
	}
	_, err := s.api.Send(tele.ChatID(task.ChatID), task.Body, opts)
	if err != nil {
		return classifySendError(err)
	}
	return nil
}

// classifySendError maps Telegram API failures onto the channel error
// taxonomy. A blocked bot or deleted chat never recovers; everything else,
// rate limiting included, is worth retrying.
func classifySendError(err error) error {
	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrNotStartedByUser):
		return fmt.Errorf("%w: %v", domain.ErrChannelPermanent, err)
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return fmt.Errorf("%w: flood control, retry after %ds", domain.ErrChannelTransient, flood.RetryAfter)
	}
	return fmt.Errorf("%w: %v", domain.ErrChannelTransient, err)
}
