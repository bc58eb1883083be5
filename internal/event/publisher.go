package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"tradewire/internal/domain"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTopic carries every trigger event; consumers filter on the kind
// header.
const DefaultTopic = "tradewire.trigger-events"

// Publisher pushes trigger events onto the external stream. Publishing is
// best-effort from the pipeline's point of view: a broker outage must never
// block trade bookkeeping or notifications.
type Publisher interface {
	Publish(ctx context.Context, event *domain.TriggerEvent) error
	Close() error
}

// NewPublisher returns a Kafka-backed publisher, or the log-only fallback
// when no brokers are configured.
func NewPublisher(tracer trace.Tracer, brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		log.Println("event: no Kafka brokers configured, trigger events will only be logged")
		return &logPublisher{}
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafkaPublisher{
		tracer: tracer,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
			Async:        false,
		},
	}
}

type kafkaPublisher struct {
	tracer trace.Tracer
	writer *kafka.Writer
}

func (p *kafkaPublisher) Publish(ctx context.Context, event *domain.TriggerEvent) error {
	ctx, span := p.tracer.Start(ctx, "event-publisher.publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("kind", string(event.Kind)),
		attribute.String("config", event.Config.Key()),
	)

	msg, err := newMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Kind, err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

// newMessage keys by configuration so one configuration's events stay ordered
// within a partition.
func newMessage(event *domain.TriggerEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s event: %w", event.Kind, err)
	}
	return kafka.Message{
		Key:   []byte(event.Config.Key()),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind)},
		},
	}, nil
}

type logPublisher struct{}

func (logPublisher) Publish(_ context.Context, event *domain.TriggerEvent) error {
	log.Printf("event: %s for %s", event.Kind, event.Config.Key())
	return nil
}

func (logPublisher) Close() error { return nil }
