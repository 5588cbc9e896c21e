package kafka

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/ticket-commerce/internal/domain"
	"github.com/segmentio/kafka-go"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	producer Producer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return NewPublisherWithProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	})
}

func NewPublisherWithProducer(p Producer) *Publisher {
	return &Publisher{producer: p}
}

// Publish keys messages by aggregate so events of one order stay in one partition.
func (p *Publisher) Publish(ctx context.Context, rec domain.OutboxRecord) error {
	msg := kafka.Message{
		Key:   []byte(rec.AggregateID.String()),
		Value: rec.Payload,
		Time:  rec.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(rec.EventType)},
			{Key: "aggregate_type", Value: []byte(rec.AggregateType)},
			{Key: "dedupe_key", Value: []byte(rec.DedupeKey)},
		},
	}
	if err := p.producer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write %s to kafka", rec.EventType)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
