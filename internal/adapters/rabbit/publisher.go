package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticket-commerce/internal/domain"
)

const Exchange = "tro.events"

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	return &Publisher{ch: ch}, nil
}

// Publish routes the record by its event type and waits for the broker ack.
func (p *Publisher) Publish(ctx context.Context, rec domain.OutboxRecord) error {
	msg := amqp.Publishing{
		MessageId:    rec.DedupeKey,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    rec.CreatedAt,
		Type:         rec.EventType,
		Headers: amqp.Table{
			"aggregate_type": rec.AggregateType,
			"aggregate_id":   rec.AggregateID.String(),
		},
		Body: rec.Payload,
	}
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, Exchange, rec.EventType, false, false, msg)
	if err != nil {
		return errors.Wrapf(err, "publish %s", rec.EventType)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "confirm %s", rec.EventType)
	}
	if !acked {
		return errors.Newf("broker nacked %s %s", rec.EventType, rec.ID)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
