package rabbit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/mixcrate/dj-booking-core/internal/notify"
	amqp "github.com/rabbitmq/amqp091-go"
)

const exchange = "djb.events"

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	return p.ch.PublishWithContext(ctx, exchange, key, false, false, msg)
}

// Bus adapts the publisher to the notify.Bus interface: one event, routed by
// its kind.
type Bus struct {
	pub *Publisher
}

func NewBus(pub *Publisher) *Bus {
	return &Bus{pub: pub}
}

func (b *Bus) Publish(ctx context.Context, e notify.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.pub.Publish(ctx, "notify."+e.Kind, amqp.Publishing{
		MessageId:   uuid.New().String(),
		ContentType: "application/json",
		Body:        body,
	})
}
