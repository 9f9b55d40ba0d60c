package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher pushes serialized payment events onto the integration bus. The
// event id travels with the message so consumers can deduplicate redeliveries.
type Publisher interface {
	Publish(ctx context.Context, routingKey, eventID string, payload []byte) error
	Close() error
}

// RabbitPublisher publishes to a durable fanout exchange (payments.events).
// Downstream ERP services (invoicing, notifications) bind their own queues.
type RabbitPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &RabbitPublisher{conn: conn, exchange: exchange}, nil
}

// Publish sends one persistent message. A fresh channel per publish keeps a
// broker-side channel error from poisoning later sends.
func (p *RabbitPublisher) Publish(ctx context.Context, routingKey, eventID string, payload []byte) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		MessageId:    eventID,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}
	if err := ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	return p.conn.Close()
}
