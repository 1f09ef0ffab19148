package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher is the producer-side contract. Satisfied by *Broker and by test fakes.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Delivery is one consumed message plus its ack/nack controls.
type Delivery struct {
	Body []byte
	ack  func() error
	nack func() error
}

// NewDelivery binds a payload to its broker acknowledgement callbacks.
func NewDelivery(body []byte, ack, nack func() error) Delivery {
	return Delivery{Body: body, ack: ack, nack: nack}
}

// Ack confirms successful persistence; the broker drops the message.
func (d *Delivery) Ack() error { return d.ack() }

// Nack returns the message for redelivery.
func (d *Delivery) Nack() error { return d.nack() }

// Broker wraps an AMQP connection with the rework_queue declared on a channel.
type Broker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  zerolog.Logger
}

// Connect dials the broker and declares the work queue. Delivery discipline
// is at-least-once: consumers ack manually after persistence.
func Connect(dsn string, logger zerolog.Logger) (*Broker, error) {
	conn, err := amqp.Dial(dsn)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := channel.QueueDeclare(QueueName, false, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare %s: %w", QueueName, err)
	}

	return &Broker{conn: conn, channel: channel, logger: logger}, nil
}

func (b *Broker) Close() error {
	return b.conn.Close()
}

// Publish sends one work item to the default exchange routed to rework_queue.
func (b *Broker) Publish(ctx context.Context, msg Message) error {
	return b.channel.PublishWithContext(ctx, "", QueueName, false, false, amqp.Publishing{
		ContentType: "application/octet-stream",
		Body:        msg.Encode(),
	})
}

// Purge drops every pending message. Used by the mass-recalc destructive reset;
// ordered before the DB deletes so a crash mid-reset never leaves orphans.
func (b *Broker) Purge() error {
	_, err := b.channel.QueuePurge(QueueName, false)
	return err
}

// Consume delivers messages one at a time until ctx is cancelled or the
// channel closes. Prefetch is 1: the processor is deliberately single-threaded
// to keep DB load predictable.
func (b *Broker) Consume(ctx context.Context, handle func(Delivery)) error {
	if err := b.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := b.channel.Consume(QueueName, "performance-service", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", QueueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consume %s: channel closed", QueueName)
			}
			handle(NewDelivery(d.Body,
				func() error { return d.Ack(false) },
				func() error { return d.Nack(false, true) }))
		}
	}
}
