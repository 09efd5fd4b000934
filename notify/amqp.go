// Package notify holds the notification transports the membership engine
// dispatches through.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"

	membership "github.com/bohemiyan/orgmembership"
)

// channel is the part of *amqp.Channel the dispatcher publishes through.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPDispatcher publishes notifications to a RabbitMQ exchange, one
// routing key per notification kind: "<RoutingKey>.<kind>".
type AMQPDispatcher struct {
	conn       *amqp.Connection
	mu         sync.Mutex
	ch         channel
	Exchange   string
	RoutingKey string
}

// NewAMQPDispatcher dials url and declares a durable topic exchange with a
// queue bound to every notification kind.
func NewAMQPDispatcher(url, exchange, queue, routingKey string) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, multierr.Combine(fmt.Errorf("failed to declare exchange: %w", err), conn.Close())
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, multierr.Combine(fmt.Errorf("failed to declare queue: %w", err), conn.Close())
	}
	if err := ch.QueueBind(queue, routingKey+".*", exchange, false, nil); err != nil {
		return nil, multierr.Combine(fmt.Errorf("failed to bind queue: %w", err), conn.Close())
	}

	d := newAMQPDispatcher(ch, exchange, routingKey)
	d.conn = conn
	return d, nil
}

func newAMQPDispatcher(ch channel, exchange, routingKey string) *AMQPDispatcher {
	return &AMQPDispatcher{ch: ch, Exchange: exchange, RoutingKey: routingKey}
}

// Send publishes n as a persistent JSON message. Channels are not safe for
// concurrent publishing, so sends are serialized.
func (d *AMQPDispatcher) Send(ctx context.Context, n membership.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch.PublishWithContext(ctx,
		d.Exchange,
		d.RoutingKey+"."+string(n.Kind),
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			DeliveryMode: amqp.Persistent,
		},
	)
}

// Close closes the channel and the connection.
func (d *AMQPDispatcher) Close() error {
	err := d.ch.Close()
	if d.conn != nil {
		err = multierr.Append(err, d.conn.Close())
	}
	return err
}
