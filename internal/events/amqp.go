package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/noah-isme/presale-api/internal/obs"
	"github.com/noah-isme/presale-api/internal/resilience"
)

// Publisher is the subset of *amqp.Channel used to publish events.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier forwards events to a topic exchange, keyed by event topic.
// A nil Breaker publishes unconditionally.
type AMQPNotifier struct {
	Publisher Publisher
	Exchange  string
	Breaker   *resilience.Breaker
}

// Notify implements Notifier.
func (n *AMQPNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Publisher == nil {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	err = n.Breaker.Execute(ctx, func(ctx context.Context) error {
		return n.Publisher.PublishWithContext(ctx, n.Exchange, event.Topic, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.OccurredAt,
			Type:         event.Topic,
			Headers:      amqp.Table{"store_id": event.StoreID},
			Body:         body,
		})
	})
	obs.ObserveEventPublish("amqp", err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Topic, err)
	}
	return nil
}

// Connection bundles a broker connection and the channel events are published on.
type Connection struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
}

// DialAMQP connects to the broker and declares the durable topic exchange.
func DialAMQP(url, exchange string) (*Connection, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("events: amqp url is empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("events: declare exchange %s: %w", exchange, err)
	}
	return &Connection{Conn: conn, Channel: ch}, nil
}

// Close releases the channel and connection.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}
	if c.Channel != nil {
		_ = c.Channel.Close()
	}
	if c.Conn != nil {
		return c.Conn.Close()
	}
	return nil
}
