package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// envelope is the wire format published on the exchange.
type envelope struct {
	Event      Event   `json:"event"`
	Version    int     `json:"version"`
	OccurredAt string  `json:"occurred_at"`
	Data       Message `json:"data"`
}

// AMQPDispatcher publishes events as JSON on a topic exchange.
type AMQPDispatcher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	// amqp channels are not safe for concurrent publishing
	mu sync.Mutex
}

func NewAMQPDispatcher(url, exchange string) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPDispatcher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (d *AMQPDispatcher) Notify(ctx context.Context, event Event, msg Message) error {
	b, err := json.Marshal(envelope{
		Event:      event,
		Version:    1,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
		Data:       msg,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch.PublishWithContext(ctx, d.exchange, event.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%s:%s", event, msg.BookingID),
		Body:         b,
	})
}

func (d *AMQPDispatcher) Close() error {
	if d.ch != nil {
		_ = d.ch.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
