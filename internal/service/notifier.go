package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// NotifyExchange is the topic exchange all booking events are published to.
// Routing keys follow "<scope>.<event>", e.g. "event.42.seats_changed" or
// "booking.7.confirmed", so consumers can bind per event, per booking or
// with wildcards.
const NotifyExchange = "booking.events"

// Notifier delivers domain events to interested parties. Delivery is best
// effort: callers treat a failed publish as a log line, never as a reason
// to fail the surrounding operation.
type Notifier interface {
	Publish(ctx context.Context, scope, event string, payload any) error
	Close() error
}

// AMQPNotifier publishes events to a RabbitMQ topic exchange. The
// connection is established lazily on first publish and re-established
// after broker failures, so a broker outage never blocks startup.
type AMQPNotifier struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPNotifier returns a notifier bound to the given broker URL. No
// connection is attempted until the first Publish call.
func NewAMQPNotifier(url string) *AMQPNotifier {
	return &AMQPNotifier{url: url}
}

// Publish marshals the payload as JSON and publishes it to the topic
// exchange with routing key "<scope>.<event>". Errors are logged and
// returned; the caller decides whether they matter.
func (n *AMQPNotifier) Publish(ctx context.Context, scope, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("notifier: marshal %s.%s failed: %v", scope, event, err)
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ch, err := n.channel()
	if err != nil {
		log.Printf("notifier: broker unavailable for %s.%s: %v", scope, event, err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, NotifyExchange, scope+"."+event, false, false, pub); err != nil {
		// Drop the broken channel so the next publish redials.
		n.teardown()
		log.Printf("notifier: publish %s.%s failed: %v", scope, event, err)
		return err
	}
	return nil
}

// channel returns the current channel, dialing and declaring the exchange
// if needed. Caller must hold the mutex.
func (n *AMQPNotifier) channel() (*amqp.Channel, error) {
	if n.ch != nil && !n.ch.IsClosed() {
		return n.ch, nil
	}
	n.teardown()

	conn, err := amqp.Dial(n.url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if err := ch.ExchangeDeclare(NotifyExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("exchange declare: %w", err)
	}
	n.conn, n.ch = conn, ch
	return ch, nil
}

// teardown closes any live connection. Caller must hold the mutex.
func (n *AMQPNotifier) teardown() {
	if n.ch != nil {
		_ = n.ch.Close()
		n.ch = nil
	}
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
}

// Close releases the broker connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.teardown()
	return nil
}

// NopNotifier discards all events. Used in tests and when no broker is
// configured.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, string, string, any) error { return nil }
func (NopNotifier) Close() error                                       { return nil }
