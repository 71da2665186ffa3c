package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Notifier = (*AMQP)(nil)

// DefaultQueue is the durable queue events are published to.
const DefaultQueue = "keyfetch.events"

// AMQP publishes events as persistent JSON messages to a durable RabbitMQ
// queue through the default exchange. The connection is opened lazily and
// reopened after the broker drops it.
type AMQP struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQP creates an AMQP notifier. An empty queue means DefaultQueue.
func NewAMQP(url, queue string) *AMQP {
	if queue == "" {
		queue = DefaultQueue
	}
	return &AMQP{url: url, queue: queue}
}

// Send publishes e.
func (a *AMQP) Send(ctx context.Context, e model.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("amqp: marshal event: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ch, err := a.channel()
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(e.Kind),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", a.queue, false, false, pub); err != nil {
		a.reset()
		return fmt.Errorf("amqp: publish: %w", err)
	}
	return nil
}

// channel returns an open channel, dialing and declaring the queue when
// needed. Callers hold a.mu.
func (a *AMQP) channel() (*amqp.Channel, error) {
	if a.ch != nil && !a.ch.IsClosed() {
		return a.ch, nil
	}
	a.reset()

	conn, err := amqp.Dial(a.url)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(a.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp: declare queue %q: %w", a.queue, err)
	}

	a.conn, a.ch = conn, ch
	return ch, nil
}

func (a *AMQP) reset() {
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
	a.conn, a.ch = nil, nil
}

// Close releases the broker connection.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
	return nil
}
