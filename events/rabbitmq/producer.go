/*
Package rabbitmq publishes payout engine events to a RabbitMQ topic exchange.

PURPOSE:
  Downstream services (member notifications, GL reconciliation, reporting)
  subscribe to payout.*, charge.* and cycle.completed on the sacco.events
  exchange. Events are published after the unit of work that raised them has
  committed; delivery is best effort.

IMPLEMENTATIONS:
  EventProducer:         amqp091 connection with one channel, reopened once on failure
  EventProducerFallback: Logs instead of publishing, used when no broker is configured

SEE ALSO:
  - payout/events.go: Event payloads and routing keys
*/
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/warp/sacco-engine/payout"
)

// Publisher is the interface implemented by event publishers.
type Publisher interface {
	payout.EventPublisher
	Close()
}

// EventProducer holds the RabbitMQ connection and channel.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	declared map[string]bool
}

// EventProducerFallback is a no-op publisher used when RabbitMQ is unavailable.
type EventProducerFallback struct {
	Logger *slog.Logger
}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "event not published, no broker configured",
		"exchange", exchange, "routing_key", routingKey, "body", body)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer dials the broker and opens a channel.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	return &EventProducer{conn: conn, channel: ch, declared: make(map[string]bool)}, nil
}

// Publish sends body as JSON to exchange with routingKey. A closed channel is
// reopened and the publish retried once.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", routingKey, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publish(ctx, exchange, routingKey, payload)
	if err == nil || !errors.Is(err, amqp091.ErrClosed) {
		return err
	}
	if rerr := p.reopen(); rerr != nil {
		return fmt.Errorf("publish %s: %w (reopen: %v)", routingKey, err, rerr)
	}
	return p.publish(ctx, exchange, routingKey, payload)
}

func (p *EventProducer) publish(ctx context.Context, exchange, routingKey string, payload []byte) error {
	if p.channel == nil {
		return errors.New("rabbitmq channel not initialized")
	}

	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(
			exchange,
			"topic",
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return err
		}
		p.declared[exchange] = true
	}

	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Body:         payload,
		Timestamp:    time.Now(),
	})
}

func (p *EventProducer) reopen() error {
	if p.conn == nil || p.conn.IsClosed() {
		return amqp091.ErrClosed
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	p.declared = make(map[string]bool)
	return nil
}

// Close closes the RabbitMQ connection.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
