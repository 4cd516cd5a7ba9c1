// Package events publishes conversation lifecycle events to a RabbitMQ
// topic exchange so downstream CRM services (dashboards, follow-up
// schedulers) can react without polling the database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/colmenacrm/colmena/internal/config"
)

// Routing keys for the events this service emits.
const (
	KeyMessageCreated = "chat.message.created"
	KeyMessageStatus  = "chat.message.status"
	KeyHandover       = "chat.handover"
)

const producer = "colmena"

// Meta identifies one event instance.
type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Producer      string    `json:"producer"`
	Time          time.Time `json:"time"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Envelope is the wire shape for every published event.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Publisher emits envelopes keyed by event type.
type Publisher interface {
	Publish(ctx context.Context, key string, data any) error
	Close() error
}

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger
}

// NewPublisher connects to RabbitMQ and declares the topic exchange.
// An empty URL disables publishing; callers get a publisher whose
// Publish is a no-op so the pipeline code never branches on it.
func NewPublisher(log *slog.Logger, cfg config.EventsConfig) (Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	logger := log.With(slog.String("service", "events"))
	if cfg.URL == "" {
		logger.Warn("no rabbitmq url configured, event publishing disabled")
		return noopPublisher{}, nil
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "colmena.events"
	}
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return &rmqPublisher{conn: conn, exchange: exchange, logger: logger}, nil
}

func (p *rmqPublisher) Publish(ctx context.Context, key string, data any) error {
	envelope := Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Type:     key,
			Producer: producer,
			Time:     time.Now().UTC(),
		},
		Data: data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    envelope.Meta.ID,
		Timestamp:    envelope.Meta.Time,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	p.logger.Debug("published event",
		slog.String("key", key),
		slog.String("exchange", p.exchange))
	return nil
}

func (p *rmqPublisher) Close() error {
	return p.conn.Close()
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) error { return nil }
func (noopPublisher) Close() error                               { return nil }
