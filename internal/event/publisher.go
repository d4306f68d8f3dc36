package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const exchangeName = "exam.events"

// Publisher emits exam lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev *ExamEvent) error
}

// EventPublisher publishes to a durable RabbitMQ topic exchange. With an
// empty URI it is disabled and every publish is a no-op.
type EventPublisher struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	enabled bool
	log     zerolog.Logger
}

// NewEventPublisher connects and declares the exchange.
func NewEventPublisher(rabbitURI string, log zerolog.Logger) (*EventPublisher, error) {
	log = log.With().Str("component", "event_publisher").Logger()
	if rabbitURI == "" {
		log.Warn().Msg("RabbitMQ URI is empty, event publishing is disabled")
		return &EventPublisher{enabled: false, log: log}, nil
	}

	conn, err := amqp091.Dial(rabbitURI)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	log.Info().Str("exchange", exchangeName).Msg("RabbitMQ connected")

	return &EventPublisher{
		conn:    conn,
		channel: channel,
		enabled: true,
		log:     log,
	}, nil
}

// Publish sends ev with its type as routing key.
func (p *EventPublisher) Publish(ctx context.Context, ev *ExamEvent) error {
	if !p.enabled {
		p.log.Debug().Str("type", string(ev.Type)).Msg("Event publishing disabled, skipping")
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(
		pubCtx,
		exchangeName,
		string(ev.Type),
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    ev.ID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	p.log.Debug().Str("type", string(ev.Type)).Str("session_id", ev.SessionID.String()).Msg("Published event")
	return nil
}

// Close releases the channel and connection.
func (p *EventPublisher) Close() error {
	if !p.enabled {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Warn().Err(err).Msg("Error closing RabbitMQ channel")
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("close RabbitMQ connection: %w", err)
		}
	}
	return nil
}
