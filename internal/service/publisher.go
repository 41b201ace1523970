// Package service holds integrations with external systems. Publisher
// sends booking notifications to RabbitMQ.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/cinema-seat-hold/internal/queue"
)

// Publisher implements booking.Notifier over AMQP. It dials per message,
// which keeps it free of connection state between the rare bookings.
type Publisher struct {
	url string
	log *slog.Logger
	// dial is swapped in tests.
	dial func(url string) (amqpConn, error)
}

type amqpConn interface {
	Channel() (*amqp.Channel, error)
	Close() error
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		url: url,
		log: logger.With("component", "amqp-publisher"),
		dial: func(url string) (amqpConn, error) {
			return amqp.Dial(url)
		},
	}
}

// BookingConfirmed publishes ev to the durable booking.confirmed queue as a
// persistent JSON message.
func (p *Publisher) BookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		queue.BookingConfirmedQueue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = ch.PublishWithContext(ctx, "", queue.BookingConfirmedQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    fmt.Sprintf("booking-%d", ev.BookingID),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	p.log.Debug("booking notification published", "booking_id", ev.BookingID)
	return nil
}
