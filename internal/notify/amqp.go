package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/book-expert/lecture-service/internal/core"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher sends a StatusEvent per update to a durable RabbitMQ queue.
type AMQPPublisher struct {
	channel Channel
	queue   string
}

// DialAMQP connects to RabbitMQ, declares the durable queue and returns a publisher
// together with the connection so the caller can close it.
func DialAMQP(amqpURL, queue string) (*AMQPPublisher, *amqp.Connection, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		return nil, nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	_, err = channel.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		_ = conn.Close()

		return nil, nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	return NewAMQPPublisher(channel, queue), conn, nil
}

// NewAMQPPublisher publishes on channel to queue through the default exchange.
func NewAMQPPublisher(channel Channel, queue string) *AMQPPublisher {
	return &AMQPPublisher{channel: channel, queue: queue}
}

// NotifyStatus publishes a persistent JSON message.
func (p *AMQPPublisher) NotifyStatus(ctx context.Context, update core.StatusUpdate) error {
	event := NewStatusEvent(update)

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    event.Header.EventID,
		Timestamp:    event.Header.Timestamp,
		Type:         string(update.Status),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish status event to queue %s: %w", p.queue, err)
	}

	return nil
}

// Close closes the channel.
func (p *AMQPPublisher) Close() error {
	return p.channel.Close()
}
