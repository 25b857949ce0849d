package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/nats-io/nats.go"
)

// NatsPublisher publishes a StatusEvent per update on "<subject>.<status>".
type NatsPublisher struct {
	natsConnection *nats.Conn
	subject        string
}

// NewNatsPublisher creates a publisher rooted at subject, e.g. "lectures.status".
func NewNatsPublisher(natsConnection *nats.Conn, subject string) *NatsPublisher {
	return &NatsPublisher{natsConnection: natsConnection, subject: subject}
}

// NotifyStatus publishes the event and flushes so delivery errors surface here.
func (p *NatsPublisher) NotifyStatus(ctx context.Context, update core.StatusUpdate) error {
	data, err := json.Marshal(NewStatusEvent(update))
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	subject := p.subject + "." + string(update.Status)

	err = p.natsConnection.Publish(subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish status event to %s: %w", subject, err)
	}

	err = p.natsConnection.FlushWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to flush status event: %w", err)
	}

	return nil
}
