package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/h7-ecom/api/internal/services"
)

const defaultAckTimeout = 2 * time.Second

// PubSubOrderEventPublisher publishes committed order lifecycle events to a Pub/Sub topic.
type PubSubOrderEventPublisher struct {
	topic      *pubsub.Topic
	marshal    func(any) ([]byte, error)
	ackTimeout time.Duration
}

// PublisherOption customises the publisher.
type PublisherOption func(*PubSubOrderEventPublisher)

// WithAckTimeout bounds how long PublishOrderEvent waits for the server acknowledgement.
func WithAckTimeout(timeout time.Duration) PublisherOption {
	return func(p *PubSubOrderEventPublisher) {
		if timeout > 0 {
			p.ackTimeout = timeout
		}
	}
}

// orderEventMessage is the JSON payload consumers receive.
type orderEventMessage struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	UserID         string    `json:"userId,omitempty"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	ActorID        string    `json:"actorId,omitempty"`
	InvoiceNumber  string    `json:"invoiceNumber,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic, opts ...PublisherOption) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	p := &PubSubOrderEventPublisher{topic: topic, marshal: json.Marshal, ackTimeout: defaultAckTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// PublishOrderEvent blocks until the server acknowledges the message, the ack timeout passes or
// ctx ends.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}

	data, err := p.marshal(orderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		UserID:         event.UserID,
		Status:         string(event.Status),
		PreviousStatus: string(event.PreviousStatus),
		ActorID:        event.ActorID,
		InvoiceNumber:  event.InvoiceNumber,
		OccurredAt:     event.OccurredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string, 3)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", string(event.Status))

	ctx, cancel := context.WithTimeout(ctx, p.ackTimeout)
	defer cancel()
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Stop flushes pending messages. Call it during shutdown.
func (p *PubSubOrderEventPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
