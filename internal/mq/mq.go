package mq

import (
	"context"
	"time"
)

// Envelope is an outgoing event as the transports see it. ID is the event id
// and doubles as the broker message id; OrderingKey groups events that must
// be delivered in publish order.
type Envelope struct {
	ID          string
	Channel     string
	OrderingKey string
	ContentType string
	OccurredAt  time.Time
	Data        []byte
	Attributes  map[string]string
}

// Delivery is an incoming event handed to a Handler.
type Delivery struct {
	ID         string
	Channel    string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a delivery. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, d Delivery) error

// Transport moves envelopes over one broker.
type Transport interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

func withAttributes(env Envelope) map[string]string {
	attrs := make(map[string]string, len(env.Attributes)+2)
	for key, value := range env.Attributes {
		attrs[key] = value
	}
	attrs[attrEventID] = env.ID
	if env.ContentType != "" {
		attrs[attrContentType] = env.ContentType
	}
	return attrs
}
