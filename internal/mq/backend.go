package mq

import (
	"context"
	"fmt"

	"github.com/secure-ingress-home/apiserver/config"
)

const (
	BackendRabbitMQ = "rabbitmq"
	BackendPubSub   = "pubsub"
	BackendNATS     = "nats"
)

// Open builds the bus named in cfg. It returns a nil Bus when no backend is
// configured.
func Open(ctx context.Context, cfg config.EventsConfig) (*Bus, error) {
	var (
		transport Transport
		err       error
	)
	switch cfg.Backend {
	case "":
		return nil, nil
	case BackendRabbitMQ:
		transport, err = NewRabbitMQTransport(cfg.RabbitMQ)
	case BackendPubSub:
		transport, err = NewPubSubTransport(ctx, cfg.PubSub)
	case BackendNATS:
		transport, err = NewNATSTransport(cfg.NATS)
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Backend, err)
	}
	return NewBus(transport), nil
}
