package mq

import (
	"context"
	"errors"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/secure-ingress-home/apiserver/config"
	"google.golang.org/api/option"
)

// PubSubTransport publishes each channel to a topic of the same name with
// message ordering enabled, so events sharing an ordering key arrive in order.
type PubSubTransport struct {
	client             *pubsub.Client
	subscriptionSuffix string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPubSubTransport constructs a Pub/Sub transport from config.
func NewPubSubTransport(ctx context.Context, cfg config.PubSubConfig) (*PubSubTransport, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	return &PubSubTransport{
		client:             client,
		subscriptionSuffix: cfg.SubscriptionSuffix,
		topics:             make(map[string]*pubsub.Topic),
	}, nil
}

// Publish sends env to its channel's topic and waits for the server ack.
func (p *PubSubTransport) Publish(ctx context.Context, env Envelope) error {
	topic, err := p.topic(ctx, env.Channel)
	if err != nil {
		return err
	}

	result := topic.Publish(ctx, &pubsub.Message{
		Data:        env.Data,
		Attributes:  withAttributes(env),
		OrderingKey: env.OrderingKey,
	})
	if _, err := result.Get(ctx); err != nil {
		// A failed ordered publish pauses the key until resumed.
		if env.OrderingKey != "" {
			topic.ResumePublish(env.OrderingKey)
		}
		return err
	}
	return nil
}

// Subscribe receives from the channel's ordered subscription until ctx is done.
func (p *PubSubTransport) Subscribe(ctx context.Context, channel string, handler Handler) error {
	topic, err := p.topic(ctx, channel)
	if err != nil {
		return err
	}

	name := channel + p.subscriptionSuffix
	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		sub, err = p.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{
			Topic:                 topic,
			EnableMessageOrdering: true,
		})
		if err != nil {
			return err
		}
	}

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		id := msg.Attributes[attrEventID]
		if id == "" {
			id = msg.ID
		}
		if err := handler(ctx, Delivery{
			ID:         id,
			Channel:    channel,
			Data:       msg.Data,
			Attributes: msg.Attributes,
		}); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close flushes pending publishes and closes the client.
func (p *PubSubTransport) Close() error {
	p.mu.Lock()
	for _, topic := range p.topics {
		topic.Stop()
	}
	p.topics = map[string]*pubsub.Topic{}
	p.mu.Unlock()
	return p.client.Close()
}

func (p *PubSubTransport) topic(ctx context.Context, channel string) (*pubsub.Topic, error) {
	if err := validChannel(channel); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if topic, ok := p.topics[channel]; ok {
		return topic, nil
	}

	topic := p.client.Topic(channel)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		if topic, err = p.client.CreateTopic(ctx, channel); err != nil {
			return nil, err
		}
	}
	topic.EnableMessageOrdering = true
	p.topics[channel] = topic
	return topic, nil
}
