package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/secure-ingress-home/apiserver/config"
)

// RabbitMQTransport publishes events to a topic exchange, routed by channel
// name. Each subscribed channel gets a queue bound to its routing key.
type RabbitMQTransport struct {
	conn            *amqp.Connection
	exchange        string
	queueDurable    bool
	queueAutoDelete bool
	prefetchCount   int

	// amqp channels are not safe for concurrent publishes.
	mu  sync.Mutex
	pub *amqp.Channel
}

// NewRabbitMQTransport dials RabbitMQ and declares the events exchange.
func NewRabbitMQTransport(cfg config.RabbitMQConfig) (*RabbitMQTransport, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if strings.TrimSpace(cfg.Exchange) == "" {
		return nil, errors.New("rabbitmq exchange is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := pub.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &RabbitMQTransport{
		conn:            conn,
		exchange:        cfg.Exchange,
		queueDurable:    cfg.QueueDurable,
		queueAutoDelete: cfg.QueueAutoDelete,
		prefetchCount:   cfg.PrefetchCount,
		pub:             pub,
	}, nil
}

// Publish routes env to the exchange as a persistent message.
func (r *RabbitMQTransport) Publish(ctx context.Context, env Envelope) error {
	if err := validChannel(env.Channel); err != nil {
		return err
	}

	headers := amqp.Table{}
	for key, value := range withAttributes(env) {
		headers[key] = value
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pub.PublishWithContext(ctx, r.exchange, env.Channel, false, false, amqp.Publishing{
		ContentType:   env.ContentType,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.ID,
		CorrelationId: env.OrderingKey,
		Timestamp:     env.OccurredAt,
		Type:          env.Channel,
		Headers:       headers,
		Body:          env.Data,
	})
}

// Subscribe consumes the channel's queue on a dedicated amqp channel until ctx
// is done.
func (r *RabbitMQTransport) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if err := validChannel(channel); err != nil {
		return err
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if r.prefetchCount > 0 {
		if err := ch.Qos(r.prefetchCount, 0, false); err != nil {
			return err
		}
	}
	queue, err := ch.QueueDeclare(channel, r.queueDurable, r.queueAutoDelete, false, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(queue.Name, channel, r.exchange, false, nil); err != nil {
		return err
	}

	deliveries, err := ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return errors.New("rabbitmq delivery channel closed")
			}
			err := handler(ctx, Delivery{
				ID:         delivery.MessageId,
				Channel:    delivery.RoutingKey,
				Data:       delivery.Body,
				Attributes: headersToAttributes(delivery.Headers),
			})
			if err != nil {
				_ = delivery.Nack(false, true)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

// Close closes the publish channel and the connection.
func (r *RabbitMQTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.pub.Close()
	return r.conn.Close()
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	return attrs
}
