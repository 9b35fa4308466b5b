package mq

import (
	"context"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/secure-ingress-home/apiserver/config"
)

// NATSTransport publishes on core NATS subjects named after the channel. Core
// NATS has no acknowledgements, so handler errors are dropped rather than
// redelivered.
type NATSTransport struct {
	conn       *nats.Conn
	queueGroup string
}

// NewNATSTransport connects to the NATS server from config.
func NewNATSTransport(cfg config.NATSConfig) (*NATSTransport, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("nats url is required")
	}

	conn, err := nats.Connect(cfg.URL, nats.Name("sih-events"))
	if err != nil {
		return nil, err
	}

	return &NATSTransport{
		conn:       conn,
		queueGroup: cfg.QueueGroup,
	}, nil
}

// Publish sends env on its subject, carrying the event id as Nats-Msg-Id.
func (n *NATSTransport) Publish(ctx context.Context, env Envelope) error {
	if err := validChannel(env.Channel); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := nats.NewMsg(env.Channel)
	msg.Data = env.Data
	for key, value := range withAttributes(env) {
		msg.Header.Set(key, value)
	}
	msg.Header.Set(nats.MsgIdHdr, env.ID)
	return n.conn.PublishMsg(msg)
}

// Subscribe consumes the subject until ctx is done.
func (n *NATSTransport) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if err := validChannel(channel); err != nil {
		return err
	}

	deliver := func(msg *nats.Msg) {
		attrs := make(map[string]string, len(msg.Header))
		for key := range msg.Header {
			attrs[key] = msg.Header.Get(key)
		}
		_ = handler(ctx, Delivery{
			ID:         msg.Header.Get(nats.MsgIdHdr),
			Channel:    msg.Subject,
			Data:       msg.Data,
			Attributes: attrs,
		})
	}

	var (
		sub *nats.Subscription
		err error
	)
	if n.queueGroup != "" {
		sub, err = n.conn.QueueSubscribe(channel, n.queueGroup, deliver)
	} else {
		sub, err = n.conn.Subscribe(channel, deliver)
	}
	if err != nil {
		return err
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	<-ctx.Done()
	return ctx.Err()
}

// Close drains and closes the connection.
func (n *NATSTransport) Close() error {
	return n.conn.Drain()
}
