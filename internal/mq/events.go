package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/secure-ingress-home/apiserver/types"
)

// Channels carrying authorization lifecycle events.
const (
	ChannelAuthorizationCreated   = "authorizations.created"
	ChannelAuthorizationValidated = "authorizations.validated"
	ChannelAuthorizationDeleted   = "authorizations.deleted"
)

const (
	attrContentType     = "content-type"
	attrEvent           = "event"
	attrEventID         = "event-id"
	attrAuthorizationID = "authorization-id"

	contentTypeJSON = "application/json"
)

// ErrUnknownChannel is returned for channels outside AuthorizationChannels.
var ErrUnknownChannel = errors.New("unknown authorization channel")

// AuthorizationChannels lists every lifecycle channel.
var AuthorizationChannels = []string{
	ChannelAuthorizationCreated,
	ChannelAuthorizationValidated,
	ChannelAuthorizationDeleted,
}

func validChannel(channel string) error {
	for _, known := range AuthorizationChannels {
		if channel == known {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
}

// AuthorizationEvent is the payload published for each lifecycle change.
type AuthorizationEvent struct {
	ID            string              `json:"id"`
	Event         string              `json:"event"`
	OccurredAt    time.Time           `json:"occurredAt"`
	Authorization types.Authorization `json:"authorization"`
}

// Bus publishes and consumes authorization events over a Transport. Events for
// the same authorization share an ordering key so brokers that support
// ordering keep created, validated and deleted in sequence.
type Bus struct {
	transport Transport
	now       func() time.Time
}

// NewBus wraps transport.
func NewBus(transport Transport) *Bus {
	return &Bus{
		transport: transport,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PublishAuthorization encodes auth as an event on channel.
func (b *Bus) PublishAuthorization(ctx context.Context, channel string, auth types.Authorization) error {
	if err := validChannel(channel); err != nil {
		return err
	}

	event := AuthorizationEvent{
		ID:            uuid.NewString(),
		Event:         channel,
		OccurredAt:    b.now(),
		Authorization: auth,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return b.transport.Publish(ctx, Envelope{
		ID:          event.ID,
		Channel:     channel,
		OrderingKey: auth.ID.String(),
		ContentType: contentTypeJSON,
		OccurredAt:  event.OccurredAt,
		Data:        payload,
		Attributes: map[string]string{
			attrEvent:           channel,
			attrAuthorizationID: auth.ID.String(),
		},
	})
}

// SubscribeAuthorizations consumes all lifecycle channels until ctx is done
// or one subscription fails. Deliveries that do not decode are skipped.
func (b *Bus) SubscribeAuthorizations(ctx context.Context, handle func(ctx context.Context, event AuthorizationEvent) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, channel := range AuthorizationChannels {
		wg.Add(1)
		go func(channel string) {
			defer wg.Done()
			err := b.transport.Subscribe(ctx, channel, func(ctx context.Context, d Delivery) error {
				event, err := DecodeAuthorizationEvent(d)
				if err != nil {
					return nil
				}
				return handle(ctx, event)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(channel)
	}
	wg.Wait()
	return firstErr
}

// Close closes the transport.
func (b *Bus) Close() error {
	return b.transport.Close()
}

// DecodeAuthorizationEvent parses a delivery produced by PublishAuthorization.
// The broker message id fills in the event id when the payload lacks one.
func DecodeAuthorizationEvent(d Delivery) (AuthorizationEvent, error) {
	var event AuthorizationEvent
	if err := json.Unmarshal(d.Data, &event); err != nil {
		return AuthorizationEvent{}, err
	}
	if event.ID == "" {
		event.ID = d.ID
	}
	return event, nil
}
