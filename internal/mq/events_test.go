package mq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/secure-ingress-home/apiserver/config"
	"github.com/secure-ingress-home/apiserver/types"
)

type recordingTransport struct {
	envelopes []Envelope
}

func (t *recordingTransport) Publish(_ context.Context, env Envelope) error {
	t.envelopes = append(t.envelopes, env)
	return nil
}

func (t *recordingTransport) Subscribe(context.Context, string, Handler) error { return nil }

func (t *recordingTransport) Close() error { return nil }

func TestPublishAuthorizationEvent(t *testing.T) {
	transport := &recordingTransport{}
	bus := NewBus(transport)
	occurred := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	bus.now = func() time.Time { return occurred }

	auth := types.Authorization{
		ID:             uuid.New(),
		Number:         7,
		UserID:         uuid.New(),
		Type:           types.AuthorizationDelivery,
		Name:           "Amazon",
		ShipmentNumber: "3247",
		AccessCode:     4828,
		DateGenerated:  occurred,
		ExpirationTime: occurred.Add(2 * time.Hour),
	}
	if err := bus.PublishAuthorization(context.Background(), ChannelAuthorizationCreated, auth); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(transport.envelopes) != 1 {
		t.Fatalf("expected one envelope, got %d", len(transport.envelopes))
	}

	env := transport.envelopes[0]
	if env.Channel != ChannelAuthorizationCreated {
		t.Fatalf("unexpected channel %q", env.Channel)
	}
	if env.OrderingKey != auth.ID.String() {
		t.Fatalf("expected ordering key %s, got %q", auth.ID, env.OrderingKey)
	}
	if env.ContentType != contentTypeJSON || !env.OccurredAt.Equal(occurred) {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Attributes[attrEvent] != ChannelAuthorizationCreated || env.Attributes[attrAuthorizationID] != auth.ID.String() {
		t.Fatalf("unexpected attributes %v", env.Attributes)
	}

	event, err := DecodeAuthorizationEvent(Delivery{ID: env.ID, Data: env.Data})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.ID == "" || event.ID != env.ID {
		t.Fatalf("event id %q does not match envelope id %q", event.ID, env.ID)
	}
	if event.Event != ChannelAuthorizationCreated {
		t.Fatalf("unexpected event %q", event.Event)
	}
	if event.Authorization.ID != auth.ID || event.Authorization.AccessCode != 4828 {
		t.Fatalf("unexpected authorization %+v", event.Authorization)
	}
}

func TestPublishKeepsOneOrderingKeyPerAuthorization(t *testing.T) {
	transport := &recordingTransport{}
	bus := NewBus(transport)
	auth := types.Authorization{ID: uuid.New()}

	for _, channel := range AuthorizationChannels {
		if err := bus.PublishAuthorization(context.Background(), channel, auth); err != nil {
			t.Fatalf("publish %s: %v", channel, err)
		}
	}

	ids := make(map[string]bool)
	for i, env := range transport.envelopes {
		if env.Channel != AuthorizationChannels[i] {
			t.Fatalf("envelope %d on %q, want %q", i, env.Channel, AuthorizationChannels[i])
		}
		if env.OrderingKey != auth.ID.String() {
			t.Fatalf("envelope %d has ordering key %q", i, env.OrderingKey)
		}
		if ids[env.ID] {
			t.Fatalf("event id %q reused", env.ID)
		}
		ids[env.ID] = true
	}
}

func TestPublishRejectsUnknownChannel(t *testing.T) {
	transport := &recordingTransport{}
	err := NewBus(transport).PublishAuthorization(context.Background(), "authorizations.renamed", types.Authorization{ID: uuid.New()})
	if !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
	if len(transport.envelopes) != 0 {
		t.Fatalf("expected nothing published, got %d envelopes", len(transport.envelopes))
	}
}

func TestDecodeFallsBackToDeliveryID(t *testing.T) {
	data, _ := json.Marshal(map[string]string{"event": ChannelAuthorizationDeleted})
	event, err := DecodeAuthorizationEvent(Delivery{ID: "broker-42", Data: data})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.ID != "broker-42" {
		t.Fatalf("expected broker id, got %q", event.ID)
	}

	if _, err := DecodeAuthorizationEvent(Delivery{Data: []byte("not json")}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestWithAttributes(t *testing.T) {
	env := Envelope{
		ID:          "evt-1",
		ContentType: contentTypeJSON,
		Attributes:  map[string]string{attrEvent: ChannelAuthorizationCreated},
	}
	attrs := withAttributes(env)
	if attrs[attrEventID] != "evt-1" || attrs[attrContentType] != contentTypeJSON || attrs[attrEvent] != ChannelAuthorizationCreated {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	if _, ok := env.Attributes[attrEventID]; ok {
		t.Fatalf("envelope attributes were modified")
	}
}

func TestOpenWithoutBackend(t *testing.T) {
	bus, err := Open(context.Background(), config.EventsConfig{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if bus != nil {
		t.Fatalf("expected nil bus when no backend is configured")
	}

	if _, err := Open(context.Background(), config.EventsConfig{Backend: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}
}

type replayTransport struct {
	mu       sync.Mutex
	payloads map[string][][]byte
	failOn   string
}

func (t *replayTransport) Publish(context.Context, Envelope) error { return nil }

func (t *replayTransport) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if channel == t.failOn {
		return errors.New("subscription refused")
	}
	t.mu.Lock()
	payloads := t.payloads[channel]
	t.mu.Unlock()
	for _, data := range payloads {
		if err := handler(ctx, Delivery{Channel: channel, Data: data}); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (t *replayTransport) Close() error { return nil }

func TestSubscribeAuthorizations(t *testing.T) {
	event := func(channel string) []byte {
		data, _ := json.Marshal(AuthorizationEvent{ID: uuid.NewString(), Event: channel, Authorization: types.Authorization{ID: uuid.New()}})
		return data
	}
	transport := &replayTransport{payloads: map[string][][]byte{
		ChannelAuthorizationCreated:   {event(ChannelAuthorizationCreated), []byte("not json")},
		ChannelAuthorizationValidated: {event(ChannelAuthorizationValidated)},
		ChannelAuthorizationDeleted:   {event(ChannelAuthorizationDeleted)},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var (
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	done := make(chan error, 1)
	go func() {
		done <- NewBus(transport).SubscribeAuthorizations(ctx, func(_ context.Context, e AuthorizationEvent) error {
			mu.Lock()
			defer mu.Unlock()
			seen[e.Event]++
			if len(seen) == len(AuthorizationChannels) {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription did not stop after all events arrived")
	}
	for _, channel := range AuthorizationChannels {
		if seen[channel] != 1 {
			t.Fatalf("expected one %s event, got %d", channel, seen[channel])
		}
	}
}

func TestSubscribeAuthorizationsStopsOnFailure(t *testing.T) {
	transport := &replayTransport{failOn: ChannelAuthorizationDeleted}

	err := NewBus(transport).SubscribeAuthorizations(context.Background(), func(context.Context, AuthorizationEvent) error { return nil })
	if err == nil || err.Error() != "subscription refused" {
		t.Fatalf("expected subscription error, got %v", err)
	}
}
