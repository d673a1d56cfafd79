// Package redisnotify relays committed gamification events between engine
// instances over Redis pub/sub.
package redisnotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "gamification.events"

var errMissingClient = errors.New("redis client required")

type envelope struct {
	Origin string             `json:"origin"`
	Event  gamification.Event `json:"event"`
}

// Publisher implements gamification.Publisher on a Redis channel.
type Publisher struct {
	client  *goredis.Client
	channel string
	origin  string
}

// NewPublisher tags every event with origin so the instance's own Forwarder skips it.
func NewPublisher(client *goredis.Client, channel string, origin string) (*Publisher, error) {
	if client == nil {
		return nil, errMissingClient
	}
	return &Publisher{client: client, channel: channelOrDefault(channel), origin: origin}, nil
}

// Publish sends event to the channel.
func (publisher *Publisher) Publish(ctx context.Context, event gamification.Event) error {
	payload, err := encode(publisher.origin, event)
	if err != nil {
		return err
	}
	if err := publisher.client.Publish(ctx, publisher.channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: redis publish: %v", gamification.ErrUnavailable, err)
	}
	return nil
}

// Forwarder hands events published by other instances to a local publisher,
// typically the in-process broker.
type Forwarder struct {
	client  *goredis.Client
	channel string
	origin  string
	target  gamification.Publisher
	logger  *zap.Logger
}

// NewForwarder returns a Forwarder delivering into target.
func NewForwarder(client *goredis.Client, channel string, origin string, target gamification.Publisher, logger *zap.Logger) (*Forwarder, error) {
	if client == nil {
		return nil, errMissingClient
	}
	if target == nil {
		return nil, errors.New("forward target required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{client: client, channel: channelOrDefault(channel), origin: origin, target: target, logger: logger}, nil
}

// Run subscribes and forwards until ctx ends.
func (forwarder *Forwarder) Run(ctx context.Context) error {
	subscription := forwarder.client.Subscribe(ctx, forwarder.channel)
	defer func() { _ = subscription.Close() }()
	if _, err := subscription.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	messages := subscription.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-messages:
			if !ok || message == nil {
				return nil
			}
			if err := forwarder.deliver(ctx, message.Payload); err != nil {
				forwarder.logger.Warn("redis event not forwarded", zap.String("channel", forwarder.channel), zap.Error(err))
			}
		}
	}
}

func (forwarder *Forwarder) deliver(ctx context.Context, payload string) error {
	origin, event, err := decode(payload)
	if err != nil {
		return err
	}
	if origin == forwarder.origin {
		return nil
	}
	return forwarder.target.Publish(ctx, event)
}

func encode(origin string, event gamification.Event) ([]byte, error) {
	payload, err := json.Marshal(envelope{Origin: origin, Event: event})
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return payload, nil
}

func decode(payload string) (string, gamification.Event, error) {
	var decoded envelope
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return "", gamification.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if decoded.Event.Key == "" {
		return "", gamification.Event{}, errors.New("decode event: missing key")
	}
	return decoded.Origin, decoded.Event, nil
}

func channelOrDefault(channel string) string {
	if trimmed := strings.TrimSpace(channel); trimmed != "" {
		return trimmed
	}
	return DefaultChannel
}
