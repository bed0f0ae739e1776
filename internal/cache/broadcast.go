package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Broadcaster carries invalidations between server instances that share
// one backend.
type Broadcaster interface {
	Publish(ctx context.Context, key Key) error
	// Listen calls fn for every invalidation published by another
	// instance. It blocks until ctx is done.
	Listen(ctx context.Context, fn func(Key)) error
}

type invalidationMessage struct {
	Instance      string `json:"instance"`
	Domain        string `json:"domain,omitempty"`
	Collection    string `json:"collection,omitempty"`
	Discriminator string `json:"discriminator,omitempty"`
}

// RedisBroadcaster publishes invalidations on a Redis pub/sub channel.
type RedisBroadcaster struct {
	client   *redis.Client
	channel  string
	instance string
	logger   zerolog.Logger
}

func NewRedisBroadcaster(client *redis.Client, channel string, logger zerolog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		client:   client,
		channel:  channel,
		instance: uuid.NewString(),
		logger:   logger.With().Str("component", "cache_broadcast").Logger(),
	}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, key Key) error {
	payload, err := b.encode(key)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	return nil
}

func (b *RedisBroadcaster) Listen(ctx context.Context, fn func(Key)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}
	b.logger.Info().Str("channel", b.channel).Msg("listening for invalidations")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			key, remote, err := b.decode(msg.Payload)
			if err != nil {
				b.logger.Warn().Err(err).Msg("malformed invalidation")
				continue
			}
			if remote {
				fn(key)
			}
		}
	}
}

func (b *RedisBroadcaster) encode(key Key) (string, error) {
	raw, err := json.Marshal(invalidationMessage{
		Instance:      b.instance,
		Domain:        key.Domain,
		Collection:    key.Collection,
		Discriminator: key.Discriminator,
	})
	if err != nil {
		return "", fmt.Errorf("encode invalidation: %w", err)
	}
	return string(raw), nil
}

// decode reports the key and whether the message came from another instance.
func (b *RedisBroadcaster) decode(payload string) (Key, bool, error) {
	var msg invalidationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return Key{}, false, fmt.Errorf("decode invalidation: %w", err)
	}
	key := Key{Domain: msg.Domain, Collection: msg.Collection, Discriminator: msg.Discriminator}
	return key, msg.Instance != b.instance, nil
}
