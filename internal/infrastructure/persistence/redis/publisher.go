package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
)

// TopicEvents is the channel topic for ledger events.
const TopicEvents = "events"

const defaultPublishTimeout = 2 * time.Second

// publishClient is the part of the Redis client the publisher needs.
type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher mirrors domain events to a Redis channel as JSON envelopes.
// It implements shared.EventPublisher.
type Publisher struct {
	client  publishClient
	channel string
	timeout time.Duration
	newID   func() string
}

// NewPublisher creates a publisher on the events channel of cache.
func NewPublisher(cache *Cache) *Publisher {
	return newPublisher(cache.Client(), cache.Keys().Channel(TopicEvents))
}

func newPublisher(client publishClient, channel string) *Publisher {
	return &Publisher{
		client:  client,
		channel: channel,
		timeout: defaultPublishTimeout,
		newID:   uuid.NewString,
	}
}

// Channel returns the channel name events are published to.
func (p *Publisher) Channel() string {
	return p.channel
}

// Publish implements shared.EventPublisher.
func (p *Publisher) Publish(event shared.Event) error {
	env, err := shared.NewEnvelope(p.newID(), event)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.client.Publish(ctx, p.channel, data).Err()
}
