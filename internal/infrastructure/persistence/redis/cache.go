// Package redis implements the Redis side of the Lernportal hub: the hot
// leaderboard kept in a sorted set and the pub/sub mirror of ledger events.
//
// Key components:
//   - Cache: connection handling shared by the other components
//   - LeaderboardCache: sorted-set leaderboard rebuilt from the store
//   - Publisher: forwards domain events to a channel for realtime clients
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
	"github.com/deutsch-portal/lernportal-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// Host is the Redis server hostname.
	Host string

	// Port is the Redis server port.
	Port int

	// Password is the Redis authentication password (empty if no auth).
	Password string

	// DB is the Redis database number (0-15).
	DB int

	// PoolSize is the maximum number of socket connections.
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int

	// MaxRetries is the maximum number of retries before giving up.
	MaxRetries int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration

	// KeyPrefix namespaces every key and channel, e.g. "lernportal:".
	KeyPrefix string
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		KeyPrefix:    "lernportal:",
	}
}

// Addr returns the Redis address in "host:port" format.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheConnection is returned when Redis connection fails.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheSerialization is returned when serialization/deserialization fails.
	ErrCacheSerialization = errors.New("cache: serialization failed")
)

// ══════════════════════════════════════════════════════════════════════════════
// KEYS AND TTLs
// ══════════════════════════════════════════════════════════════════════════════

const (
	// PrefixLeaderboard is the prefix for leaderboard-related keys.
	PrefixLeaderboard = "leaderboard:"

	// PrefixPubSub is the prefix for pub/sub channels.
	PrefixPubSub = "pubsub:"

	// TTLLeaderboardCache must outlive the worker's rebuild interval,
	// otherwise reads fall back to the store between rebuilds.
	TTLLeaderboardCache = 15 * time.Minute
)

// Keys builds namespaced key names.
type Keys struct {
	prefix string
}

// NewKeys returns a key builder for prefix.
func NewKeys(prefix string) Keys {
	return Keys{prefix: prefix}
}

// LeaderboardPoints is the sorted set learner id -> total points.
func (k Keys) LeaderboardPoints(scope string) string {
	return k.prefix + PrefixLeaderboard + "points:" + scope
}

// LeaderboardInfo is the hash learner id -> entry JSON.
func (k Keys) LeaderboardInfo(scope string) string {
	return k.prefix + PrefixLeaderboard + "info:" + scope
}

// LeaderboardMeta marks a complete snapshot. Its absence means the cache
// is cold and must not be served.
func (k Keys) LeaderboardMeta(scope string) string {
	return k.prefix + PrefixLeaderboard + "meta:" + scope
}

// Channel is the pub/sub channel for a topic.
func (k Keys) Channel(topic string) string {
	return k.prefix + PrefixPubSub + topic
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Cache owns the Redis client used by LeaderboardCache and Publisher.
type Cache struct {
	client *redis.Client
	config Config
	keys   Keys
}

// NewCache connects to Redis, retrying the initial ping while the server
// is still starting.
func NewCache(ctx context.Context, cfg Config, log *logger.Logger) (*Cache, error) {
	if log == nil {
		log = logger.Nop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	})

	r := retry.StartupRetrier(func(attempt int, err error, delay time.Duration) {
		log.Warn("redis not ready, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
	})
	err := r.Do(ctx, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	log.Info("redis connected", logger.String("addr", cfg.Addr()), logger.Int("db", cfg.DB))
	return &Cache{client: client, config: cfg, keys: NewKeys(cfg.KeyPrefix)}, nil
}

// Client returns the underlying Redis client.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Keys returns the key builder bound to the configured prefix.
func (c *Cache) Keys() Keys {
	return c.keys
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
