package messaging

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
	"github.com/deutsch-portal/lernportal-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// BRIDGE
// ══════════════════════════════════════════════════════════════════════════════

// Bridge forwards every event seen on a local bus to an external publisher
// such as the Redis pub/sub mirror. Failed forwards are retried and then
// dropped; realtime clients resync on the next event.
type Bridge struct {
	target  shared.EventPublisher
	filter  func(shared.Event) bool
	retrier *retry.Retrier
	log     *logger.Logger

	forwarded atomic.Int64
	dropped   atomic.Int64
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Logger       *logger.Logger

	// Filter, when set, forwards only events it accepts.
	Filter func(shared.Event) bool
}

// DefaultBridgeConfig returns sensible defaults.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond}
}

// NewBridge creates a bridge to target.
func NewBridge(target shared.EventPublisher, cfg BridgeConfig) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	log := cfg.Logger.With(logger.Component("event_bridge"))
	return &Bridge{
		target: target,
		filter: cfg.Filter,
		retrier: retry.New(
			retry.WithMaxAttempts(cfg.MaxAttempts),
			retry.WithInitialDelay(cfg.InitialDelay),
			retry.WithMaxDelay(time.Second),
			retry.WithRetryIf(func(error) bool { return true }),
		),
		log: log,
	}
}

// Attach subscribes the bridge to all events of bus.
func (b *Bridge) Attach(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(b.Handle)
}

// Handle implements shared.EventHandler.
func (b *Bridge) Handle(event shared.Event) error {
	if b.filter != nil && !b.filter(event) {
		return nil
	}
	err := b.retrier.Do(context.Background(), func(context.Context) error {
		return b.target.Publish(event)
	})
	if err != nil {
		b.dropped.Add(1)
		b.log.Warn("event forward failed",
			logger.String("event_type", string(event.EventType())),
			logger.String("aggregate_id", event.AggregateID()),
			logger.Err(err),
		)
		return err
	}
	b.forwarded.Add(1)
	return nil
}

// Stats returns how many events were forwarded and dropped.
func (b *Bridge) Stats() (forwarded, dropped int64) {
	return b.forwarded.Load(), b.dropped.Load()
}
