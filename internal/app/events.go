package app

import (
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/internal/infrastructure/messaging"
	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
)

// EventBus is the process-local bus plus its optional Redis bridge.
type EventBus struct {
	*messaging.InMemoryEventBus

	// Bridge is nil unless realtime events are enabled and Redis is up.
	Bridge *messaging.Bridge
}

// NewEventBus creates the bus, logs every event at debug level and, when
// realtime events are on, mirrors events to Redis pub/sub.
func (i *Infrastructure) NewEventBus() (*EventBus, error) {
	cfg := messaging.DefaultInMemoryEventBusConfig()
	cfg.Logger = i.Log
	bus := &EventBus{InMemoryEventBus: messaging.NewInMemoryEventBus(cfg)}

	log := i.Log.With(logger.Component("events"))
	if err := bus.SubscribeAll(func(e shared.Event) error {
		log.Debug("domain event",
			logger.String("event_type", string(e.EventType())),
			logger.String("aggregate_id", e.AggregateID()),
		)
		return nil
	}); err != nil {
		return nil, err
	}

	if i.Publisher != nil && i.Config.Features.RealtimeEvents() {
		bridgeCfg := messaging.DefaultBridgeConfig()
		bridgeCfg.Logger = i.Log
		// Ledger events carry the learner id as aggregate id.
		bridgeCfg.Filter = func(e shared.Event) bool {
			return i.Config.Features.RealtimeEventsFor(e.AggregateID())
		}
		bus.Bridge = messaging.NewBridge(i.Publisher, bridgeCfg)
		if err := bus.Bridge.Attach(bus.InMemoryEventBus); err != nil {
			return nil, err
		}
		log.Info("realtime events enabled", logger.String("channel", i.Publisher.Channel()))
	}
	return bus, nil
}
