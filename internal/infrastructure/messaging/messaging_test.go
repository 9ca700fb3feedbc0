package messaging

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
)

var at = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func syncBus() *InMemoryEventBus {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = false
	return NewInMemoryEventBus(cfg)
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()

	var levelUps, all []shared.Event
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(e shared.Event) error {
		levelUps = append(levelUps, e)
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e)
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewPointsAwardedEvent("anna", "lesson_attended", 50, 500, 1, at)))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("anna", 1, 2, at)))

	assert.Len(t, levelUps, 1)
	assert.Len(t, all, 2)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(3), snap.TotalHandlerExecs)
}

func TestInMemoryEventBus_HandlerFailureDoesNotReachPublisher(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("kaputt") }))

	err := bus.Publish(shared.NewLevelUpEvent("anna", 1, 2, at))
	assert.NoError(t, err)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.HandlerFailures)
	assert.Equal(t, 0.0, snap.HandlerSuccessRate)
}

func TestInMemoryEventBus_AsyncDeliversBeforeClose(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())

	var count atomic.Int64
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		count.Add(1)
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, bus.Publish(shared.NewPointsAwardedEvent("anna", "daily_login", 5, 5, 1, at)))
		}()
	}
	wg.Wait()
	require.NoError(t, bus.Close())

	assert.Equal(t, int64(25), count.Load())
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewLevelUpEvent("anna", 1, 2, at)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := syncBus()
	assert.ErrorIs(t, bus.Subscribe(shared.EventLevelUp, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
}

type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	got      []shared.Event
}

func (p *flakyPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return errors.New("redis down")
	}
	p.got = append(p.got, e)
	return nil
}

func TestBridge_ForwardsWithRetry(t *testing.T) {
	bus := syncBus()
	target := &flakyPublisher{failures: 1}
	bridge := NewBridge(target, BridgeConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})
	require.NoError(t, bridge.Attach(bus))

	require.NoError(t, bus.Publish(shared.NewBadgeUnlockedEvent("anna", "first-lesson", "Erste Stunde", 25, at)))

	assert.Equal(t, 2, target.calls)
	require.Len(t, target.got, 1)
	assert.Equal(t, shared.EventBadgeUnlocked, target.got[0].EventType())

	forwarded, dropped := bridge.Stats()
	assert.Equal(t, int64(1), forwarded)
	assert.Equal(t, int64(0), dropped)
}

func TestBridge_DropsAfterAttempts(t *testing.T) {
	target := &flakyPublisher{failures: 10}
	bridge := NewBridge(target, BridgeConfig{MaxAttempts: 2, InitialDelay: time.Millisecond})

	err := bridge.Handle(shared.NewLevelUpEvent("anna", 1, 2, at))
	assert.Error(t, err)
	assert.Equal(t, 2, target.calls)

	_, dropped := bridge.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestBridge_FilterSkipsRejectedEvents(t *testing.T) {
	target := &flakyPublisher{}
	bridge := NewBridge(target, BridgeConfig{
		MaxAttempts: 1,
		Filter:      func(e shared.Event) bool { return e.AggregateID() == "anna" },
	})

	require.NoError(t, bridge.Handle(shared.NewLevelUpEvent("anna", 1, 2, at)))
	require.NoError(t, bridge.Handle(shared.NewLevelUpEvent("bernd", 1, 2, at)))

	assert.Equal(t, 1, target.calls)
	forwarded, dropped := bridge.Stats()
	assert.Equal(t, int64(1), forwarded)
	assert.Equal(t, int64(0), dropped)
}
