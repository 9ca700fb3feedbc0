package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each one represents something significant that
// happened to a learner's progress.
const (
	// Progress events
	EventPointsAwarded EventType = "progress.points_awarded"
	EventLevelUp       EventType = "progress.level_up"
	EventBadgeUnlocked EventType = "progress.badge_unlocked"
	EventStreakAtRisk  EventType = "progress.streak_at_risk"

	// Leaderboard events
	EventLeaderboardRebuilt EventType = "leaderboard.rebuilt"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped at occurredAt.
func NewBaseEvent(eventType EventType, aggregateID string, occurredAt time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   occurredAt,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// PointsAwardedEvent is emitted after every successful award, including
// the internal award that follows a badge unlock.
type PointsAwardedEvent struct {
	BaseEvent
	LearnerID   string `json:"learner_id"`
	Kind        string `json:"kind"`
	Amount      int    `json:"amount"`
	TotalPoints int    `json:"total_points"`
	Streak      int    `json:"streak"`
}

// Payload implements Event interface.
func (e PointsAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":   e.LearnerID,
		"kind":         e.Kind,
		"amount":       e.Amount,
		"total_points": e.TotalPoints,
		"streak":       e.Streak,
	}
}

// NewPointsAwardedEvent creates a new PointsAwardedEvent.
func NewPointsAwardedEvent(learnerID, kind string, amount, totalPoints, streak int, at time.Time) PointsAwardedEvent {
	return PointsAwardedEvent{
		BaseEvent:   NewBaseEvent(EventPointsAwarded, learnerID, at),
		LearnerID:   learnerID,
		Kind:        kind,
		Amount:      amount,
		TotalPoints: totalPoints,
		Streak:      streak,
	}
}

// LevelUpEvent is emitted when an award moves a learner to a higher level.
type LevelUpEvent struct {
	BaseEvent
	LearnerID string `json:"learner_id"`
	OldLevel  int    `json:"old_level"`
	NewLevel  int    `json:"new_level"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id": e.LearnerID,
		"old_level":  e.OldLevel,
		"new_level":  e.NewLevel,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(learnerID string, oldLevel, newLevel int, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, learnerID, at),
		LearnerID: learnerID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
	}
}

// BadgeUnlockedEvent is emitted once per learner and badge.
type BadgeUnlockedEvent struct {
	BaseEvent
	LearnerID string `json:"learner_id"`
	BadgeID   string `json:"badge_id"`
	BadgeName string `json:"badge_name"`
	Reward    int    `json:"reward"`
}

// Payload implements Event interface.
func (e BadgeUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id": e.LearnerID,
		"badge_id":   e.BadgeID,
		"badge_name": e.BadgeName,
		"reward":     e.Reward,
	}
}

// NewBadgeUnlockedEvent creates a new BadgeUnlockedEvent.
func NewBadgeUnlockedEvent(learnerID, badgeID, badgeName string, reward int, at time.Time) BadgeUnlockedEvent {
	return BadgeUnlockedEvent{
		BaseEvent: NewBaseEvent(EventBadgeUnlocked, learnerID, at),
		LearnerID: learnerID,
		BadgeID:   badgeID,
		BadgeName: badgeName,
		Reward:    reward,
	}
}

// StreakAtRiskEvent is emitted by the reminder job for learners who were
// active yesterday but not yet today.
type StreakAtRiskEvent struct {
	BaseEvent
	LearnerID     string `json:"learner_id"`
	CurrentStreak int    `json:"current_streak"`
	LastActivity  string `json:"last_activity"`
}

// Payload implements Event interface.
func (e StreakAtRiskEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":     e.LearnerID,
		"current_streak": e.CurrentStreak,
		"last_activity":  e.LastActivity,
	}
}

// NewStreakAtRiskEvent creates a new StreakAtRiskEvent.
func NewStreakAtRiskEvent(learnerID string, currentStreak int, lastActivity string, at time.Time) StreakAtRiskEvent {
	return StreakAtRiskEvent{
		BaseEvent:     NewBaseEvent(EventStreakAtRisk, learnerID, at),
		LearnerID:     learnerID,
		CurrentStreak: currentStreak,
		LastActivity:  lastActivity,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Leaderboard Events
// ═══════════════════════════════════════════════════════════════════════════

// LeaderboardRebuiltEvent is emitted when the cached leaderboard is refreshed.
type LeaderboardRebuiltEvent struct {
	BaseEvent
	Entries  int   `json:"entries"`
	Duration int64 `json:"duration_ms"`
}

// Payload implements Event interface.
func (e LeaderboardRebuiltEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"entries":     e.Entries,
		"duration_ms": e.Duration,
	}
}

// NewLeaderboardRebuiltEvent creates a new LeaderboardRebuiltEvent.
func NewLeaderboardRebuiltEvent(entries int, took time.Duration, at time.Time) LeaderboardRebuiltEvent {
	return LeaderboardRebuiltEvent{
		BaseEvent: NewBaseEvent(EventLeaderboardRebuilt, "leaderboard", at),
		Entries:   entries,
		Duration:  took.Milliseconds(),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope serialises event into an envelope with the given id.
func NewEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if b, ok := event.(interface{ Base() BaseEvent }); ok {
		env.Version = b.Base().Version
		env.CorrelationID = b.Base().CorrelationID
	}
	return env, nil
}

// Base exposes the embedded BaseEvent.
func (e BaseEvent) Base() BaseEvent {
	return e
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
