// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
	"github.com/deutsch-portal/lernportal-hub/pkg/tracing"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD POINTS COMMAND
// Turns one learner activity into points, counters, streak updates and,
// through badge evaluation, secondary badge rewards.
// ══════════════════════════════════════════════════════════════════════════════

// AwardPointsCommand contains the data to award points for an activity.
type AwardPointsCommand struct {
	// LearnerID is the learner receiving the award.
	LearnerID string

	// EventKind is the raw activity kind, e.g. "lesson_attended".
	EventKind string

	// CorrelationID for tracing.
	CorrelationID string
}

// AwardPointsResult contains the outcome of an award.
type AwardPointsResult struct {
	// LearnerID is the learner the award was applied to.
	LearnerID string

	// Kind is the parsed activity kind.
	Kind progress.EventKind

	// Amount is the number of points of the primary award.
	Amount int

	// Record is the progress record after the award and any badge rewards.
	Record *progress.Record

	// PreviousLevel is the level before the primary award.
	PreviousLevel int

	// LeveledUp is true when Record.Level > PreviousLevel.
	LeveledUp bool

	// UnlockedBadges lists badges newly unlocked by this award.
	UnlockedBadges []progress.BadgeDefinition

	// Skipped is true when an unknown kind was ignored in lenient mode.
	Skipped bool

	// Events contains domain events generated.
	Events []shared.Event
}

// BadgeEvaluation is the outcome of EvaluateBadges.
type BadgeEvaluation struct {
	// Unlocked lists badges newly unlocked, in catalog order per round.
	Unlocked []progress.BadgeDefinition

	// Record is the record after the last badge reward, or nil if no
	// reward was applied.
	Record *progress.Record

	// Events contains domain events generated.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardPointsHandlerConfig contains configuration for the handler.
type AwardPointsHandlerConfig struct {
	// EvaluateBadges enables badge evaluation after each award.
	EvaluateBadges bool

	// StrictEventKinds makes unknown kinds an error instead of a no-op.
	StrictEventKinds bool

	// Features, when set, decides both switches per learner and takes
	// precedence over the fields above.
	Features LearnerFeatures
}

// LearnerFeatures answers feature questions for a single learner so
// partial rollouts apply per learner.
type LearnerFeatures interface {
	BadgeEvaluationFor(learnerID string) bool
	StrictEventKindsFor(learnerID string) bool
}

// DefaultAwardPointsHandlerConfig returns default configuration.
func DefaultAwardPointsHandlerConfig() AwardPointsHandlerConfig {
	return AwardPointsHandlerConfig{
		EvaluateBadges:   true,
		StrictEventKinds: true,
	}
}

// AwardPointsHandler handles the AwardPointsCommand.
type AwardPointsHandler struct {
	repo           progress.Repository
	clock          shared.Clock
	eventPublisher shared.EventPublisher
	cache          progress.LeaderboardCache
	log            *logger.Logger
	config         AwardPointsHandlerConfig
}

// NewAwardPointsHandler creates a new AwardPointsHandler.
// eventPublisher and cache may be nil.
func NewAwardPointsHandler(
	repo progress.Repository,
	clock shared.Clock,
	eventPublisher shared.EventPublisher,
	cache progress.LeaderboardCache,
	log *logger.Logger,
	config AwardPointsHandlerConfig,
) *AwardPointsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &AwardPointsHandler{
		repo:           repo,
		clock:          clock,
		eventPublisher: eventPublisher,
		cache:          cache,
		log:            log.With(logger.Component("award_points")),
		config:         config,
	}
}

// Handle executes the award points command.
func (h *AwardPointsHandler) Handle(ctx context.Context, cmd AwardPointsCommand) (*AwardPointsResult, error) {
	ctx, span := tracing.Start(ctx, "command.award_points",
		attribute.String("learner.id", cmd.LearnerID),
		attribute.String("event.kind", cmd.EventKind),
	)
	defer span.End()

	result, err := h.handle(ctx, cmd)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("points.amount", result.Amount),
		attribute.Bool("award.skipped", result.Skipped),
		attribute.Int("badges.unlocked", len(result.UnlockedBadges)),
	)
	return result, nil
}

func (h *AwardPointsHandler) handle(ctx context.Context, cmd AwardPointsCommand) (*AwardPointsResult, error) {
	learnerID, err := shared.NewLearnerID(cmd.LearnerID)
	if err != nil {
		return nil, err
	}

	kind, err := progress.ParseEventKind(cmd.EventKind)
	if err != nil {
		if h.strictEventKinds(learnerID.String()) {
			return nil, err
		}
		h.log.Warn("unknown event kind skipped",
			logger.LearnerID(learnerID.String()),
			logger.EventKind(cmd.EventKind),
		)
		return &AwardPointsResult{LearnerID: learnerID.String(), Skipped: true}, nil
	}

	award := progress.NewAward(kind)
	result := &AwardPointsResult{
		LearnerID: learnerID.String(),
		Kind:      kind,
		Amount:    award.Amount,
		Events:    make([]shared.Event, 0, 2),
	}

	rec, events, err := h.apply(ctx, learnerID.String(), award, cmd.CorrelationID)
	if err != nil {
		return nil, err
	}
	result.Events = append(result.Events, events...)
	result.PreviousLevel = progress.CalculateLevel(rec.TotalPoints - award.Amount)

	// Badge evaluation never fails the award.
	if h.evaluateBadges(learnerID.String()) {
		eval, err := h.evaluate(ctx, learnerID.String(), rec.Counters(), cmd.CorrelationID)
		if eval != nil {
			result.UnlockedBadges = eval.Unlocked
			result.Events = append(result.Events, eval.Events...)
			if eval.Record != nil {
				rec = eval.Record
			}
		}
		if err != nil {
			h.log.Error("badge evaluation failed",
				logger.LearnerID(learnerID.String()),
				logger.Err(err),
			)
		}
	}

	result.Record = rec
	result.LeveledUp = rec.Level > result.PreviousLevel

	h.publish(result.Events)

	h.log.Info("points awarded",
		logger.LearnerID(learnerID.String()),
		logger.EventKind(kind.String()),
		logger.Points(award.Amount),
		logger.Int("total_points", rec.TotalPoints),
		logger.Int("badges_unlocked", len(result.UnlockedBadges)),
	)

	return result, nil
}

func (h *AwardPointsHandler) strictEventKinds(learnerID string) bool {
	if h.config.Features != nil {
		return h.config.Features.StrictEventKindsFor(learnerID)
	}
	return h.config.StrictEventKinds
}

func (h *AwardPointsHandler) evaluateBadges(learnerID string) bool {
	if h.config.Features != nil {
		return h.config.Features.BadgeEvaluationFor(learnerID)
	}
	return h.config.EvaluateBadges
}

// EvaluateBadges checks every badge the learner does not hold yet against
// counters and unlocks the satisfied ones. Each unlock and its reward are
// stored together in one repository call, and the returned record's counters feed the
// next round, so badges that depend on rewards unlock in the same call.
func (h *AwardPointsHandler) EvaluateBadges(ctx context.Context, learnerID string, counters progress.Counters) (*BadgeEvaluation, error) {
	eval, err := h.evaluate(ctx, learnerID, counters, "")
	if eval != nil {
		h.publish(eval.Events)
	}
	return eval, err
}

func (h *AwardPointsHandler) evaluate(ctx context.Context, learnerID string, counters progress.Counters, correlationID string) (*BadgeEvaluation, error) {
	eval := &BadgeEvaluation{}

	defs, err := h.repo.GetBadgeDefinitions(ctx)
	if err != nil {
		return eval, fmt.Errorf("award_points: failed to get badge definitions: %w", err)
	}
	if len(defs) == 0 {
		return eval, nil
	}

	unlocked, err := h.repo.GetUnlockedBadgeIDs(ctx, learnerID)
	if err != nil {
		return eval, fmt.Errorf("award_points: failed to get unlocked badges: %w", err)
	}
	if unlocked == nil {
		unlocked = make(map[string]bool)
	}

	current := counters
	// Every productive round unlocks at least one badge.
	for round := 0; round <= len(defs); round++ {
		eligible := progress.EligibleBadges(defs, unlocked, current)
		if len(eligible) == 0 {
			break
		}

		for _, def := range eligible {
			unlocked[def.ID] = true

			reward := progress.BadgeAward(def)
			now := h.clock.Now()
			unlock := progress.BadgeUnlock{
				ID:         uuid.NewString(),
				LearnerID:  learnerID,
				BadgeID:    def.ID,
				UnlockedAt: now,
			}
			rec, err := h.repo.UnlockBadge(ctx, unlock, reward, h.clock.Today(), newHistoryEntry(learnerID, reward, now))
			if errors.Is(err, shared.ErrDuplicateUnlock) {
				// Granted by a concurrent evaluation.
				continue
			}
			if err != nil {
				return eval, fmt.Errorf("award_points: failed to unlock badge %s: %w", def.ID, err)
			}

			eval.Unlocked = append(eval.Unlocked, def)
			eval.Events = append(eval.Events, withCorrelation(
				shared.NewBadgeUnlockedEvent(learnerID, def.ID, def.Name, def.Reward, now), correlationID))

			if rec == nil {
				continue
			}
			eval.Events = append(eval.Events, h.applied(ctx, learnerID, reward, rec, now, correlationID)...)
			eval.Record = rec
			current = rec.Counters()
		}
	}

	return eval, nil
}

// apply persists one award and returns the updated record with its events.
func (h *AwardPointsHandler) apply(ctx context.Context, learnerID string, award progress.Award, correlationID string) (*progress.Record, []shared.Event, error) {
	now := h.clock.Now()
	rec, err := h.repo.ApplyAward(ctx, learnerID, award, h.clock.Today(), newHistoryEntry(learnerID, award, now))
	if err != nil {
		return nil, nil, fmt.Errorf("award_points: failed to apply %s: %w", award.Kind, err)
	}
	return rec, h.applied(ctx, learnerID, award, rec, now, correlationID), nil
}

// applied builds the events for a stored award and refreshes the cache.
func (h *AwardPointsHandler) applied(ctx context.Context, learnerID string, award progress.Award, rec *progress.Record, now time.Time, correlationID string) []shared.Event {
	events := []shared.Event{
		withCorrelation(shared.NewPointsAwardedEvent(learnerID, award.Kind.String(), award.Amount,
			rec.TotalPoints, rec.CurrentStreakDays, now), correlationID),
	}
	if prev := progress.CalculateLevel(rec.TotalPoints - award.Amount); rec.Level > prev {
		events = append(events, withCorrelation(shared.NewLevelUpEvent(learnerID, prev, rec.Level, now), correlationID))
	}

	if h.cache != nil {
		if err := h.cache.Upsert(ctx, progress.EntryFromRecord(rec)); err != nil {
			h.log.Warn("leaderboard cache update failed",
				logger.LearnerID(learnerID),
				logger.Err(err),
			)
		}
	}

	return events
}

func newHistoryEntry(learnerID string, award progress.Award, now time.Time) progress.HistoryEntry {
	return progress.HistoryEntry{
		ID:        uuid.NewString(),
		LearnerID: learnerID,
		Kind:      award.Kind,
		Amount:    award.Amount,
		Reason:    award.Reason,
		BadgeID:   award.BadgeID,
		CreatedAt: now,
	}
}

func (h *AwardPointsHandler) publish(events []shared.Event) {
	if h.eventPublisher == nil {
		return
	}
	for _, event := range events {
		if err := h.eventPublisher.Publish(event); err != nil {
			h.log.Warn("failed to publish event",
				logger.String("event_type", string(event.EventType())),
				logger.Err(err),
			)
		}
	}
}

// withCorrelation stamps a correlation id on the known event types.
func withCorrelation(event shared.Event, correlationID string) shared.Event {
	if correlationID == "" {
		return event
	}
	switch e := event.(type) {
	case shared.PointsAwardedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
		return e
	case shared.LevelUpEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
		return e
	case shared.BadgeUnlockedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
		return e
	}
	return event
}
