package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK REMINDER JOB
// ══════════════════════════════════════════════════════════════════════════════

// StreakReminderJob finds learners whose last activity was yesterday and
// publishes a StreakAtRisk event for each. Delivering the reminder is up to
// whoever subscribes.
type StreakReminderJob struct {
	repo      progress.Repository
	publisher shared.EventPublisher
	clock     shared.Clock
	log       *logger.Logger

	timeout   time.Duration
	lastCount atomic.Int64
}

// NewStreakReminderJob creates a new streak reminder job.
func NewStreakReminderJob(
	repo progress.Repository,
	publisher shared.EventPublisher,
	clock shared.Clock,
	log *logger.Logger,
) *StreakReminderJob {
	if log == nil {
		log = logger.Nop()
	}
	return &StreakReminderJob{
		repo:      repo,
		publisher: publisher,
		clock:     clock,
		log:       log.With(logger.Component("job"), logger.String("job", "streak_reminder")),
		timeout:   2 * time.Minute,
	}
}

// Name returns the job name.
func (j *StreakReminderJob) Name() string {
	return "streak_reminder"
}

// Description returns a human-readable description.
func (j *StreakReminderJob) Description() string {
	return "Announces learners who must be active today to keep their streak"
}

// Run executes the job.
func (j *StreakReminderJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	yesterday := j.clock.Today().AddDays(-1)
	records, err := j.repo.ListStreaksAtRisk(ctx, yesterday)
	if err != nil {
		return fmt.Errorf("list streaks at risk: %w", err)
	}

	published := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		event := shared.NewStreakAtRiskEvent(rec.LearnerID, rec.CurrentStreakDays, rec.LastActivityDate.String(), j.clock.Now())
		if err := j.publisher.Publish(event); err != nil {
			j.log.Warn("publish streak_at_risk failed", logger.LearnerID(rec.LearnerID), logger.Err(err))
			continue
		}
		published++
	}

	j.lastCount.Store(int64(published))
	j.log.Info("streak scan finished",
		logger.String("date", yesterday.String()),
		logger.Int("at_risk", len(records)),
		logger.Int("published", published),
	)
	return nil
}

// LastCount returns how many reminders the last run published.
func (j *StreakReminderJob) LastCount() int64 {
	return j.lastCount.Load()
}
