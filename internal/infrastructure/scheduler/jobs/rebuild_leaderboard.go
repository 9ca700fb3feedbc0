// Package jobs contains the scheduled jobs of the Lernportal worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// RebuildLeaderboardJob copies the top of the store's leaderboard into the
// cache. Per-award upserts keep the cache fresh between runs; the rebuild
// repairs drift and warms a cold cache.
type RebuildLeaderboardJob struct {
	repo      progress.Repository
	cache     progress.LeaderboardCache
	publisher shared.EventPublisher
	clock     shared.Clock
	log       *logger.Logger

	config RebuildLeaderboardConfig

	lastStats atomic.Pointer[RebuildStats]
}

// RebuildLeaderboardConfig contains configuration for the rebuild job.
type RebuildLeaderboardConfig struct {
	// Size is how many rows are cached. Reads beyond it fall back to the store.
	Size int

	// Timeout is the maximum duration for the rebuild operation.
	Timeout time.Duration
}

// DefaultRebuildLeaderboardConfig returns sensible defaults.
func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{
		Size:    1000,
		Timeout: time.Minute,
	}
}

// RebuildStats contains statistics from a rebuild run.
type RebuildStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Entries   int
}

// ErrCacheNotConfigured is returned when the job runs without a cache.
var ErrCacheNotConfigured = errors.New("leaderboard cache not configured")

// NewRebuildLeaderboardJob creates a new rebuild leaderboard job.
// publisher may be nil.
func NewRebuildLeaderboardJob(
	repo progress.Repository,
	cache progress.LeaderboardCache,
	publisher shared.EventPublisher,
	clock shared.Clock,
	log *logger.Logger,
	config RebuildLeaderboardConfig,
) *RebuildLeaderboardJob {
	if log == nil {
		log = logger.Nop()
	}
	if config.Size <= 0 {
		config.Size = DefaultRebuildLeaderboardConfig().Size
	}
	return &RebuildLeaderboardJob{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		clock:     clock,
		log:       log.With(logger.Component("job"), logger.String("job", "rebuild_leaderboard")),
		config:    config,
	}
}

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return "rebuild_leaderboard"
}

// Description returns a human-readable description.
func (j *RebuildLeaderboardJob) Description() string {
	return "Rebuilds the cached leaderboard from the progress store"
}

// Run executes the rebuild job.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	if j.cache == nil {
		return ErrCacheNotConfigured
	}
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	startedAt := j.clock.Now()
	began := time.Now()

	entries, err := j.repo.GetLeaderboard(ctx, j.config.Size)
	if err != nil {
		return fmt.Errorf("load leaderboard: %w", err)
	}
	if err := j.cache.Replace(ctx, entries); err != nil {
		return fmt.Errorf("replace cache: %w", err)
	}

	took := time.Since(began)
	j.lastStats.Store(&RebuildStats{StartedAt: startedAt, Duration: took, Entries: len(entries)})
	j.log.Info("leaderboard cache rebuilt", logger.Int("entries", len(entries)), logger.Latency(took))

	if j.publisher != nil {
		if err := j.publisher.Publish(shared.NewLeaderboardRebuiltEvent(len(entries), took, j.clock.Now())); err != nil {
			j.log.Warn("publish leaderboard_rebuilt failed", logger.Err(err))
		}
	}
	return nil
}

// LastStats returns the statistics of the last successful run, or nil.
func (j *RebuildLeaderboardJob) LastStats() *RebuildStats {
	return j.lastStats.Load()
}
