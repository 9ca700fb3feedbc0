package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

var _ progress.Repository = (*ProgressRepository)(nil)

const recordColumns = `learner_id, total_points, level, current_streak_days, best_streak_days,
	lessons_attended, exercises_completed, perfect_scores, last_activity_date, created_at, updated_at`

// streakCase computes the new current streak from the stored row and the
// activity day in EXCLUDED.last_activity_date.
const streakCase = `CASE
		WHEN progress_records.last_activity_date >= EXCLUDED.last_activity_date THEN progress_records.current_streak_days
		WHEN progress_records.last_activity_date = EXCLUDED.last_activity_date - 1 THEN progress_records.current_streak_days + 1
		ELSE 1
	END`

// applyAwardSQL upserts the record in one statement. Under concurrency the
// row lock taken by ON CONFLICT serialises awards for the same learner.
var applyAwardSQL = fmt.Sprintf(`
	INSERT INTO progress_records (
		learner_id, total_points, level, current_streak_days, best_streak_days,
		lessons_attended, exercises_completed, perfect_scores, last_activity_date, created_at, updated_at
	)
	VALUES ($1, $2::integer, $2::integer / %[1]d + 1, 1, 1, $3, $4, $5, $6::date, $7, $7)
	ON CONFLICT (learner_id) DO UPDATE SET
		total_points = progress_records.total_points + EXCLUDED.total_points,
		level = (progress_records.total_points + EXCLUDED.total_points) / %[1]d + 1,
		current_streak_days = %[2]s,
		best_streak_days = GREATEST(progress_records.best_streak_days, %[2]s),
		lessons_attended = progress_records.lessons_attended + EXCLUDED.lessons_attended,
		exercises_completed = progress_records.exercises_completed + EXCLUDED.exercises_completed,
		perfect_scores = progress_records.perfect_scores + EXCLUDED.perfect_scores,
		last_activity_date = GREATEST(progress_records.last_activity_date, EXCLUDED.last_activity_date),
		updated_at = EXCLUDED.updated_at
	RETURNING %[3]s
`, progress.PointsPerLevel, streakCase, recordColumns)

// ─────────────────────────────────────────────────────────────────────────────
// PROGRESS
// ─────────────────────────────────────────────────────────────────────────────

// GetProgress returns the record of a learner.
func (r *ProgressRepository) GetProgress(ctx context.Context, learnerID string) (*progress.Record, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+recordColumns+` FROM progress_records WHERE learner_id = $1`, learnerID)
	rec, err := scanRecord(row)
	if IsNoRows(err) {
		return nil, shared.ErrProgressNotFound
	}
	if err != nil {
		return nil, wrapError("get progress", err)
	}
	return rec, nil
}

// ApplyAward upserts the record and appends the history entry in one transaction.
func (r *ProgressRepository) ApplyAward(
	ctx context.Context,
	learnerID string,
	award progress.Award,
	today timeutil.CivilDate,
	entry progress.HistoryEntry,
) (*progress.Record, error) {
	var rec *progress.Record
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		var err error
		rec, err = applyAwardTx(ctx, tx, learnerID, award, today, entry)
		return err
	})
	if err != nil {
		return nil, wrapError("apply award", err)
	}
	return rec, nil
}

// applyAwardTx runs the upsert and the history insert inside tx.
func applyAwardTx(
	ctx context.Context,
	tx pgx.Tx,
	learnerID string,
	award progress.Award,
	today timeutil.CivilDate,
	entry progress.HistoryEntry,
) (*progress.Record, error) {
	d := award.Delta()
	rec, err := scanRecord(tx.QueryRow(ctx, applyAwardSQL,
		learnerID,
		d.Points,
		d.LessonsAttended,
		d.ExercisesCompleted,
		d.PerfectScores,
		today.String(),
		entry.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert progress: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO progress_history (id, learner_id, kind, amount, reason, badge_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		entry.ID,
		learnerID,
		string(entry.Kind),
		entry.Amount,
		entry.Reason,
		nullString(entry.BadgeID),
		entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}
	return rec, nil
}

// GetHistory returns award history, newest first. limit <= 0 means all.
func (r *ProgressRepository) GetHistory(ctx context.Context, learnerID string, limit int) ([]progress.HistoryEntry, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, learner_id, kind, amount, reason, COALESCE(badge_id, ''), created_at
		FROM progress_history
		WHERE learner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($2, 0)
	`, learnerID, max(limit, 0))
	if err != nil {
		return nil, wrapError("get history", err)
	}
	defer rows.Close()

	entries := make([]progress.HistoryEntry, 0)
	for rows.Next() {
		var e progress.HistoryEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.LearnerID, &kind, &e.Amount, &e.Reason, &e.BadgeID, &e.CreatedAt); err != nil {
			return nil, wrapError("scan history", err)
		}
		e.Kind = progress.EventKind(kind)
		entries = append(entries, e)
	}
	return entries, wrapError("get history", rows.Err())
}

// GetLeaderboard returns the top learners by points.
func (r *ProgressRepository) GetLeaderboard(ctx context.Context, limit int) ([]progress.LeaderboardEntry, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT learner_id, total_points, level, best_streak_days, created_at
		FROM progress_records
		ORDER BY total_points DESC, created_at ASC, learner_id ASC
		LIMIT NULLIF($1, 0)
	`, max(limit, 0))
	if err != nil {
		return nil, wrapError("get leaderboard", err)
	}
	defer rows.Close()

	entries := make([]progress.LeaderboardEntry, 0, max(limit, 0))
	for rows.Next() {
		var e progress.LeaderboardEntry
		if err := rows.Scan(&e.LearnerID, &e.TotalPoints, &e.Level, &e.BestStreakDays, &e.CreatedAt); err != nil {
			return nil, wrapError("scan leaderboard", err)
		}
		e.Rank = len(entries) + 1
		entries = append(entries, e)
	}
	return entries, wrapError("get leaderboard", rows.Err())
}

// ListStreaksAtRisk returns records whose last activity was yesterday.
func (r *ProgressRepository) ListStreaksAtRisk(ctx context.Context, yesterday timeutil.CivilDate) ([]*progress.Record, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+recordColumns+`
		FROM progress_records
		WHERE current_streak_days > 0 AND last_activity_date = $1::date
		ORDER BY learner_id
	`, yesterday.String())
	if err != nil {
		return nil, wrapError("list streaks at risk", err)
	}
	defer rows.Close()

	var out []*progress.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, wrapError("scan progress", err)
		}
		out = append(out, rec)
	}
	return out, wrapError("list streaks at risk", rows.Err())
}

// ─────────────────────────────────────────────────────────────────────────────
// BADGES
// ─────────────────────────────────────────────────────────────────────────────

// SaveBadgeDefinitions upserts definitions, keeping the given order.
func (r *ProgressRepository) SaveBadgeDefinitions(ctx context.Context, defs []progress.BadgeDefinition) error {
	if len(defs) == 0 {
		return nil
	}
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i, def := range defs {
			batch.Queue(`
				INSERT INTO badge_definitions (id, name, description, emoji, metric, threshold, reward, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name,
					description = EXCLUDED.description,
					emoji = EXCLUDED.emoji,
					metric = EXCLUDED.metric,
					threshold = EXCLUDED.threshold,
					reward = EXCLUDED.reward,
					position = EXCLUDED.position
			`, def.ID, def.Name, def.Description, def.Emoji, string(def.Metric), def.Threshold, def.Reward, i)
		}

		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		for range defs {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("upsert badge definition: %w", err)
			}
		}
		return nil
	})
	return wrapError("save badge definitions", err)
}

// GetBadgeDefinitions returns definitions in catalog order.
func (r *ProgressRepository) GetBadgeDefinitions(ctx context.Context) ([]progress.BadgeDefinition, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, name, description, emoji, metric, threshold, reward
		FROM badge_definitions
		ORDER BY position, id
	`)
	if err != nil {
		return nil, wrapError("get badge definitions", err)
	}
	defer rows.Close()

	var defs []progress.BadgeDefinition
	for rows.Next() {
		var d progress.BadgeDefinition
		var metric string
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.Emoji, &metric, &d.Threshold, &d.Reward); err != nil {
			return nil, wrapError("scan badge definition", err)
		}
		d.Metric = progress.Metric(metric)
		defs = append(defs, d)
	}
	return defs, wrapError("get badge definitions", rows.Err())
}

// GetUnlockedBadgeIDs returns the badge IDs a learner holds.
func (r *ProgressRepository) GetUnlockedBadgeIDs(ctx context.Context, learnerID string) (map[string]bool, error) {
	rows, err := r.conn.Query(ctx, `SELECT badge_id FROM badge_unlocks WHERE learner_id = $1`, learnerID)
	if err != nil {
		return nil, wrapError("get unlocked badges", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapError("scan unlocked badge", err)
		}
		out[id] = true
	}
	return out, wrapError("get unlocked badges", rows.Err())
}

// UnlockBadge stores the unlock and pays its reward in one transaction.
// The unique (learner_id, badge_id) constraint turns a second unlock into
// ErrDuplicateUnlock.
func (r *ProgressRepository) UnlockBadge(
	ctx context.Context,
	unlock progress.BadgeUnlock,
	reward progress.Award,
	today timeutil.CivilDate,
	entry progress.HistoryEntry,
) (*progress.Record, error) {
	var rec *progress.Record
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO badge_unlocks (id, learner_id, badge_id, unlocked_at)
			VALUES ($1, $2, $3, $4)
		`, unlock.ID, unlock.LearnerID, unlock.BadgeID, unlock.UnlockedAt)
		if IsUniqueViolation(err) {
			return shared.ErrDuplicateUnlock
		}
		if err != nil {
			return fmt.Errorf("insert badge unlock: %w", err)
		}
		if reward.Amount <= 0 {
			return nil
		}
		rec, err = applyAwardTx(ctx, tx, unlock.LearnerID, reward, today, entry)
		return err
	})
	if errors.Is(err, shared.ErrDuplicateUnlock) {
		return nil, shared.ErrDuplicateUnlock
	}
	if err != nil {
		return nil, wrapError("unlock badge", err)
	}
	return rec, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// HELPERS
// ─────────────────────────────────────────────────────────────────────────────

func scanRecord(row pgx.Row) (*progress.Record, error) {
	var rec progress.Record
	var lastActivity *time.Time
	err := row.Scan(
		&rec.LearnerID,
		&rec.TotalPoints,
		&rec.Level,
		&rec.CurrentStreakDays,
		&rec.BestStreakDays,
		&rec.LessonsAttended,
		&rec.ExercisesCompleted,
		&rec.PerfectScores,
		&lastActivity,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastActivity != nil {
		rec.LastActivityDate = timeutil.DateOf(*lastActivity)
	}
	return &rec, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
