// Package gormstore implements the progress repository and the lesson source
// on GORM. It runs on SQLite for local development and tests, and on
// PostgreSQL through the GORM postgres dialect.
package gormstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/session"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	pgstore "github.com/deutsch-portal/lernportal-hub/internal/infrastructure/persistence/postgres"
	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the dialect and connection string.
type Config struct {
	Driver string
	DSN    string

	// SlowQuery is the threshold above which queries are logged as warnings.
	SlowQuery time.Duration
}

// Store implements progress.Repository and session.LessonSource.
type Store struct {
	db *gorm.DB
}

var (
	_ progress.Repository  = (*Store)(nil)
	_ session.LessonSource = (*Store)(nil)
)

// Open connects, migrates the schema and returns a Store.
func Open(cfg Config, log *logger.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(cfg.DSN)
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("gormstore: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(log, cfg.SlowQuery),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver != DriverPostgres {
		// SQLite allows a single writer; one connection avoids SQLITE_BUSY
		// and keeps an in-memory database alive.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("gormstore: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("gormstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping checks the underlying connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// GetProgress implements progress.Repository.
func (s *Store) GetProgress(ctx context.Context, learnerID string) (*progress.Record, error) {
	var row ProgressRecord
	err := s.db.WithContext(ctx).First(&row, "learner_id = ?", learnerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrProgressNotFound
	}
	if err != nil {
		return nil, wrapError("get progress", err)
	}
	return row.toDomain(), nil
}

// streakExpr evaluates the new current streak against the stored row.
// Args: today, yesterday.
const streakExpr = `CASE
	WHEN last_activity_date >= ? THEN current_streak_days
	WHEN last_activity_date = ? THEN current_streak_days + 1
	ELSE 1
END`

// ApplyAward implements progress.Repository. The record is created on first
// use and then updated with relative expressions inside one transaction,
// so concurrent awards add up instead of overwriting each other.
func (s *Store) ApplyAward(ctx context.Context, learnerID string, award progress.Award, today timeutil.CivilDate, entry progress.HistoryEntry) (*progress.Record, error) {
	var out *progress.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = applyAwardTx(tx, learnerID, award, today, entry)
		return err
	})
	if err != nil {
		return nil, wrapError("apply award", err)
	}
	return out, nil
}

func applyAwardTx(tx *gorm.DB, learnerID string, award progress.Award, today timeutil.CivilDate, entry progress.HistoryEntry) (*progress.Record, error) {
	d := award.Delta()
	day := today.String()
	yesterday := today.AddDays(-1).String()

	seed := ProgressRecord{
		LearnerID: learnerID,
		Level:     1,
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.CreatedAt,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("create progress: %w", err)
	}

	updates := map[string]interface{}{
		"total_points":        gorm.Expr("total_points + ?", d.Points),
		"level":               gorm.Expr("(total_points + ?) / ? + 1", d.Points, progress.PointsPerLevel),
		"current_streak_days": gorm.Expr(streakExpr, day, yesterday),
		"best_streak_days": gorm.Expr(
			"CASE WHEN best_streak_days > ("+streakExpr+") THEN best_streak_days ELSE ("+streakExpr+") END",
			day, yesterday, day, yesterday),
		"lessons_attended":    gorm.Expr("lessons_attended + ?", d.LessonsAttended),
		"exercises_completed": gorm.Expr("exercises_completed + ?", d.ExercisesCompleted),
		"perfect_scores":      gorm.Expr("perfect_scores + ?", d.PerfectScores),
		"last_activity_date":  gorm.Expr("CASE WHEN last_activity_date > ? THEN last_activity_date ELSE ? END", day, day),
		"updated_at":          entry.CreatedAt,
	}
	if err := tx.Model(&ProgressRecord{}).Where("learner_id = ?", learnerID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update progress: %w", err)
	}

	history := HistoryEntry{
		ID:        entry.ID,
		LearnerID: learnerID,
		Kind:      string(entry.Kind),
		Amount:    entry.Amount,
		Reason:    entry.Reason,
		BadgeID:   entry.BadgeID,
		CreatedAt: entry.CreatedAt,
	}
	if err := tx.Create(&history).Error; err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}

	var out ProgressRecord
	if err := tx.First(&out, "learner_id = ?", learnerID).Error; err != nil {
		return nil, err
	}
	return out.toDomain(), nil
}

// GetHistory implements progress.Repository.
func (s *Store) GetHistory(ctx context.Context, learnerID string, limit int) ([]progress.HistoryEntry, error) {
	q := s.db.WithContext(ctx).
		Where("learner_id = ?", learnerID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []HistoryEntry
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrapError("get history", err)
	}

	out := make([]progress.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// GetLeaderboard implements progress.Repository.
func (s *Store) GetLeaderboard(ctx context.Context, limit int) ([]progress.LeaderboardEntry, error) {
	q := s.db.WithContext(ctx).
		Order("total_points DESC").
		Order("created_at ASC").
		Order("learner_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []ProgressRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrapError("get leaderboard", err)
	}

	out := make([]progress.LeaderboardEntry, 0, len(rows))
	for i, r := range rows {
		e := progress.EntryFromRecord(r.toDomain())
		e.Rank = i + 1
		out = append(out, e)
	}
	return out, nil
}

// ListStreaksAtRisk implements progress.Repository.
func (s *Store) ListStreaksAtRisk(ctx context.Context, yesterday timeutil.CivilDate) ([]*progress.Record, error) {
	var rows []ProgressRecord
	err := s.db.WithContext(ctx).
		Where("current_streak_days > 0 AND last_activity_date = ?", yesterday.String()).
		Order("learner_id").
		Find(&rows).Error
	if err != nil {
		return nil, wrapError("list streaks at risk", err)
	}

	out := make([]*progress.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGES
// ══════════════════════════════════════════════════════════════════════════════

// SaveBadgeDefinitions implements progress.Repository.
func (s *Store) SaveBadgeDefinitions(ctx context.Context, defs []progress.BadgeDefinition) error {
	if len(defs) == 0 {
		return nil
	}
	rows := make([]BadgeDefinition, 0, len(defs))
	for i, d := range defs {
		rows = append(rows, BadgeDefinition{
			ID:          d.ID,
			Name:        d.Name,
			Description: d.Description,
			Emoji:       d.Emoji,
			Metric:      string(d.Metric),
			Threshold:   d.Threshold,
			Reward:      d.Reward,
			Position:    i,
		})
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "emoji", "metric", "threshold", "reward", "position"}),
	}).Create(&rows).Error
	return wrapError("save badge definitions", err)
}

// GetBadgeDefinitions implements progress.Repository.
func (s *Store) GetBadgeDefinitions(ctx context.Context) ([]progress.BadgeDefinition, error) {
	var rows []BadgeDefinition
	if err := s.db.WithContext(ctx).Order("position").Order("id").Find(&rows).Error; err != nil {
		return nil, wrapError("get badge definitions", err)
	}

	defs := make([]progress.BadgeDefinition, 0, len(rows))
	for _, r := range rows {
		defs = append(defs, progress.BadgeDefinition{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Emoji:       r.Emoji,
			Metric:      progress.Metric(r.Metric),
			Threshold:   r.Threshold,
			Reward:      r.Reward,
		})
	}
	return defs, nil
}

// GetUnlockedBadgeIDs implements progress.Repository.
func (s *Store) GetUnlockedBadgeIDs(ctx context.Context, learnerID string) (map[string]bool, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&BadgeUnlock{}).
		Where("learner_id = ?", learnerID).
		Pluck("badge_id", &ids).Error
	if err != nil {
		return nil, wrapError("get unlocked badges", err)
	}

	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// UnlockBadge implements progress.Repository. The unlock row and the reward
// share one transaction.
func (s *Store) UnlockBadge(ctx context.Context, unlock progress.BadgeUnlock, reward progress.Award, today timeutil.CivilDate, entry progress.HistoryEntry) (*progress.Record, error) {
	var out *progress.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := BadgeUnlock{
			ID:         unlock.ID,
			LearnerID:  unlock.LearnerID,
			BadgeID:    unlock.BadgeID,
			UnlockedAt: unlock.UnlockedAt,
		}
		err := tx.Create(&row).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrDuplicateUnlock
		}
		if err != nil {
			return fmt.Errorf("insert badge unlock: %w", err)
		}
		if reward.Amount <= 0 {
			return nil
		}
		out, err = applyAwardTx(tx, unlock.LearnerID, reward, today, entry)
		return err
	})
	if errors.Is(err, shared.ErrDuplicateUnlock) {
		return nil, shared.ErrDuplicateUnlock
	}
	if err != nil {
		return nil, wrapError("unlock badge", err)
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LESSONS
// ══════════════════════════════════════════════════════════════════════════════

// SaveLessons upserts lesson slots. Used to seed local databases.
func (s *Store) SaveLessons(ctx context.Context, slots ...session.LessonSlot) error {
	if len(slots) == 0 {
		return nil
	}
	rows := make([]LessonSlot, 0, len(slots))
	for _, slot := range slots {
		rows = append(rows, lessonRow(slot))
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	return wrapError("save lessons", err)
}

// ListBetween implements session.LessonSource.
func (s *Store) ListBetween(ctx context.Context, from, to timeutil.CivilDate) ([]session.LessonSlot, error) {
	var rows []LessonSlot
	err := s.db.WithContext(ctx).
		Where("scheduled_date BETWEEN ? AND ?", from.String(), to.String()).
		Order("scheduled_date").
		Order("scheduled_time").
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, wrapError("list lessons", err)
	}

	out := make([]session.LessonSlot, 0, len(rows))
	for _, r := range rows {
		slot, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("gormstore: lesson %s: %w", r.ID, err)
		}
		out = append(out, slot)
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return shared.ErrPersistenceUnavailable.Wrap(fmt.Errorf("gormstore: %s: %w", op, err))
	}
	return fmt.Errorf("gormstore: %s: %w", op, err)
}

// isUnavailable reports errors that mean the database could not be reached.
// The postgres dialect runs on pgx, so its connection errors are the same
// ones the pgx repositories see.
func isUnavailable(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		pgstore.IsUnavailable(err)
}
