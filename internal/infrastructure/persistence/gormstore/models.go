package gormstore

import (
	"time"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/session"
	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

// ProgressRecord is the row of progress_records. Dates are stored as
// YYYY-MM-DD text so the same schema works on SQLite and PostgreSQL;
// an empty string means no activity yet.
type ProgressRecord struct {
	LearnerID          string    `gorm:"primaryKey;size:128"`
	TotalPoints        int       `gorm:"not null;default:0;index:idx_progress_leaderboard,priority:1,sort:desc"`
	Level              int       `gorm:"not null;default:1"`
	CurrentStreakDays  int       `gorm:"not null;default:0"`
	BestStreakDays     int       `gorm:"not null;default:0"`
	LessonsAttended    int       `gorm:"not null;default:0"`
	ExercisesCompleted int       `gorm:"not null;default:0"`
	PerfectScores      int       `gorm:"not null;default:0"`
	LastActivityDate   string    `gorm:"size:10;not null;default:''"`
	CreatedAt          time.Time `gorm:"index:idx_progress_leaderboard,priority:2"`
	UpdatedAt          time.Time
}

func (ProgressRecord) TableName() string {
	return "progress_records"
}

func (r ProgressRecord) toDomain() *progress.Record {
	rec := &progress.Record{
		LearnerID:          r.LearnerID,
		TotalPoints:        r.TotalPoints,
		Level:              r.Level,
		CurrentStreakDays:  r.CurrentStreakDays,
		BestStreakDays:     r.BestStreakDays,
		LessonsAttended:    r.LessonsAttended,
		ExercisesCompleted: r.ExercisesCompleted,
		PerfectScores:      r.PerfectScores,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.LastActivityDate != "" {
		if d, err := timeutil.ParseDate(r.LastActivityDate); err == nil {
			rec.LastActivityDate = d
		}
	}
	return rec
}

// HistoryEntry is the row of progress_history.
type HistoryEntry struct {
	ID        string    `gorm:"primaryKey;size:36"`
	LearnerID string    `gorm:"size:128;not null;index:idx_history_learner,priority:1"`
	Kind      string    `gorm:"size:32;not null"`
	Amount    int       `gorm:"not null"`
	Reason    string    `gorm:"not null;default:''"`
	BadgeID   string    `gorm:"size:64;not null;default:''"`
	CreatedAt time.Time `gorm:"index:idx_history_learner,priority:2"`
}

func (HistoryEntry) TableName() string {
	return "progress_history"
}

func (h HistoryEntry) toDomain() progress.HistoryEntry {
	return progress.HistoryEntry{
		ID:        h.ID,
		LearnerID: h.LearnerID,
		Kind:      progress.EventKind(h.Kind),
		Amount:    h.Amount,
		Reason:    h.Reason,
		BadgeID:   h.BadgeID,
		CreatedAt: h.CreatedAt,
	}
}

// BadgeDefinition is the row of badge_definitions.
type BadgeDefinition struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"size:100;not null"`
	Description string `gorm:"not null;default:''"`
	Emoji       string `gorm:"size:16;not null;default:''"`
	Metric      string `gorm:"size:32;not null"`
	Threshold   int    `gorm:"not null"`
	Reward      int    `gorm:"not null;default:0"`
	Position    int    `gorm:"not null;default:0"`
}

func (BadgeDefinition) TableName() string {
	return "badge_definitions"
}

// BadgeUnlock is the row of badge_unlocks. The composite unique index is
// what makes a second unlock of the same badge fail.
type BadgeUnlock struct {
	ID         string    `gorm:"primaryKey;size:36"`
	LearnerID  string    `gorm:"size:128;not null;uniqueIndex:idx_unique_badge_per_learner,priority:1"`
	BadgeID    string    `gorm:"size:64;not null;uniqueIndex:idx_unique_badge_per_learner,priority:2"`
	UnlockedAt time.Time `gorm:"not null"`
}

func (BadgeUnlock) TableName() string {
	return "badge_unlocks"
}

// LessonSlot is the row of lesson_slots.
type LessonSlot struct {
	ID              string `gorm:"primaryKey;size:64"`
	Title           string `gorm:"size:200;not null"`
	GroupID         string `gorm:"size:64;not null;default:''"`
	Level           string `gorm:"size:4;not null;default:''"`
	ScheduledDate   string `gorm:"size:10;not null;index:idx_lesson_schedule,priority:1"`
	ScheduledTime   string `gorm:"size:5;not null;index:idx_lesson_schedule,priority:2"`
	DurationMinutes int    `gorm:"not null;default:60"`
}

func (LessonSlot) TableName() string {
	return "lesson_slots"
}

func lessonRow(s session.LessonSlot) LessonSlot {
	return LessonSlot{
		ID:              s.ID,
		Title:           s.Title,
		GroupID:         s.GroupID,
		Level:           s.Level,
		ScheduledDate:   s.ScheduledDate.String(),
		ScheduledTime:   s.ScheduledTime.String(),
		DurationMinutes: s.DurationMinutes,
	}
}

func (l LessonSlot) toDomain() (session.LessonSlot, error) {
	d, err := timeutil.ParseDate(l.ScheduledDate)
	if err != nil {
		return session.LessonSlot{}, err
	}
	t, err := timeutil.ParseTimeOfDay(l.ScheduledTime)
	if err != nil {
		return session.LessonSlot{}, err
	}
	return session.LessonSlot{
		ID:              l.ID,
		Title:           l.Title,
		GroupID:         l.GroupID,
		Level:           l.Level,
		ScheduledDate:   d,
		ScheduledTime:   t,
		DurationMinutes: l.DurationMinutes,
	}, nil
}

// allModels lists the tables created by AutoMigrate.
func allModels() []interface{} {
	return []interface{}{
		&ProgressRecord{},
		&HistoryEntry{},
		&BadgeDefinition{},
		&BadgeUnlock{},
		&LessonSlot{},
	}
}
