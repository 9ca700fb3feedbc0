package progress

import (
	"context"
	"sort"
	"time"

	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

// HistoryEntry - неизменяемая запись журнала начислений.
type HistoryEntry struct {
	ID        string    `json:"id"`
	LearnerID string    `json:"learner_id"`
	Kind      EventKind `json:"kind"`
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	BadgeID   string    `json:"badge_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LeaderboardEntry - строка таблицы лидеров.
type LeaderboardEntry struct {
	Rank           int       `json:"rank"`
	LearnerID      string    `json:"learner_id"`
	TotalPoints    int       `json:"total_points"`
	Level          int       `json:"level"`
	BestStreakDays int       `json:"best_streak_days"`
	CreatedAt      time.Time `json:"created_at"`
}

// EntryFromRecord строит строку таблицы лидеров без ранга.
func EntryFromRecord(r *Record) LeaderboardEntry {
	return LeaderboardEntry{
		LearnerID:      r.LearnerID,
		TotalPoints:    r.TotalPoints,
		Level:          r.Level,
		BestStreakDays: r.BestStreakDays,
		CreatedAt:      r.CreatedAt,
	}
}

// SortLeaderboard упорядочивает строки: очки по убыванию, затем более
// ранняя запись, затем learner id.
func SortLeaderboard(entries []LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.LearnerID < b.LearnerID
	})
}

// RankTop сортирует, обрезает до limit (0 = без ограничения) и
// проставляет ранги с единицы.
func RankTop(entries []LeaderboardEntry, limit int) []LeaderboardEntry {
	SortLeaderboard(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository - хранилище прогресса, журнала и значков.
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Progress
	// ─────────────────────────────────────────────────────────────────────────

	// GetProgress возвращает запись ученика.
	// Возвращает ErrProgressNotFound, если начислений ещё не было.
	GetProgress(ctx context.Context, learnerID string) (*Record, error)

	// ApplyAward атомарно применяет начисление: создаёт запись при первом
	// начислении, прибавляет очки и счётчик, обновляет серию и пишет entry
	// в журнал. Всё в одной транзакции. Возвращает запись после изменения.
	// Конкурентные начисления одному ученику не теряются.
	ApplyAward(ctx context.Context, learnerID string, award Award, today timeutil.CivilDate, entry HistoryEntry) (*Record, error)

	// GetHistory возвращает журнал начислений, новые первыми.
	GetHistory(ctx context.Context, learnerID string, limit int) ([]HistoryEntry, error)

	// GetLeaderboard возвращает limit лучших учеников по очкам.
	// При равенстве очков раньше идёт запись, созданная раньше.
	GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)

	// ListStreaksAtRisk возвращает записи, у которых последняя активность была
	// в день yesterday, а серия больше нуля.
	ListStreaksAtRisk(ctx context.Context, yesterday timeutil.CivilDate) ([]*Record, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Badges
	// ─────────────────────────────────────────────────────────────────────────

	// SaveBadgeDefinitions добавляет или обновляет описания значков.
	SaveBadgeDefinitions(ctx context.Context, defs []BadgeDefinition) error

	// GetBadgeDefinitions возвращает все описания значков.
	GetBadgeDefinitions(ctx context.Context) ([]BadgeDefinition, error)

	// GetUnlockedBadgeIDs возвращает ID полученных учеником значков.
	GetUnlockedBadgeIDs(ctx context.Context, learnerID string) (map[string]bool, error)

	// UnlockBadge атомарно сохраняет получение значка и начисляет награду
	// reward (если reward.Amount > 0) с записью entry в журнал. Либо
	// применяется всё, либо ничего. Возвращает запись после награды или nil,
	// если награды нет.
	// Возвращает ErrDuplicateUnlock, если значок уже получен.
	UnlockBadge(ctx context.Context, unlock BadgeUnlock, reward Award, today timeutil.CivilDate, entry HistoryEntry) (*Record, error)
}

// LeaderboardCache - быстрый кэш таблицы лидеров (Redis).
type LeaderboardCache interface {
	// Upsert обновляет одну строку после начисления.
	Upsert(ctx context.Context, entry LeaderboardEntry) error

	// Top возвращает limit лучших строк с рангами.
	Top(ctx context.Context, limit int) ([]LeaderboardEntry, error)

	// Replace заменяет содержимое кэша полным снимком.
	Replace(ctx context.Context, entries []LeaderboardEntry) error
}
