package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Возвращает прогресс ученика: очки, уровень, серию и счётчики.
// Серия показывается "эффективной": оборванная серия отображается как 0,
// хотя в записи она обнулится только при следующем начислении.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery содержит параметры запроса прогресса.
type GetProgressQuery struct {
	// LearnerID - идентификатор ученика.
	LearnerID string

	// AllowEmpty - вернуть пустую запись вместо ErrProgressNotFound.
	AllowEmpty bool
}

// ProgressView - прогресс ученика для отображения.
type ProgressView struct {
	LearnerID          string                 `json:"learner_id"`
	TotalPoints        int                    `json:"total_points"`
	Level              int                    `json:"level"`
	LevelProgress      progress.LevelProgress `json:"level_progress"`
	CurrentStreakDays  int                    `json:"current_streak_days"`
	BestStreakDays     int                    `json:"best_streak_days"`
	StreakAtRisk       bool                   `json:"streak_at_risk"`
	LessonsAttended    int                    `json:"lessons_attended"`
	ExercisesCompleted int                    `json:"exercises_completed"`
	PerfectScores      int                    `json:"perfect_scores"`
	LastActivityDate   string                 `json:"last_activity_date,omitempty"`
	Exists             bool                   `json:"exists"`
}

// GetProgressHandler обрабатывает запрос прогресса.
type GetProgressHandler struct {
	repo  progress.Repository
	clock shared.Clock
}

// NewGetProgressHandler создаёт обработчик.
func NewGetProgressHandler(repo progress.Repository, clock shared.Clock) *GetProgressHandler {
	return &GetProgressHandler{repo: repo, clock: clock}
}

// Handle выполняет запрос.
func (h *GetProgressHandler) Handle(ctx context.Context, query GetProgressQuery) (*ProgressView, error) {
	learnerID, err := shared.NewLearnerID(query.LearnerID)
	if err != nil {
		return nil, err
	}

	rec, err := h.repo.GetProgress(ctx, learnerID.String())
	if err != nil {
		if errors.Is(err, shared.ErrProgressNotFound) && query.AllowEmpty {
			rec = progress.NewRecord(learnerID.String(), h.clock.Now())
			view := buildProgressView(rec, h.clock)
			view.Exists = false
			return view, nil
		}
		return nil, fmt.Errorf("get_progress: %w", err)
	}

	return buildProgressView(rec, h.clock), nil
}

func buildProgressView(rec *progress.Record, clock shared.Clock) *ProgressView {
	today := clock.Today()
	streak := rec.Streak()

	return &ProgressView{
		LearnerID:          rec.LearnerID,
		TotalPoints:        rec.TotalPoints,
		Level:              rec.Level,
		LevelProgress:      rec.LevelProgress(),
		CurrentStreakDays:  streak.Effective(today),
		BestStreakDays:     rec.BestStreakDays,
		StreakAtRisk:       streak.AtRisk(today),
		LessonsAttended:    rec.LessonsAttended,
		ExercisesCompleted: rec.ExercisesCompleted,
		PerfectScores:      rec.PerfectScores,
		LastActivityDate:   rec.LastActivityDate.String(),
		Exists:             true,
	}
}
