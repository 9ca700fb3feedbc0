package query

import (
	"context"
	"fmt"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET HISTORY QUERY
// Журнал начислений ученика, новые записи первыми.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultHistoryLimit - размер страницы журнала по умолчанию.
	DefaultHistoryLimit = 20

	// MaxHistoryLimit - верхняя граница limit.
	MaxHistoryLimit = 200
)

// GetHistoryQuery содержит параметры запроса журнала.
type GetHistoryQuery struct {
	LearnerID string
	Limit     int
}

// Validate проверяет параметры и подставляет значения по умолчанию.
func (q *GetHistoryQuery) Validate() error {
	if q.Limit < 0 {
		return shared.ErrInvalidLimit.Wrap(fmt.Errorf("limit %d", q.Limit))
	}
	if q.Limit == 0 {
		q.Limit = DefaultHistoryLimit
	}
	if q.Limit > MaxHistoryLimit {
		q.Limit = MaxHistoryLimit
	}
	return nil
}

// GetHistoryHandler обрабатывает запрос журнала.
type GetHistoryHandler struct {
	repo progress.Repository
}

// NewGetHistoryHandler создаёт обработчик.
func NewGetHistoryHandler(repo progress.Repository) *GetHistoryHandler {
	return &GetHistoryHandler{repo: repo}
}

// Handle выполняет запрос.
func (h *GetHistoryHandler) Handle(ctx context.Context, query GetHistoryQuery) ([]progress.HistoryEntry, error) {
	learnerID, err := shared.NewLearnerID(query.LearnerID)
	if err != nil {
		return nil, err
	}
	if err := query.Validate(); err != nil {
		return nil, err
	}

	entries, err := h.repo.GetHistory(ctx, learnerID.String(), query.Limit)
	if err != nil {
		return nil, fmt.Errorf("get_history: %w", err)
	}
	if entries == nil {
		entries = []progress.HistoryEntry{}
	}
	return entries, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET BADGES QUERY
// Каталог значков с отметкой, какие из них ученик уже получил.
// ══════════════════════════════════════════════════════════════════════════════

// BadgeView - значок каталога глазами ученика.
type BadgeView struct {
	progress.BadgeDefinition
	Unlocked bool `json:"unlocked"`
}

// GetBadgesResult - результат запроса значков.
type GetBadgesResult struct {
	LearnerID     string      `json:"learner_id"`
	Badges        []BadgeView `json:"badges"`
	UnlockedCount int         `json:"unlocked_count"`
}

// GetBadgesHandler обрабатывает запрос значков.
type GetBadgesHandler struct {
	repo progress.Repository
}

// NewGetBadgesHandler создаёт обработчик.
func NewGetBadgesHandler(repo progress.Repository) *GetBadgesHandler {
	return &GetBadgesHandler{repo: repo}
}

// Handle выполняет запрос. Порядок значков - порядок каталога.
func (h *GetBadgesHandler) Handle(ctx context.Context, learnerID string) (*GetBadgesResult, error) {
	id, err := shared.NewLearnerID(learnerID)
	if err != nil {
		return nil, err
	}

	defs, err := h.repo.GetBadgeDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_badges: definitions: %w", err)
	}
	unlocked, err := h.repo.GetUnlockedBadgeIDs(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("get_badges: unlocked: %w", err)
	}

	result := &GetBadgesResult{LearnerID: id.String(), Badges: make([]BadgeView, 0, len(defs))}
	for _, def := range defs {
		view := BadgeView{BadgeDefinition: def, Unlocked: unlocked[def.ID]}
		if view.Unlocked {
			result.UnlockedCount++
		}
		result.Badges = append(result.Badges, view)
	}
	return result, nil
}
