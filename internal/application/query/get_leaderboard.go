// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Получает топ-N учеников по очкам.
// Сначала читает кэш (Redis), при промахе или ошибке - хранилище.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultLeaderboardLimit - размер таблицы по умолчанию.
	DefaultLeaderboardLimit = 10

	// MaxLeaderboardLimit - верхняя граница limit.
	MaxLeaderboardLimit = 100
)

// Источники данных таблицы лидеров.
const (
	SourceCache = "cache"
	SourceStore = "store"
)

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	// Limit - количество записей (по умолчанию 10, максимум 100).
	Limit int
}

// Validate проверяет корректность параметров запроса.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Limit < 0 {
		return shared.ErrInvalidLimit.Wrap(fmt.Errorf("limit %d", q.Limit))
	}
	if q.Limit == 0 {
		q.Limit = DefaultLeaderboardLimit
	}
	if q.Limit > MaxLeaderboardLimit {
		q.Limit = MaxLeaderboardLimit
	}
	return nil
}

// GetLeaderboardResult содержит результат запроса лидерборда.
type GetLeaderboardResult struct {
	// Entries - строки таблицы, ранг начинается с 1.
	Entries []progress.LeaderboardEntry `json:"entries"`

	// Source - откуда взяты данные: "cache" или "store".
	Source string `json:"source"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetLeaderboardHandler обрабатывает запросы на получение лидерборда.
type GetLeaderboardHandler struct {
	repo  progress.Repository
	cache progress.LeaderboardCache
	clock shared.Clock
	log   *logger.Logger
}

// NewGetLeaderboardHandler создаёт новый обработчик запроса лидерборда.
// cache может быть nil.
func NewGetLeaderboardHandler(
	repo progress.Repository,
	cache progress.LeaderboardCache,
	clock shared.Clock,
	log *logger.Logger,
) *GetLeaderboardHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetLeaderboardHandler{
		repo:  repo,
		cache: cache,
		clock: clock,
		log:   log.With(logger.Component("get_leaderboard")),
	}
}

// Handle выполняет запрос на получение лидерборда.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, query GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	// Попытка получить из кеша
	entries, err := h.tryGetFromCache(ctx, query.Limit)
	if err == nil && len(entries) > 0 {
		return &GetLeaderboardResult{Entries: entries, Source: SourceCache, GeneratedAt: h.clock.Now()}, nil
	}
	if err != nil && !errors.Is(err, errCacheDisabled) {
		h.log.Warn("leaderboard cache read failed, falling back to store", logger.Err(err))
	}

	entries, err = h.repo.GetLeaderboard(ctx, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("get_leaderboard: %w", err)
	}
	if entries == nil {
		entries = []progress.LeaderboardEntry{}
	}

	return &GetLeaderboardResult{Entries: entries, Source: SourceStore, GeneratedAt: h.clock.Now()}, nil
}

var errCacheDisabled = errors.New("leaderboard cache disabled")

// tryGetFromCache пытается получить данные из кеша.
func (h *GetLeaderboardHandler) tryGetFromCache(ctx context.Context, limit int) ([]progress.LeaderboardEntry, error) {
	if h.cache == nil {
		return nil, errCacheDisabled
	}
	return h.cache.Top(ctx, limit)
}
