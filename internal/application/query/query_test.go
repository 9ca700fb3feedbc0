package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/session"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/internal/infrastructure/persistence/memory"
	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

// Wednesday.
var testNow = time.Date(2025, time.March, 12, 14, 0, 0, 0, timeutil.BerlinTZ)

type stubCache struct {
	entries   []progress.LeaderboardEntry
	err       error
	lastLimit int
}

func (c *stubCache) Upsert(ctx context.Context, entry progress.LeaderboardEntry) error { return nil }

func (c *stubCache) Top(ctx context.Context, limit int) ([]progress.LeaderboardEntry, error) {
	c.lastLimit = limit
	return c.entries, c.err
}

func (c *stubCache) Replace(ctx context.Context, entries []progress.LeaderboardEntry) error {
	return nil
}

func award(t *testing.T, store *memory.Store, clock shared.Clock, learner string, kind progress.EventKind) {
	t.Helper()
	entry := progress.HistoryEntry{ID: learner + "-" + kind.String(), Kind: kind, Amount: kind.Amount(), CreatedAt: clock.Now()}
	_, err := store.ApplyAward(context.Background(), learner, progress.NewAward(kind), clock.Today(), entry)
	require.NoError(t, err)
}

func TestGetLeaderboard_FallsBackToStore(t *testing.T) {
	store := memory.NewStore()
	clock := shared.NewFixedClock(testNow)
	award(t, store, clock, "anna", progress.KindLessonAttended)
	award(t, store, clock, "ben", progress.KindExerciseSubmitted)

	cache := &stubCache{err: errors.New("redis: connection refused")}
	h := NewGetLeaderboardHandler(store, cache, clock, nil)

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{})
	require.NoError(t, err)
	assert.Equal(t, SourceStore, res.Source)
	assert.Equal(t, DefaultLeaderboardLimit, cache.lastLimit)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "anna", res.Entries[0].LearnerID)
	assert.Equal(t, 1, res.Entries[0].Rank)
	assert.Equal(t, 2, res.Entries[1].Rank)
}

func TestGetLeaderboard_UsesCache(t *testing.T) {
	clock := shared.NewFixedClock(testNow)
	cache := &stubCache{entries: []progress.LeaderboardEntry{{Rank: 1, LearnerID: "cached", TotalPoints: 900}}}
	h := NewGetLeaderboardHandler(memory.NewStore(), cache, clock, nil)

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, MaxLeaderboardLimit, cache.lastLimit)
	assert.Equal(t, "cached", res.Entries[0].LearnerID)
}

func TestGetLeaderboard_EmptyStoreAndNoCache(t *testing.T) {
	h := NewGetLeaderboardHandler(memory.NewStore(), nil, shared.NewFixedClock(testNow), nil)

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{Limit: 5})
	require.NoError(t, err)
	assert.NotNil(t, res.Entries)
	assert.Empty(t, res.Entries)
}

func TestGetLeaderboard_NegativeLimit(t *testing.T) {
	h := NewGetLeaderboardHandler(memory.NewStore(), nil, shared.NewFixedClock(testNow), nil)

	_, err := h.Handle(context.Background(), GetLeaderboardQuery{Limit: -1})
	assert.ErrorIs(t, err, shared.ErrInvalidLimit)
	assert.True(t, shared.IsValidation(err))
}

func TestGetProgress(t *testing.T) {
	store := memory.NewStore()
	clock := shared.NewFixedClock(testNow)
	h := NewGetProgressHandler(store, clock)

	_, err := h.Handle(context.Background(), GetProgressQuery{LearnerID: "anna"})
	assert.ErrorIs(t, err, shared.ErrProgressNotFound)

	view, err := h.Handle(context.Background(), GetProgressQuery{LearnerID: "anna", AllowEmpty: true})
	require.NoError(t, err)
	assert.False(t, view.Exists)
	assert.Equal(t, 1, view.Level)
	assert.Equal(t, 500, view.LevelProgress.PointsToNextLevel)

	for i := 0; i < 11; i++ {
		award(t, store, clock, "anna", progress.KindLessonAttended)
	}

	view, err = h.Handle(context.Background(), GetProgressQuery{LearnerID: "anna"})
	require.NoError(t, err)
	assert.True(t, view.Exists)
	assert.Equal(t, 550, view.TotalPoints)
	assert.Equal(t, 2, view.Level)
	assert.Equal(t, 50, view.LevelProgress.PointsIntoLevel)
	assert.Equal(t, 450, view.LevelProgress.PointsToNextLevel)
	assert.Equal(t, 1, view.CurrentStreakDays)
	assert.False(t, view.StreakAtRisk)
	assert.Equal(t, "2025-03-12", view.LastActivityDate)

	clock.AdvanceDays(1)
	view, err = h.Handle(context.Background(), GetProgressQuery{LearnerID: "anna"})
	require.NoError(t, err)
	assert.Equal(t, 1, view.CurrentStreakDays)
	assert.True(t, view.StreakAtRisk)

	clock.AdvanceDays(1)
	view, err = h.Handle(context.Background(), GetProgressQuery{LearnerID: "anna"})
	require.NoError(t, err)
	assert.Equal(t, 0, view.CurrentStreakDays)
	assert.Equal(t, 1, view.BestStreakDays)
	assert.False(t, view.StreakAtRisk)
}

func TestGetProgress_InvalidLearner(t *testing.T) {
	h := NewGetProgressHandler(memory.NewStore(), shared.NewFixedClock(testNow))
	_, err := h.Handle(context.Background(), GetProgressQuery{LearnerID: ""})
	assert.ErrorIs(t, err, shared.ErrLearnerIDRequired)
}

func TestGetHistory(t *testing.T) {
	store := memory.NewStore()
	clock := shared.NewFixedClock(testNow)
	award(t, store, clock, "anna", progress.KindDailyLogin)
	award(t, store, clock, "anna", progress.KindPerfectScore)
	award(t, store, clock, "anna", progress.KindExerciseGraded)

	h := NewGetHistoryHandler(store)
	entries, err := h.Handle(context.Background(), GetHistoryQuery{LearnerID: "anna", Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, progress.KindExerciseGraded, entries[0].Kind)
	assert.Equal(t, progress.KindPerfectScore, entries[1].Kind)

	entries, err = h.Handle(context.Background(), GetHistoryQuery{LearnerID: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)

	_, err = h.Handle(context.Background(), GetHistoryQuery{LearnerID: "anna", Limit: -3})
	assert.ErrorIs(t, err, shared.ErrInvalidLimit)
}

func TestGetBadges(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.SaveBadgeDefinitions(ctx, progress.DefaultCatalog().Badges))
	unlock := progress.BadgeUnlock{ID: "u1", LearnerID: "anna", BadgeID: "streak-3", UnlockedAt: testNow}
	_, err := store.UnlockBadge(ctx, unlock, progress.Award{}, timeutil.DateOf(testNow), progress.HistoryEntry{})
	require.NoError(t, err)

	res, err := NewGetBadgesHandler(store).Handle(ctx, "anna")
	require.NoError(t, err)
	assert.Len(t, res.Badges, len(progress.DefaultCatalog().Badges))
	assert.Equal(t, 1, res.UnlockedCount)
	assert.Equal(t, "first-lesson", res.Badges[0].ID)
	for _, b := range res.Badges {
		assert.Equal(t, b.ID == "streak-3", b.Unlocked, b.ID)
	}
}

func TestJoinWindow(t *testing.T) {
	h := NewJoinWindowHandler(shared.NewFixedClock(testNow), session.DefaultWindow())

	res, err := h.Handle(context.Background(), JoinWindowQuery{Date: "2025-03-12", Time: "14:20"})
	require.NoError(t, err)
	assert.True(t, res.CanJoin)
	assert.Equal(t, "in 20min", res.Label)
	assert.True(t, res.OpensAt.Equal(testNow.Add(-10*time.Minute)))

	res, err = h.Handle(context.Background(), JoinWindowQuery{Date: "2025-03-14", Time: "14:00"})
	require.NoError(t, err)
	assert.False(t, res.CanJoin)
	assert.Equal(t, "in 2 days", res.Label)

	_, err = h.Handle(context.Background(), JoinWindowQuery{Date: "2025-03-12", Time: "25:00"})
	assert.ErrorIs(t, err, shared.ErrInvalidTimeInput)
}

func lesson(id string, day, hour, minute int) session.LessonSlot {
	return session.LessonSlot{
		ID:              id,
		Title:           "Konversation " + id,
		ScheduledDate:   timeutil.NewDate(2025, time.March, day),
		ScheduledTime:   timeutil.TimeOfDay{Hour: hour, Minute: minute},
		DurationMinutes: 60,
	}
}

func TestWeekCalendar(t *testing.T) {
	store := memory.NewStore()
	store.AddLessons(
		lesson("now", 12, 14, 20),
		lesson("monday", 10, 9, 0),
		lesson("night", 11, 23, 0),
		lesson("next-week", 17, 10, 0),
	)
	h := NewWeekCalendarHandler(store, shared.NewFixedClock(testNow), session.DefaultWindow())

	res, err := h.Handle(context.Background(), WeekCalendarQuery{})
	require.NoError(t, err)
	assert.Equal(t, timeutil.NewDate(2025, time.March, 10), res.WeekStart)
	assert.Len(t, res.Days, 7)
	assert.Len(t, res.Rows, 14)
	assert.Equal(t, 2, res.Total)

	row := res.Rows[14-8]
	assert.Equal(t, 14, row.Hour)
	require.Len(t, row.Cells[2], 1)
	assert.Equal(t, "now", row.Cells[2][0].ID)
	assert.True(t, row.Cells[2][0].CanJoin)
	assert.Equal(t, "in 20min", row.Cells[2][0].Label)

	monday := res.Rows[9-8].Cells[0]
	require.Len(t, monday, 1)
	assert.False(t, monday[0].CanJoin)
	assert.Equal(t, "in progress", monday[0].Label)

	next, err := h.Handle(context.Background(), WeekCalendarQuery{WeekStart: "2025-03-19"})
	require.NoError(t, err)
	assert.Equal(t, timeutil.NewDate(2025, time.March, 17), next.WeekStart)
	assert.Equal(t, 1, next.Total)

	_, err = h.Handle(context.Background(), WeekCalendarQuery{WeekStart: "19.03.2025"})
	assert.ErrorIs(t, err, shared.ErrInvalidTimeInput)

	_, err = h.Handle(context.Background(), WeekCalendarQuery{Hours: session.HourRange{From: 20, To: 10}})
	assert.ErrorIs(t, err, shared.ErrInvalidHourRange)
}

func TestWeekCalendar_UsesConfiguredWindow(t *testing.T) {
	store := memory.NewStore()
	store.AddLessons(
		lesson("soon", 12, 14, 20),
		lesson("next", 12, 14, 8),
	)
	narrow := session.Window{Before: 10 * time.Minute, After: 5 * time.Minute}
	h := NewWeekCalendarHandler(store, shared.NewFixedClock(testNow), narrow)

	res, err := h.Handle(context.Background(), WeekCalendarQuery{})
	require.NoError(t, err)

	cell := res.Rows[14-8].Cells[2]
	require.Len(t, cell, 2)
	canJoin := map[string]bool{}
	for _, slot := range cell {
		canJoin[slot.ID] = slot.CanJoin
	}
	assert.False(t, canJoin["soon"], "20 minutes out is outside a 10 minute window")
	assert.True(t, canJoin["next"])
}
