package gormstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/session"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

var day0 = timeutil.NewDate(2025, time.March, 3)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := Open(Config{Driver: DriverSQLite, DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", name)}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func apply(t *testing.T, s *Store, learner string, award progress.Award, day timeutil.CivilDate) *progress.Record {
	t.Helper()
	entry := progress.HistoryEntry{
		ID:        uuid.NewString(),
		Kind:      award.Kind,
		Amount:    award.Amount,
		Reason:    award.Reason,
		BadgeID:   award.BadgeID,
		CreatedAt: day.In(timeutil.BerlinTZ).Add(10 * time.Hour),
	}
	rec, err := s.ApplyAward(context.Background(), learner, award, day, entry)
	require.NoError(t, err)
	return rec
}

func TestStore_ApplyAwardCreatesAndAccumulates(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetProgress(context.Background(), "anna")
	assert.ErrorIs(t, err, shared.ErrProgressNotFound)

	rec := apply(t, s, "anna", progress.NewAward(progress.KindLessonAttended), day0)
	assert.Equal(t, 50, rec.TotalPoints)
	assert.Equal(t, 1, rec.Level)
	assert.Equal(t, 1, rec.LessonsAttended)
	assert.Equal(t, 1, rec.CurrentStreakDays)
	assert.Equal(t, day0, rec.LastActivityDate)

	for i := 0; i < 9; i++ {
		rec = apply(t, s, "anna", progress.NewAward(progress.KindLessonAttended), day0)
	}
	assert.Equal(t, 500, rec.TotalPoints)
	assert.Equal(t, 2, rec.Level)
	assert.Equal(t, 10, rec.LessonsAttended)
	assert.Equal(t, 1, rec.CurrentStreakDays, "same day does not extend the streak")

	got, err := s.GetProgress(context.Background(), "anna")
	require.NoError(t, err)
	assert.Equal(t, rec.TotalPoints, got.TotalPoints)
}

func TestStore_StreakRules(t *testing.T) {
	s := openTestStore(t)
	login := progress.NewAward(progress.KindDailyLogin)

	rec := apply(t, s, "ben", login, day0)
	assert.Equal(t, 1, rec.CurrentStreakDays)

	rec = apply(t, s, "ben", login, day0.AddDays(1))
	assert.Equal(t, 2, rec.CurrentStreakDays)

	rec = apply(t, s, "ben", login, day0.AddDays(2))
	assert.Equal(t, 3, rec.CurrentStreakDays)
	assert.Equal(t, 3, rec.BestStreakDays)

	rec = apply(t, s, "ben", login, day0.AddDays(5))
	assert.Equal(t, 1, rec.CurrentStreakDays)
	assert.Equal(t, 3, rec.BestStreakDays)
	assert.Equal(t, day0.AddDays(5), rec.LastActivityDate)
}

func TestStore_MatchesDomainApply(t *testing.T) {
	s := openTestStore(t)
	kinds := []progress.EventKind{
		progress.KindLessonAttended,
		progress.KindExerciseSubmitted,
		progress.KindExerciseGraded,
		progress.KindPerfectScore,
		progress.KindDailyLogin,
	}
	days := []int{0, 0, 1, 3, 4}

	expected := *progress.NewRecord("cem", time.Now())
	var rec *progress.Record
	for i, kind := range kinds {
		day := day0.AddDays(days[i])
		expected = expected.Apply(progress.NewAward(kind), day, time.Now())
		rec = apply(t, s, "cem", progress.NewAward(kind), day)
	}

	assert.Equal(t, expected.Counters(), rec.Counters())
	assert.Equal(t, expected.Level, rec.Level)
	assert.Equal(t, expected.LastActivityDate, rec.LastActivityDate)
}

func TestStore_HistoryNewestFirst(t *testing.T) {
	s := openTestStore(t)
	apply(t, s, "dora", progress.NewAward(progress.KindDailyLogin), day0)
	apply(t, s, "dora", progress.NewAward(progress.KindPerfectScore), day0.AddDays(1))
	apply(t, s, "dora", progress.BadgeAward(progress.BadgeDefinition{ID: "streak-3", Name: "Drei Tage", Reward: 30}), day0.AddDays(2))

	entries, err := s.GetHistory(context.Background(), "dora", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, progress.KindBadgeUnlocked, entries[0].Kind)
	assert.Equal(t, "streak-3", entries[0].BadgeID)
	assert.Equal(t, 30, entries[0].Amount)
	assert.Equal(t, progress.KindPerfectScore, entries[1].Kind)

	all, err := s.GetHistory(context.Background(), "dora", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_Leaderboard(t *testing.T) {
	s := openTestStore(t)
	apply(t, s, "early", progress.NewAward(progress.KindExerciseSubmitted), day0)
	apply(t, s, "late", progress.NewAward(progress.KindExerciseSubmitted), day0.AddDays(1))
	apply(t, s, "top", progress.NewAward(progress.KindLessonAttended), day0.AddDays(2))

	entries, err := s.GetLeaderboard(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "top", entries[0].LearnerID)
	assert.Equal(t, "early", entries[1].LearnerID, "ties go to the older record")
	assert.Equal(t, "late", entries[2].LearnerID)
	assert.Equal(t, []int{1, 2, 3}, []int{entries[0].Rank, entries[1].Rank, entries[2].Rank})

	top1, err := s.GetLeaderboard(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, top1, 1)
}

func TestStore_ListStreaksAtRisk(t *testing.T) {
	s := openTestStore(t)
	apply(t, s, "yesterday", progress.NewAward(progress.KindDailyLogin), day0)
	apply(t, s, "today", progress.NewAward(progress.KindDailyLogin), day0.AddDays(1))

	recs, err := s.ListStreaksAtRisk(context.Background(), day0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "yesterday", recs[0].LearnerID)
}

func TestStore_Badges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	catalog := progress.DefaultCatalog()
	require.NoError(t, s.SaveBadgeDefinitions(ctx, catalog.Badges))
	// Saving again updates in place.
	require.NoError(t, s.SaveBadgeDefinitions(ctx, catalog.Badges))

	defs, err := s.GetBadgeDefinitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, catalog.Badges, defs)

	unlock := progress.BadgeUnlock{ID: uuid.NewString(), LearnerID: "emil", BadgeID: "first-lesson", UnlockedAt: time.Now()}
	rec, err := s.UnlockBadge(ctx, unlock, progress.Award{}, day0, progress.HistoryEntry{})
	require.NoError(t, err)
	assert.Nil(t, rec, "no reward, no record change")

	unlock.ID = uuid.NewString()
	_, err = s.UnlockBadge(ctx, unlock, progress.Award{}, day0, progress.HistoryEntry{})
	assert.ErrorIs(t, err, shared.ErrDuplicateUnlock)

	ids, err := s.GetUnlockedBadgeIDs(ctx, "emil")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"first-lesson": true}, ids)

	ids, err = s.GetUnlockedBadgeIDs(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_UnlockBadgePaysRewardOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	apply(t, s, "greta", progress.NewAward(progress.KindLessonAttended), day0)

	def := progress.BadgeDefinition{ID: "first-lesson", Name: "Erste Stunde", Metric: progress.MetricLessonsAttended, Threshold: 1, Reward: 25}
	reward := progress.BadgeAward(def)
	entry := func() progress.HistoryEntry {
		return progress.HistoryEntry{ID: uuid.NewString(), Kind: reward.Kind, Amount: reward.Amount, Reason: reward.Reason, BadgeID: def.ID, CreatedAt: time.Now()}
	}
	unlock := func() progress.BadgeUnlock {
		return progress.BadgeUnlock{ID: uuid.NewString(), LearnerID: "greta", BadgeID: def.ID, UnlockedAt: time.Now()}
	}

	rec, err := s.UnlockBadge(ctx, unlock(), reward, day0, entry())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 75, rec.TotalPoints)
	assert.Equal(t, 1, rec.LessonsAttended, "a reward moves no counter")

	_, err = s.UnlockBadge(ctx, unlock(), reward, day0, entry())
	assert.ErrorIs(t, err, shared.ErrDuplicateUnlock)

	rec, err = s.GetProgress(ctx, "greta")
	require.NoError(t, err)
	assert.Equal(t, 75, rec.TotalPoints, "a rejected unlock pays nothing")

	history, err := s.GetHistory(ctx, "greta", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestWrapError_Unavailable(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	for name, err := range map[string]error{
		"bad conn":  driver.ErrBadConn,
		"conn done": sql.ErrConnDone,
		"dial":      refused,
		"deadline":  context.DeadlineExceeded,
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, wrapError("get progress", err), shared.ErrPersistenceUnavailable)
		})
	}

	err := wrapError("get progress", errors.New("syntax error"))
	assert.NotErrorIs(t, err, shared.ErrPersistenceUnavailable)
	assert.Nil(t, wrapError("get progress", nil))
}

func TestStore_ConcurrentAwards(t *testing.T) {
	s := openTestStore(t)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			award := progress.NewAward(progress.KindExerciseSubmitted)
			entry := progress.HistoryEntry{ID: uuid.NewString(), Kind: award.Kind, Amount: award.Amount, CreatedAt: time.Now()}
			_, err := s.ApplyAward(context.Background(), "fritz", award, day0, entry)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := s.GetProgress(context.Background(), "fritz")
	require.NoError(t, err)
	assert.Equal(t, n*20, rec.TotalPoints)
	assert.Equal(t, n, rec.ExercisesCompleted)
}

func TestStore_Lessons(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveLessons(ctx,
		session.LessonSlot{ID: "l2", Title: "Hörverstehen", ScheduledDate: day0, ScheduledTime: timeutil.TimeOfDay{Hour: 18, Minute: 30}, DurationMinutes: 90},
		session.LessonSlot{ID: "l1", Title: "Grammatik", Level: "B1", ScheduledDate: day0, ScheduledTime: timeutil.TimeOfDay{Hour: 9}},
		session.LessonSlot{ID: "l3", Title: "Später", ScheduledDate: day0.AddDays(8), ScheduledTime: timeutil.TimeOfDay{Hour: 9}},
	))

	slots, err := s.ListBetween(ctx, day0, day0.AddDays(6))
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "l1", slots[0].ID)
	assert.Equal(t, "B1", slots[0].Level)
	assert.Equal(t, timeutil.TimeOfDay{Hour: 18, Minute: 30}, slots[1].ScheduledTime)
	assert.Equal(t, 90, slots[1].DurationMinutes)
}
