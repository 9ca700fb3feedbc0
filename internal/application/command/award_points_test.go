package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/internal/infrastructure/persistence/memory"
	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// failingDefinitions makes badge definition lookups fail.
type failingDefinitions struct {
	*memory.Store
}

func (f failingDefinitions) GetBadgeDefinitions(ctx context.Context) ([]progress.BadgeDefinition, error) {
	return nil, errors.New("connection reset")
}

// flakyRewards fails badge reward writes a fixed number of times. A failed
// unlock stores nothing, as a rolled back transaction would.
type flakyRewards struct {
	*memory.Store
	mu       sync.Mutex
	failures int
}

func (f *flakyRewards) fail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures == 0 {
		return false
	}
	f.failures--
	return true
}

func (f *flakyRewards) ApplyAward(ctx context.Context, learnerID string, award progress.Award, today timeutil.CivilDate, entry progress.HistoryEntry) (*progress.Record, error) {
	if award.Kind == progress.KindBadgeUnlocked && f.fail() {
		return nil, shared.ErrPersistenceUnavailable
	}
	return f.Store.ApplyAward(ctx, learnerID, award, today, entry)
}

func (f *flakyRewards) UnlockBadge(ctx context.Context, unlock progress.BadgeUnlock, reward progress.Award, today timeutil.CivilDate, entry progress.HistoryEntry) (*progress.Record, error) {
	if reward.Amount > 0 && f.fail() {
		return nil, shared.ErrPersistenceUnavailable
	}
	return f.Store.UnlockBadge(ctx, unlock, reward, today, entry)
}

// learnerSwitches enables strict kinds and badges for listed learners only.
type learnerSwitches struct {
	strict map[string]bool
	badges map[string]bool
}

func (l learnerSwitches) StrictEventKindsFor(learnerID string) bool { return l.strict[learnerID] }
func (l learnerSwitches) BadgeEvaluationFor(learnerID string) bool  { return l.badges[learnerID] }

type fixture struct {
	store   *memory.Store
	clock   *shared.FixedClock
	pub     *recordingPublisher
	handler *AwardPointsHandler
}

func newFixture(t *testing.T, badges []progress.BadgeDefinition) *fixture {
	t.Helper()
	store := memory.NewStore()
	if len(badges) > 0 {
		require.NoError(t, store.SaveBadgeDefinitions(context.Background(), badges))
	}
	clock := shared.NewFixedClock(time.Date(2025, time.March, 3, 10, 0, 0, 0, timeutil.BerlinTZ))
	pub := &recordingPublisher{}
	h := NewAwardPointsHandler(store, clock, pub, nil, nil, DefaultAwardPointsHandlerConfig())
	return &fixture{store: store, clock: clock, pub: pub, handler: h}
}

func (f *fixture) award(t *testing.T, learner string, kind progress.EventKind) *AwardPointsResult {
	t.Helper()
	res, err := f.handler.Handle(context.Background(), AwardPointsCommand{LearnerID: learner, EventKind: kind.String()})
	require.NoError(t, err)
	return res
}

func TestAwardPoints_FirstAwardCreatesRecord(t *testing.T) {
	f := newFixture(t, nil)

	res := f.award(t, "anna", progress.KindLessonAttended)

	require.NotNil(t, res.Record)
	assert.Equal(t, 50, res.Record.TotalPoints)
	assert.Equal(t, 1, res.Record.Level)
	assert.Equal(t, 1, res.Record.LessonsAttended)
	assert.Equal(t, 1, res.Record.CurrentStreakDays)
	assert.Equal(t, f.clock.Today(), res.Record.LastActivityDate)
	assert.False(t, res.LeveledUp)
	assert.Len(t, f.pub.ofType(shared.EventPointsAwarded), 1)

	history, err := f.store.GetHistory(context.Background(), "anna", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 50, history[0].Amount)
	assert.Equal(t, progress.KindLessonAttended, history[0].Kind)
}

func TestAwardPoints_NTimesIsExact(t *testing.T) {
	f := newFixture(t, nil)

	const n = 12
	for i := 0; i < n; i++ {
		f.award(t, "ben", progress.KindExerciseSubmitted)
	}

	rec, err := f.store.GetProgress(context.Background(), "ben")
	require.NoError(t, err)
	assert.Equal(t, n*20, rec.TotalPoints)
	assert.Equal(t, n, rec.ExercisesCompleted)
	assert.Equal(t, 0, rec.LessonsAttended)
	assert.Equal(t, progress.CalculateLevel(rec.TotalPoints), rec.Level)
}

func TestAwardPoints_LevelUp(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 9; i++ {
		res := f.award(t, "cem", progress.KindLessonAttended)
		assert.False(t, res.LeveledUp)
	}

	res := f.award(t, "cem", progress.KindLessonAttended)
	assert.Equal(t, 500, res.Record.TotalPoints)
	assert.Equal(t, 1, res.PreviousLevel)
	assert.Equal(t, 2, res.Record.Level)
	assert.True(t, res.LeveledUp)

	levelUps := f.pub.ofType(shared.EventLevelUp)
	require.Len(t, levelUps, 1)
	assert.Equal(t, 2, levelUps[0].(shared.LevelUpEvent).NewLevel)
}

func TestAwardPoints_StreakAcrossDays(t *testing.T) {
	f := newFixture(t, nil)

	res := f.award(t, "dora", progress.KindDailyLogin)
	assert.Equal(t, 1, res.Record.CurrentStreakDays)

	res = f.award(t, "dora", progress.KindDailyLogin)
	assert.Equal(t, 1, res.Record.CurrentStreakDays)

	f.clock.AdvanceDays(1)
	res = f.award(t, "dora", progress.KindDailyLogin)
	assert.Equal(t, 2, res.Record.CurrentStreakDays)
	assert.Equal(t, 2, res.Record.BestStreakDays)

	f.clock.AdvanceDays(2)
	res = f.award(t, "dora", progress.KindDailyLogin)
	assert.Equal(t, 1, res.Record.CurrentStreakDays)
	assert.Equal(t, 2, res.Record.BestStreakDays)
}

func TestAwardPoints_BadgeUnlockGrantsRewardOnce(t *testing.T) {
	f := newFixture(t, progress.DefaultCatalog().Badges)

	res := f.award(t, "emil", progress.KindLessonAttended)
	require.Len(t, res.UnlockedBadges, 1)
	assert.Equal(t, "first-lesson", res.UnlockedBadges[0].ID)
	assert.Equal(t, 50+25, res.Record.TotalPoints)

	res = f.award(t, "emil", progress.KindLessonAttended)
	assert.Empty(t, res.UnlockedBadges)
	assert.Equal(t, 75+50, res.Record.TotalPoints)
	assert.Equal(t, 1, f.store.UnlockCount("emil"))

	history, err := f.store.GetHistory(context.Background(), "emil", 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Len(t, f.pub.ofType(shared.EventBadgeUnlocked), 1)
}

func TestEvaluateBadges_Idempotent(t *testing.T) {
	f := newFixture(t, progress.DefaultCatalog().Badges)
	counters := progress.Counters{LessonsAttended: 1}

	first, err := f.handler.EvaluateBadges(context.Background(), "fritz", counters)
	require.NoError(t, err)
	require.Len(t, first.Unlocked, 1)

	second, err := f.handler.EvaluateBadges(context.Background(), "fritz", counters)
	require.NoError(t, err)
	assert.Empty(t, second.Unlocked)
	assert.Nil(t, second.Record)
	assert.Equal(t, 1, f.store.UnlockCount("fritz"))
}

func TestEvaluateBadges_StreakBadgeSurvivesReset(t *testing.T) {
	streak3 := progress.BadgeDefinition{ID: "streak-3", Name: "Drei Tage", Metric: progress.MetricStreak, Threshold: 3, Reward: 30}
	f := newFixture(t, []progress.BadgeDefinition{streak3})

	f.award(t, "greta", progress.KindDailyLogin)
	f.clock.AdvanceDays(1)
	f.award(t, "greta", progress.KindDailyLogin)
	f.clock.AdvanceDays(1)
	res := f.award(t, "greta", progress.KindDailyLogin)
	require.Len(t, res.UnlockedBadges, 1)

	// Streak breaks.
	f.clock.AdvanceDays(3)
	res = f.award(t, "greta", progress.KindDailyLogin)
	assert.Equal(t, 1, res.Record.CurrentStreakDays)
	assert.Equal(t, 3, res.Record.BestStreakDays)
	assert.Empty(t, res.UnlockedBadges)

	unlocked, err := f.store.GetUnlockedBadgeIDs(context.Background(), "greta")
	require.NoError(t, err)
	assert.True(t, unlocked["streak-3"])

	eval, err := f.handler.EvaluateBadges(context.Background(), "greta", progress.Counters{CurrentStreakDays: 0, BestStreakDays: 3})
	require.NoError(t, err)
	assert.Empty(t, eval.Unlocked)
	assert.Equal(t, 1, f.store.UnlockCount("greta"))
}

func TestAwardPoints_RewardChainsIntoNextBadge(t *testing.T) {
	badges := []progress.BadgeDefinition{
		{ID: "first-lesson", Name: "Erste Stunde", Metric: progress.MetricLessonsAttended, Threshold: 1, Reward: 460},
		{ID: "points-500", Name: "500 Punkte", Metric: progress.MetricTotalPoints, Threshold: 500, Reward: 10},
	}
	f := newFixture(t, badges)

	res := f.award(t, "hanna", progress.KindLessonAttended)

	require.Len(t, res.UnlockedBadges, 2)
	assert.Equal(t, "first-lesson", res.UnlockedBadges[0].ID)
	assert.Equal(t, "points-500", res.UnlockedBadges[1].ID)
	assert.Equal(t, 520, res.Record.TotalPoints)
	assert.Equal(t, 1, res.PreviousLevel)
	assert.True(t, res.LeveledUp)
}

func TestAwardPoints_BadgeLookupFailureIsNotFatal(t *testing.T) {
	store := memory.NewStore()
	clock := shared.NewFixedClock(time.Date(2025, time.March, 3, 10, 0, 0, 0, timeutil.BerlinTZ))
	h := NewAwardPointsHandler(failingDefinitions{store}, clock, nil, nil, nil, DefaultAwardPointsHandlerConfig())

	res, err := h.Handle(context.Background(), AwardPointsCommand{LearnerID: "ida", EventKind: "lesson_attended"})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Record.TotalPoints)
	assert.Empty(t, res.UnlockedBadges)
}

func TestAwardPoints_UnknownKind(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.handler.Handle(context.Background(), AwardPointsCommand{LearnerID: "jan", EventKind: "homework_done"})
	assert.ErrorIs(t, err, shared.ErrUnknownEventKind)

	lenient := NewAwardPointsHandler(f.store, f.clock, nil, nil, nil, AwardPointsHandlerConfig{StrictEventKinds: false})
	res, err := lenient.Handle(context.Background(), AwardPointsCommand{LearnerID: "jan", EventKind: "homework_done"})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Nil(t, res.Record)

	_, err = f.store.GetProgress(context.Background(), "jan")
	assert.ErrorIs(t, err, shared.ErrProgressNotFound)
}

func TestAwardPoints_LearnerIDRequired(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.handler.Handle(context.Background(), AwardPointsCommand{LearnerID: " ", EventKind: "daily_login"})
	assert.ErrorIs(t, err, shared.ErrLearnerIDRequired)
}

func TestAwardPoints_ConcurrentAwardsLoseNothing(t *testing.T) {
	f := newFixture(t, progress.DefaultCatalog().Badges)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.handler.Handle(context.Background(), AwardPointsCommand{LearnerID: "kai", EventKind: "lesson_attended"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := f.store.GetProgress(context.Background(), "kai")
	require.NoError(t, err)
	assert.Equal(t, workers, rec.LessonsAttended)
	// first-lesson (25) and five-lessons (50) are granted exactly once.
	assert.Equal(t, workers*50+25+50, rec.TotalPoints)
	assert.Equal(t, 2, f.store.UnlockCount("kai"))
}

func TestAwardPoints_FailedRewardIsRetriedOnNextAward(t *testing.T) {
	store := &flakyRewards{Store: memory.NewStore(), failures: 1}
	require.NoError(t, store.SaveBadgeDefinitions(context.Background(), progress.DefaultCatalog().Badges))
	clock := shared.NewFixedClock(time.Date(2025, time.March, 3, 10, 0, 0, 0, timeutil.BerlinTZ))
	h := NewAwardPointsHandler(store, clock, nil, nil, nil, DefaultAwardPointsHandlerConfig())

	res, err := h.Handle(context.Background(), AwardPointsCommand{LearnerID: "lena", EventKind: "lesson_attended"})
	require.NoError(t, err, "a failed badge reward does not fail the award")
	assert.Equal(t, 50, res.Record.TotalPoints)
	assert.Empty(t, res.UnlockedBadges)
	assert.Equal(t, 0, store.UnlockCount("lena"), "unlock rolled back with its reward")

	res, err = h.Handle(context.Background(), AwardPointsCommand{LearnerID: "lena", EventKind: "lesson_attended"})
	require.NoError(t, err)
	require.Len(t, res.UnlockedBadges, 1)
	assert.Equal(t, "first-lesson", res.UnlockedBadges[0].ID)
	assert.Equal(t, 50+50+25, res.Record.TotalPoints)
	assert.Equal(t, 1, store.UnlockCount("lena"))
}

func TestAwardPoints_FeaturesDecidePerLearner(t *testing.T) {
	f := newFixture(t, progress.DefaultCatalog().Badges)
	switches := learnerSwitches{
		strict: map[string]bool{"mia": true},
		badges: map[string]bool{"mia": true},
	}
	cfg := AwardPointsHandlerConfig{Features: switches}
	h := NewAwardPointsHandler(f.store, f.clock, nil, nil, nil, cfg)

	_, err := h.Handle(context.Background(), AwardPointsCommand{LearnerID: "mia", EventKind: "homework_done"})
	assert.ErrorIs(t, err, shared.ErrUnknownEventKind)

	res, err := h.Handle(context.Background(), AwardPointsCommand{LearnerID: "nils", EventKind: "homework_done"})
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	res, err = h.Handle(context.Background(), AwardPointsCommand{LearnerID: "mia", EventKind: "lesson_attended"})
	require.NoError(t, err)
	assert.Len(t, res.UnlockedBadges, 1)

	res, err = h.Handle(context.Background(), AwardPointsCommand{LearnerID: "nils", EventKind: "lesson_attended"})
	require.NoError(t, err)
	assert.Empty(t, res.UnlockedBadges)
	assert.Equal(t, 50, res.Record.TotalPoints)
	assert.Equal(t, 0, f.store.UnlockCount("nils"))
}
