package redis

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/pkg/circuitbreaker"
	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
)

func TestKeys(t *testing.T) {
	k := NewKeys("lernportal:")
	assert.Equal(t, "lernportal:leaderboard:points:all", k.LeaderboardPoints("all"))
	assert.Equal(t, "lernportal:leaderboard:info:all", k.LeaderboardInfo("all"))
	assert.Equal(t, "lernportal:leaderboard:meta:all", k.LeaderboardMeta("all"))
	assert.Equal(t, "lernportal:pubsub:events", k.Channel(TopicEvents))
}

func TestMergeBoundary_PullsInTiedMembers(t *testing.T) {
	head := []redis.Z{
		{Score: 300, Member: "anna"},
		{Score: 120, Member: "zoe"},
	}
	// "ben" shares the boundary score but Redis ordered it outside the window.
	members, scores := mergeBoundary(head, []string{"ben", "zoe"})

	assert.Equal(t, []string{"anna", "zoe", "ben"}, members)
	assert.Equal(t, 120.0, scores["ben"])
	assert.Equal(t, 300.0, scores["anna"])
}

func TestMergeBoundary_Empty(t *testing.T) {
	members, scores := mergeBoundary(nil, []string{"x"})
	assert.Empty(t, members)
	assert.Empty(t, scores)
}

func TestDecodeEntries_TieOrderFollowsCreation(t *testing.T) {
	older := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	newer := older.Add(48 * time.Hour)

	encode := func(e progress.LeaderboardEntry) string {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		return string(b)
	}

	members := []string{"anna", "zoe", "ben"}
	scores := map[string]float64{"anna": 300, "zoe": 120, "ben": 120}
	raw := []interface{}{
		encode(progress.LeaderboardEntry{LearnerID: "anna", TotalPoints: 300, Level: 1, CreatedAt: newer}),
		encode(progress.LeaderboardEntry{LearnerID: "zoe", TotalPoints: 120, Level: 1, CreatedAt: newer}),
		encode(progress.LeaderboardEntry{LearnerID: "ben", TotalPoints: 120, Level: 1, BestStreakDays: 4, CreatedAt: older}),
	}

	entries := progress.RankTop(decodeEntries(members, scores, raw, logger.Nop()), 2)
	require.Len(t, entries, 2)
	assert.Equal(t, "anna", entries[0].LearnerID)
	assert.Equal(t, "ben", entries[1].LearnerID, "the older record wins the tie")
	assert.Equal(t, 2, entries[1].Rank)
	assert.Equal(t, 4, entries[1].BestStreakDays)
}

func TestDecodeEntries_MissingOrBrokenInfo(t *testing.T) {
	members := []string{"anna", "ben"}
	scores := map[string]float64{"anna": 1050, "ben": 20}
	raw := []interface{}{nil, "{not json"}

	entries := decodeEntries(members, scores, raw, logger.Nop())
	require.Len(t, entries, 2)
	assert.Equal(t, 1050, entries[0].TotalPoints)
	assert.Equal(t, 3, entries[0].Level)
	assert.Equal(t, "ben", entries[1].LearnerID)
	assert.Equal(t, 20, entries[1].TotalPoints)
}

type fakePublishClient struct {
	channel string
	message []byte
	err     error
}

func (f *fakePublishClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestPublisher_PublishesEnvelope(t *testing.T) {
	client := &fakePublishClient{}
	p := newPublisher(client, "lernportal:pubsub:events")
	p.newID = func() string { return "evt-1" }

	at := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	event := shared.NewPointsAwardedEvent("anna", "lesson_attended", 50, 550, 2, at)
	require.NoError(t, p.Publish(event))

	assert.Equal(t, "lernportal:pubsub:events", client.channel)

	var env shared.EventEnvelope
	require.NoError(t, json.Unmarshal(client.message, &env))
	assert.Equal(t, "evt-1", env.ID)
	assert.Equal(t, shared.EventPointsAwarded, env.Type)
	assert.Equal(t, "anna", env.AggregateID)
	assert.True(t, at.Equal(env.Timestamp))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.EqualValues(t, 550, payload["total_points"])
}

func TestPublisher_PropagatesClientError(t *testing.T) {
	client := &fakePublishClient{err: errors.New("connection refused")}
	p := newPublisher(client, "c")

	err := p.Publish(shared.NewPointsAwardedEvent("anna", "daily_login", 5, 5, 1, time.Now()))
	assert.EqualError(t, err, "connection refused")
}

func TestDecodeEntries_LevelFollowsScore(t *testing.T) {
	stale, err := json.Marshal(progress.LeaderboardEntry{LearnerID: "anna", TotalPoints: 450, Level: 1})
	require.NoError(t, err)

	entries := decodeEntries([]string{"anna"}, map[string]float64{"anna": 1050}, []interface{}{string(stale)}, logger.Nop())
	require.Len(t, entries, 1)
	assert.Equal(t, 1050, entries[0].TotalPoints)
	assert.Equal(t, 3, entries[0].Level)
}

func TestLeaderboardCache_CheckReportsOpenBreaker(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	lb := NewLeaderboardCache(&Cache{client: client, keys: NewKeys("test:")}, time.Minute, nil)

	ctx := context.Background()
	require.NoError(t, lb.Check(ctx))

	for i := 0; i < 3; i++ {
		assert.Error(t, lb.Upsert(ctx, progress.LeaderboardEntry{LearnerID: "anna", TotalPoints: 50}))
	}
	assert.Equal(t, circuitbreaker.StateOpen, lb.BreakerState())
	assert.ErrorIs(t, lb.Check(ctx), ErrCacheDegraded)
}

// openLiveCache connects to REDIS_TEST_ADDR or skips the test.
func openLiveCache(t *testing.T) *LeaderboardCache {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	lb := NewLeaderboardCache(&Cache{client: client, keys: NewKeys("test:" + uuid.NewString() + ":")}, time.Minute, nil)
	t.Cleanup(func() { _ = lb.Invalidate(context.Background()) })
	return lb
}

func TestLeaderboardCache_UpsertNeverLowersScore(t *testing.T) {
	lb := openLiveCache(t)
	ctx := context.Background()

	require.NoError(t, lb.Replace(ctx, []progress.LeaderboardEntry{
		{LearnerID: "anna", TotalPoints: 100},
		{LearnerID: "ben", TotalPoints: 80},
	}))

	require.NoError(t, lb.Upsert(ctx, progress.LeaderboardEntry{LearnerID: "anna", TotalPoints: 175}))
	// A slower request carrying an older total lands last.
	require.NoError(t, lb.Upsert(ctx, progress.LeaderboardEntry{LearnerID: "anna", TotalPoints: 150}))
	require.NoError(t, lb.Upsert(ctx, progress.LeaderboardEntry{LearnerID: "cem", TotalPoints: 5}))

	top, err := lb.Top(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "anna", top[0].LearnerID)
	assert.Equal(t, 175, top[0].TotalPoints)
	assert.Equal(t, "cem", top[2].LearnerID)
}

func TestLeaderboardCache_InvalidateGoesCold(t *testing.T) {
	lb := openLiveCache(t)
	ctx := context.Background()

	require.NoError(t, lb.Replace(ctx, []progress.LeaderboardEntry{{LearnerID: "anna", TotalPoints: 100}}))
	top, err := lb.Top(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)

	require.NoError(t, lb.Invalidate(ctx))
	top, err = lb.Top(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, top)

	// A cold cache is not warmed by single upserts.
	require.NoError(t, lb.Upsert(ctx, progress.LeaderboardEntry{LearnerID: "anna", TotalPoints: 150}))
	top, err = lb.Top(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, top)
}
