package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/pkg/circuitbreaker"
	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
)

// defaultScope is the only leaderboard the portal keeps today.
const defaultScope = "all"

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache keeps the leaderboard in a sorted set (learner id ->
// total points) next to a hash with the entry JSON. It implements
// progress.LeaderboardCache.
//
// A snapshot is only served while its meta key exists. Upsert never warms a
// cold cache: a partially filled set would rank learners wrongly.
//
// Top and Upsert run behind a circuit breaker. Replace and Invalidate
// bypass it.
type LeaderboardCache struct {
	client  *redis.Client
	keys    Keys
	scope   string
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

// NewLeaderboardCache creates a leaderboard cache on top of cache.
// A non-positive ttl selects TTLLeaderboardCache.
func NewLeaderboardCache(cache *Cache, ttl time.Duration, log *logger.Logger) *LeaderboardCache {
	if ttl <= 0 {
		ttl = TTLLeaderboardCache
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("leaderboard_cache"))
	return &LeaderboardCache{
		client: cache.Client(),
		keys:   cache.Keys(),
		scope:  defaultScope,
		ttl:    ttl,
		breaker: circuitbreaker.CacheBreaker("leaderboard-cache", func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
		log: log,
	}
}

// ErrCacheDegraded is reported by Check while the breaker is open.
var ErrCacheDegraded = errors.New("leaderboard cache: circuit breaker open")

// BreakerState reports the circuit breaker position.
func (l *LeaderboardCache) BreakerState() circuitbreaker.State {
	return l.breaker.State()
}

// Check is a health check that fails while the breaker is open.
func (l *LeaderboardCache) Check(context.Context) error {
	if l.BreakerState() == circuitbreaker.StateOpen {
		return ErrCacheDegraded
	}
	return nil
}

// Upsert writes one learner's row after an award.
func (l *LeaderboardCache) Upsert(ctx context.Context, entry progress.LeaderboardEntry) error {
	return l.breaker.Execute(ctx, func(ctx context.Context) error {
		return l.upsert(ctx, entry)
	})
}

func (l *LeaderboardCache) upsert(ctx context.Context, entry progress.LeaderboardEntry) error {
	ready, err := l.ready(ctx)
	if err != nil || !ready {
		return err
	}

	entry.Rank = 0
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	pointsKey := l.keys.LeaderboardPoints(l.scope)
	infoKey := l.keys.LeaderboardInfo(l.scope)

	pipe := l.client.TxPipeline()
	// Points only grow, so GT keeps a late write from an older award
	// from lowering the score.
	pipe.ZAddGT(ctx, pointsKey, redis.Z{Score: float64(entry.TotalPoints), Member: entry.LearnerID})
	pipe.HSet(ctx, infoKey, entry.LearnerID, data)
	pipe.Expire(ctx, pointsKey, l.ttl)
	pipe.Expire(ctx, infoKey, l.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Top returns the best limit rows. A cold cache yields an empty slice and
// no error so the caller can fall back to the store.
func (l *LeaderboardCache) Top(ctx context.Context, limit int) ([]progress.LeaderboardEntry, error) {
	var entries []progress.LeaderboardEntry
	err := l.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		entries, err = l.top(ctx, limit)
		return err
	})
	return entries, err
}

func (l *LeaderboardCache) top(ctx context.Context, limit int) ([]progress.LeaderboardEntry, error) {
	ready, err := l.ready(ctx)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, nil
	}

	pointsKey := l.keys.LeaderboardPoints(l.scope)
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	head, err := l.client.ZRevRangeWithScores(ctx, pointsKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(head) == 0 {
		return []progress.LeaderboardEntry{}, nil
	}

	// Members sharing the boundary score may sit outside the window in
	// Redis order. Load all of them and let the domain ordering decide.
	var tied []string
	if limit > 0 && len(head) == limit {
		boundary := formatScore(head[len(head)-1].Score)
		tied, err = l.client.ZRangeByScore(ctx, pointsKey, &redis.ZRangeBy{Min: boundary, Max: boundary}).Result()
		if err != nil {
			return nil, err
		}
	}
	members, scores := mergeBoundary(head, tied)

	raw, err := l.client.HMGet(ctx, l.keys.LeaderboardInfo(l.scope), members...).Result()
	if err != nil {
		return nil, err
	}
	entries := decodeEntries(members, scores, raw, l.log)
	return progress.RankTop(entries, limit), nil
}

// Replace swaps the cached leaderboard for a full snapshot.
func (l *LeaderboardCache) Replace(ctx context.Context, entries []progress.LeaderboardEntry) error {
	pointsKey := l.keys.LeaderboardPoints(l.scope)
	infoKey := l.keys.LeaderboardInfo(l.scope)
	metaKey := l.keys.LeaderboardMeta(l.scope)

	zs := make([]redis.Z, 0, len(entries))
	info := make(map[string]interface{}, len(entries))
	for _, e := range entries {
		e.Rank = 0
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		zs = append(zs, redis.Z{Score: float64(e.TotalPoints), Member: e.LearnerID})
		info[e.LearnerID] = data
	}

	pipe := l.client.TxPipeline()
	pipe.Del(ctx, pointsKey, infoKey)
	if len(zs) > 0 {
		pipe.ZAdd(ctx, pointsKey, zs...)
		pipe.HSet(ctx, infoKey, info)
		pipe.Expire(ctx, pointsKey, l.ttl)
		pipe.Expire(ctx, infoKey, l.ttl)
	}
	pipe.Set(ctx, metaKey, time.Now().UTC().Format(time.RFC3339), l.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	l.log.Debug("leaderboard cache replaced", logger.Int("entries", len(entries)))
	return nil
}

// Invalidate drops the snapshot so reads go to the store until the next
// rebuild.
func (l *LeaderboardCache) Invalidate(ctx context.Context) error {
	return l.client.Del(ctx,
		l.keys.LeaderboardMeta(l.scope),
		l.keys.LeaderboardPoints(l.scope),
		l.keys.LeaderboardInfo(l.scope),
	).Err()
}

func (l *LeaderboardCache) ready(ctx context.Context) (bool, error) {
	n, err := l.client.Exists(ctx, l.keys.LeaderboardMeta(l.scope)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// mergeBoundary returns the members of head plus every tied member that
// shares the lowest score of head. Scores are keyed by member.
func mergeBoundary(head []redis.Z, tied []string) ([]string, map[string]float64) {
	scores := make(map[string]float64, len(head)+len(tied))
	members := make([]string, 0, len(head)+len(tied))
	for _, z := range head {
		id := fmt.Sprint(z.Member)
		if _, seen := scores[id]; seen {
			continue
		}
		scores[id] = z.Score
		members = append(members, id)
	}
	if len(head) == 0 {
		return members, scores
	}
	boundary := head[len(head)-1].Score
	for _, id := range tied {
		if _, seen := scores[id]; seen {
			continue
		}
		scores[id] = boundary
		members = append(members, id)
	}
	return members, scores
}

// decodeEntries turns HMGET values into entries. The sorted set is the
// source of truth for points and level; a missing or broken hash value
// degrades to a row built from the score alone.
func decodeEntries(members []string, scores map[string]float64, raw []interface{}, log *logger.Logger) []progress.LeaderboardEntry {
	entries := make([]progress.LeaderboardEntry, 0, len(members))
	for i, id := range members {
		var entry progress.LeaderboardEntry
		if i < len(raw) {
			if s, ok := raw[i].(string); ok {
				if err := json.Unmarshal([]byte(s), &entry); err != nil {
					log.Warn("broken leaderboard entry", logger.LearnerID(id), logger.Err(err))
					entry = progress.LeaderboardEntry{}
				}
			}
		}
		entry.LearnerID = id
		entry.TotalPoints = int(scores[id])
		entry.Level = progress.CalculateLevel(entry.TotalPoints)
		entries = append(entries, entry)
	}
	return entries
}
