// Package memory implements the progress repository and the lesson source
// in process memory. It backs unit tests and the STORE_DRIVER=memory mode.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/session"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

// Store is a goroutine-safe in-memory store. A single mutex serialises
// every write, which gives ApplyAward and UnlockBadge the same atomicity as
// a transaction.
type Store struct {
	mu      sync.RWMutex
	records map[string]*progress.Record
	history map[string][]progress.HistoryEntry
	defs    []progress.BadgeDefinition
	unlocks map[string]map[string]progress.BadgeUnlock
	lessons []session.LessonSlot
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*progress.Record),
		history: make(map[string][]progress.HistoryEntry),
		unlocks: make(map[string]map[string]progress.BadgeUnlock),
	}
}

// Compile-time interface checks.
var (
	_ progress.Repository  = (*Store)(nil)
	_ session.LessonSource = (*Store)(nil)
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// GetProgress implements progress.Repository.
func (s *Store) GetProgress(ctx context.Context, learnerID string) (*progress.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[learnerID]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	cp := *rec
	return &cp, nil
}

// ApplyAward implements progress.Repository.
func (s *Store) ApplyAward(ctx context.Context, learnerID string, award progress.Award, today timeutil.CivilDate, entry progress.HistoryEntry) (*progress.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.ErrPersistenceUnavailable.Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(learnerID, award, today, entry), nil
}

// applyLocked must be called with mu held.
func (s *Store) applyLocked(learnerID string, award progress.Award, today timeutil.CivilDate, entry progress.HistoryEntry) *progress.Record {
	rec, ok := s.records[learnerID]
	if !ok {
		rec = progress.NewRecord(learnerID, entry.CreatedAt)
	}
	next := rec.Apply(award, today, entry.CreatedAt)
	s.records[learnerID] = &next

	entry.LearnerID = learnerID
	s.history[learnerID] = append(s.history[learnerID], entry)

	cp := next
	return &cp
}

// GetHistory implements progress.Repository.
func (s *Store) GetHistory(ctx context.Context, learnerID string, limit int) ([]progress.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[learnerID]
	out := make([]progress.HistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, entries[i])
	}
	return out, nil
}

// GetLeaderboard implements progress.Repository.
func (s *Store) GetLeaderboard(ctx context.Context, limit int) ([]progress.LeaderboardEntry, error) {
	s.mu.RLock()
	entries := make([]progress.LeaderboardEntry, 0, len(s.records))
	for _, rec := range s.records {
		entries = append(entries, progress.EntryFromRecord(rec))
	}
	s.mu.RUnlock()

	return progress.RankTop(entries, limit), nil
}

// ListStreaksAtRisk implements progress.Repository.
func (s *Store) ListStreaksAtRisk(ctx context.Context, yesterday timeutil.CivilDate) ([]*progress.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*progress.Record
	for _, rec := range s.records {
		if rec.CurrentStreakDays > 0 && rec.LastActivityDate == yesterday {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LearnerID < out[j].LearnerID })
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGES
// ══════════════════════════════════════════════════════════════════════════════

// SaveBadgeDefinitions implements progress.Repository.
func (s *Store) SaveBadgeDefinitions(ctx context.Context, defs []progress.BadgeDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, def := range defs {
		replaced := false
		for i := range s.defs {
			if s.defs[i].ID == def.ID {
				s.defs[i] = def
				replaced = true
				break
			}
		}
		if !replaced {
			s.defs = append(s.defs, def)
		}
	}
	return nil
}

// GetBadgeDefinitions implements progress.Repository.
func (s *Store) GetBadgeDefinitions(ctx context.Context) ([]progress.BadgeDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]progress.BadgeDefinition(nil), s.defs...), nil
}

// GetUnlockedBadgeIDs implements progress.Repository.
func (s *Store) GetUnlockedBadgeIDs(ctx context.Context, learnerID string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(s.unlocks[learnerID]))
	for id := range s.unlocks[learnerID] {
		out[id] = true
	}
	return out, nil
}

// UnlockBadge implements progress.Repository.
func (s *Store) UnlockBadge(ctx context.Context, unlock progress.BadgeUnlock, reward progress.Award, today timeutil.CivilDate, entry progress.HistoryEntry) (*progress.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.ErrPersistenceUnavailable.Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byBadge, ok := s.unlocks[unlock.LearnerID]
	if !ok {
		byBadge = make(map[string]progress.BadgeUnlock)
		s.unlocks[unlock.LearnerID] = byBadge
	}
	if _, exists := byBadge[unlock.BadgeID]; exists {
		return nil, shared.ErrDuplicateUnlock
	}
	byBadge[unlock.BadgeID] = unlock

	if reward.Amount <= 0 {
		return nil, nil
	}
	return s.applyLocked(unlock.LearnerID, reward, today, entry), nil
}

// UnlockCount returns the number of unlock rows for a learner.
func (s *Store) UnlockCount(learnerID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.unlocks[learnerID])
}

// ══════════════════════════════════════════════════════════════════════════════
// LESSONS
// ══════════════════════════════════════════════════════════════════════════════

// AddLessons appends lesson slots.
func (s *Store) AddLessons(slots ...session.LessonSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lessons = append(s.lessons, slots...)
}

// ListBetween implements session.LessonSource.
func (s *Store) ListBetween(ctx context.Context, from, to timeutil.CivilDate) ([]session.LessonSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []session.LessonSlot
	for _, slot := range s.lessons {
		if slot.ScheduledDate.Before(from) || slot.ScheduledDate.After(to) {
			continue
		}
		out = append(out, slot)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ScheduledDate != b.ScheduledDate {
			return a.ScheduledDate.Before(b.ScheduledDate)
		}
		return a.ScheduledTime.String() < b.ScheduledTime.String()
	})
	return out, nil
}
