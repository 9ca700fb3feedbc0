package config

import (
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles with gradual rollout by learner.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100). Learners are bucketed by a hash of their id.
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	LearnerID string
	IsAdmin   bool
}

// Predefined feature flag names.
const (
	// Evaluate and grant badges after every award.
	FeatureBadgeEvaluation = "ledger.badge_evaluation"

	// Reject unknown event kinds instead of ignoring them.
	FeatureStrictEventKinds = "ledger.strict_event_kinds"

	// Serve and maintain the Redis leaderboard cache.
	FeatureLeaderboardCache = "leaderboard.cache"

	// Mirror ledger events to Redis pub/sub.
	FeatureRealtimeEvents = "events.realtime"

	// Publish streak-at-risk reminders from the worker.
	FeatureStreakReminders = "notify.streak_reminders"
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns the defaults without reading the environment.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}
	ff.initializeDefaults()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.add(FeatureBadgeEvaluation, "Evaluate badges after every award", true)
	ff.add(FeatureStrictEventKinds, "Reject unknown event kinds with a validation error", true)
	ff.add(FeatureLeaderboardCache, "Serve the leaderboard from Redis", true)
	ff.add(FeatureRealtimeEvents, "Mirror ledger events to Redis pub/sub", false)
	ff.add(FeatureStreakReminders, "Publish streak-at-risk reminders", true)
}

func (ff *FeatureFlags) add(name, description string, enabled bool) {
	percent := 0
	if enabled {
		percent = 100
	}
	ff.features[name] = &Feature{
		Name:           name,
		Description:    description,
		Enabled:        enabled,
		RolloutPercent: percent,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_LEDGER_STRICT_EVENT_KINDS=false
// Example: FEATURE_EVENTS_REALTIME=25 (25% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "ledger.badge_evaluation" -> "FEATURE_LEDGER_BADGE_EVALUATION"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
// A nil context asks about the feature as a whole.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}
	if ctx != nil && ctx.IsAdmin {
		return true
	}
	if !feature.Enabled {
		return false
	}

	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.LearnerID != "" {
		return isInRollout(ctx.LearnerID, featureName, feature.RolloutPercent)
	}
	return feature.RolloutPercent > 0
}

// isInRollout uses consistent hashing so learners stay in their bucket.
func isInRollout(learnerID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(learnerID))
	return int(h.Sum32()%100) < percent
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns copies of all features sorted by name.
func (ff *FeatureFlags) GetAllFeatures() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make([]Feature, 0, len(ff.features))
	for _, v := range ff.features {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// --- Convenience methods for common checks ---
//
// The whole-feature accessors report true for any rollout above zero.
// Partial rollouts only bite through the per-learner accessors below.

func (ff *FeatureFlags) BadgeEvaluation() bool  { return ff.IsEnabled(FeatureBadgeEvaluation, nil) }
func (ff *FeatureFlags) StrictEventKinds() bool { return ff.IsEnabled(FeatureStrictEventKinds, nil) }
func (ff *FeatureFlags) LeaderboardCache() bool { return ff.IsEnabled(FeatureLeaderboardCache, nil) }
func (ff *FeatureFlags) RealtimeEvents() bool   { return ff.IsEnabled(FeatureRealtimeEvents, nil) }
func (ff *FeatureFlags) StreakReminders() bool  { return ff.IsEnabled(FeatureStreakReminders, nil) }

// EnabledFor checks a feature for one learner, honouring partial rollouts.
func (ff *FeatureFlags) EnabledFor(featureName, learnerID string) bool {
	return ff.IsEnabled(featureName, &FeatureContext{LearnerID: learnerID})
}

func (ff *FeatureFlags) BadgeEvaluationFor(learnerID string) bool {
	return ff.EnabledFor(FeatureBadgeEvaluation, learnerID)
}

func (ff *FeatureFlags) StrictEventKindsFor(learnerID string) bool {
	return ff.EnabledFor(FeatureStrictEventKinds, learnerID)
}

func (ff *FeatureFlags) RealtimeEventsFor(learnerID string) bool {
	return ff.EnabledFor(FeatureRealtimeEvents, learnerID)
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
