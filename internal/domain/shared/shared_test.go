package shared

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

func TestDomainError_Matching(t *testing.T) {
	cause := errors.New("unique violation")
	err := ErrDuplicateUnlock.Wrap(cause)

	assert.ErrorIs(t, err, ErrDuplicateUnlock)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsAlreadyExists(err))
	assert.False(t, errors.Is(err, ErrUnknownEventKind))
	assert.Contains(t, err.Error(), "progress.UnlockBadge")
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(ErrUnknownEventKind))
	assert.True(t, IsValidation(ErrInvalidTimeInput))
	assert.True(t, IsValidation(ErrLearnerIDRequired))
	assert.False(t, IsValidation(ErrPersistenceUnavailable))
	assert.True(t, IsRetryable(ErrPersistenceUnavailable))
}

func TestNewLearnerID(t *testing.T) {
	id, err := NewLearnerID("  4b3c2f1e-aaaa-bbbb-cccc-1234567890ab ")
	require.NoError(t, err)
	assert.Equal(t, LearnerID("4b3c2f1e-aaaa-bbbb-cccc-1234567890ab"), id)

	_, err = NewLearnerID("   ")
	assert.ErrorIs(t, err, ErrLearnerIDRequired)

	_, err = NewLearnerID("bad id with spaces")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2025, time.March, 10, 23, 30, 0, 0, timeutil.BerlinTZ)
	clock := NewFixedClock(start)

	assert.Equal(t, timeutil.NewDate(2025, time.March, 10), clock.Today())

	clock.Advance(time.Hour)
	assert.Equal(t, timeutil.NewDate(2025, time.March, 11), clock.Today())

	clock.AdvanceDays(2)
	assert.Equal(t, timeutil.NewDate(2025, time.March, 13), clock.Today())
	assert.Equal(t, timeutil.BerlinTZ, clock.Location())
}

func TestNewEnvelope(t *testing.T) {
	at := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	ev := NewBadgeUnlockedEvent("l-1", "first-lesson", "Erste Stunde", 25, at)

	env, err := NewEnvelope("evt-1", ev)
	require.NoError(t, err)
	assert.Equal(t, EventBadgeUnlocked, env.Type)
	assert.Equal(t, "l-1", env.AggregateID)
	assert.Equal(t, 1, env.Version)
	assert.JSONEq(t, `{"learner_id":"l-1","badge_id":"first-lesson","badge_name":"Erste Stunde","reward":25}`, string(env.Payload))
}
