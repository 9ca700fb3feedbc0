package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

var now = time.Date(2025, time.March, 12, 14, 0, 0, 0, timeutil.BerlinTZ)

func TestWindow_CanJoin(t *testing.T) {
	w := DefaultWindow()
	cases := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"45 minutes ahead", 45 * time.Minute, false},
		{"20 minutes ahead", 20 * time.Minute, true},
		{"exactly 30 ahead", 30 * time.Minute, true},
		{"started 50 ago", -50 * time.Minute, true},
		{"started exactly 60 ago", -60 * time.Minute, true},
		{"started 90 ago", -90 * time.Minute, false},
		{"31 minutes ahead", 31 * time.Minute, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, w.CanJoin(now.Add(tc.offset), now))
		})
	}
}

func TestWindow_Bounds(t *testing.T) {
	w := DefaultWindow()
	start := now.Add(time.Hour)
	assert.Equal(t, now.Add(30*time.Minute), w.OpensAt(start))
	assert.Equal(t, now.Add(2*time.Hour), w.ClosesAt(start))
}

func TestTimeUntilLabel(t *testing.T) {
	cases := []struct {
		deltaMin float64
		want     string
	}{
		{-5, "in progress"},
		{0, "in 0min"},
		{45, "in 45min"},
		{44.6, "in 45min"},
		{130, "in 2h"},
		{150, "in 3h"},
		{2000, "in 1 day"},
		{1440 * 3, "in 3 days"},
	}
	for _, tc := range cases {
		start := now.Add(time.Duration(tc.deltaMin * float64(time.Minute)))
		assert.Equal(t, tc.want, TimeUntilLabel(start, now), "delta=%v", tc.deltaMin)
	}
}

func TestCanJoinAndLabel_CivilInputs(t *testing.T) {
	date := timeutil.NewDate(2025, time.March, 12)
	assert.True(t, CanJoin(date, timeutil.TimeOfDay{Hour: 14, Minute: 20}, now))
	assert.False(t, CanJoin(date, timeutil.TimeOfDay{Hour: 14, Minute: 45}, now))
	assert.Equal(t, "in 45min", Label(date, timeutil.TimeOfDay{Hour: 14, Minute: 45}, now))
}

func TestParseStart(t *testing.T) {
	start, err := ParseStart("2025-03-12", "14:30", timeutil.BerlinTZ)
	require.NoError(t, err)
	assert.True(t, now.Add(30*time.Minute).Equal(start))

	start, err = ParseStart("2025-03-12", "14:30:00", timeutil.BerlinTZ)
	require.NoError(t, err)
	assert.True(t, now.Add(30*time.Minute).Equal(start))

	_, err = ParseStart("12.03.2025", "14:30", timeutil.BerlinTZ)
	assert.ErrorIs(t, err, shared.ErrInvalidTimeInput)

	_, err = ParseStart("2025-03-12", "half past two", timeutil.BerlinTZ)
	assert.ErrorIs(t, err, shared.ErrInvalidTimeInput)
}

func slot(id string, day, hour int) LessonSlot {
	return LessonSlot{
		ID:            id,
		Title:         "Grammatik " + id,
		ScheduledDate: timeutil.NewDate(2025, time.March, day),
		ScheduledTime: timeutil.TimeOfDay{Hour: hour, Minute: 15},
	}
}

func TestBucketByDayAndHour(t *testing.T) {
	weekStart := timeutil.NewDate(2025, time.March, 10) // Monday
	slots := []LessonSlot{
		slot("b", 12, 10),
		slot("a", 12, 10),
		slot("late", 12, 22),
		slot("mon", 10, 8),
		slot("next-week", 17, 9),
		slot("sun", 16, 21),
	}
	original := append([]LessonSlot(nil), slots...)

	g, err := BucketByDayAndHour(slots, weekStart, DefaultHourRange())
	require.NoError(t, err)

	cell := g.Cell(2, 10)
	require.Len(t, cell, 2)
	assert.Equal(t, "b", cell[0].ID, "input order is kept inside a cell")
	assert.Equal(t, "a", cell[1].ID)

	assert.Len(t, g.Cell(0, 8), 1)
	assert.Len(t, g.Cell(6, 21), 1)
	assert.Nil(t, g.Cell(2, 22))
	assert.Equal(t, 4, g.Count(), "22:00 and next week's slot are dropped")

	assert.Equal(t, original, slots)
	assert.Equal(t, timeutil.NewDate(2025, time.March, 16), g.Days()[6])
	assert.Len(t, g.Cells[0], 14)
}

func TestBucketByDayAndHour_InvalidRange(t *testing.T) {
	_, err := BucketByDayAndHour(nil, timeutil.NewDate(2025, time.March, 10), HourRange{From: 20, To: 8})
	assert.ErrorIs(t, err, shared.ErrInvalidHourRange)
}
