package session

import (
	"context"
	"fmt"
	"time"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON SLOT
// ══════════════════════════════════════════════════════════════════════════════

// LessonSlot - запланированный урок. Только чтение.
type LessonSlot struct {
	ID              string             `json:"id"`
	Title           string             `json:"title"`
	GroupID         string             `json:"group_id,omitempty"`
	Level           string             `json:"level,omitempty"` // CEFR: A1..C2
	ScheduledDate   timeutil.CivilDate `json:"scheduled_date"`
	ScheduledTime   timeutil.TimeOfDay `json:"scheduled_time"`
	DurationMinutes int                `json:"duration_minutes,omitempty"`
}

// Start возвращает момент начала урока в зоне loc.
func (s LessonSlot) Start(loc *time.Location) time.Time {
	return s.ScheduledTime.On(s.ScheduledDate, loc)
}

// LessonSource поставляет уроки за диапазон дат включительно.
type LessonSource interface {
	ListBetween(ctx context.Context, from, to timeutil.CivilDate) ([]LessonSlot, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEK GRID
// ══════════════════════════════════════════════════════════════════════════════

// DaysPerWeek - число колонок сетки.
const DaysPerWeek = 7

// HourRange - диапазон часов сетки, обе границы включены.
type HourRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// DefaultHourRange: с 8 до 21 часа.
func DefaultHourRange() HourRange {
	return HourRange{From: 8, To: 21}
}

// Validate проверяет диапазон.
func (h HourRange) Validate() error {
	if h.From < 0 || h.To > 23 || h.From > h.To {
		return shared.ErrInvalidHourRange.Wrap(fmt.Errorf("hours %d-%d", h.From, h.To))
	}
	return nil
}

// Len - число строк сетки.
func (h HourRange) Len() int {
	return h.To - h.From + 1
}

// Contains сообщает, попадает ли час в диапазон.
func (h HourRange) Contains(hour int) bool {
	return hour >= h.From && hour <= h.To
}

// Grid - сетка 7 x N: Cells[день][час-From] - уроки в ячейке
// в порядке входного списка.
type Grid struct {
	WeekStart timeutil.CivilDate
	Hours     HourRange
	Cells     [DaysPerWeek][][]LessonSlot
}

// Cell возвращает уроки ячейки. Вне диапазона - nil.
func (g Grid) Cell(dayIndex, hour int) []LessonSlot {
	if dayIndex < 0 || dayIndex >= DaysPerWeek || !g.Hours.Contains(hour) {
		return nil
	}
	return g.Cells[dayIndex][hour-g.Hours.From]
}

// Days возвращает даты колонок.
func (g Grid) Days() []timeutil.CivilDate {
	days := make([]timeutil.CivilDate, DaysPerWeek)
	for i := range days {
		days[i] = g.WeekStart.AddDays(i)
	}
	return days
}

// Count - число уроков в сетке.
func (g Grid) Count() int {
	n := 0
	for d := range g.Cells {
		for _, cell := range g.Cells[d] {
			n += len(cell)
		}
	}
	return n
}

// BucketByDayAndHour раскладывает уроки по дням недели, начиная с weekStart,
// и по часам начала. Уроки вне недели или вне диапазона часов не попадают
// ни в одну ячейку. Входной срез не изменяется.
func BucketByDayAndHour(slots []LessonSlot, weekStart timeutil.CivilDate, hours HourRange) (Grid, error) {
	if err := hours.Validate(); err != nil {
		return Grid{}, err
	}

	g := Grid{WeekStart: weekStart, Hours: hours}
	for d := 0; d < DaysPerWeek; d++ {
		g.Cells[d] = make([][]LessonSlot, hours.Len())
	}

	for _, slot := range slots {
		dayIndex := slot.ScheduledDate.DaysSince(weekStart)
		if dayIndex < 0 || dayIndex >= DaysPerWeek {
			continue
		}
		hour := slot.ScheduledTime.Hour
		if !hours.Contains(hour) {
			continue
		}
		idx := hour - hours.From
		g.Cells[dayIndex][idx] = append(g.Cells[dayIndex][idx], slot)
	}
	return g, nil
}
