package query

import (
	"context"
	"fmt"
	"time"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/session"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOIN WINDOW QUERY
// Можно ли войти в урок сейчас и сколько до него осталось.
// ══════════════════════════════════════════════════════════════════════════════

// JoinWindowQuery - дата (YYYY-MM-DD) и время (HH:MM) урока.
type JoinWindowQuery struct {
	Date string
	Time string
}

// JoinWindowResult - ответ для кнопки "Войти".
type JoinWindowResult struct {
	Start    time.Time `json:"start"`
	CanJoin  bool      `json:"can_join"`
	Label    string    `json:"label"`
	OpensAt  time.Time `json:"opens_at"`
	ClosesAt time.Time `json:"closes_at"`
}

// JoinWindowHandler обрабатывает запрос окна входа.
type JoinWindowHandler struct {
	clock  shared.Clock
	window session.Window
}

// NewJoinWindowHandler создаёт обработчик.
func NewJoinWindowHandler(clock shared.Clock, window session.Window) *JoinWindowHandler {
	return &JoinWindowHandler{clock: clock, window: window}
}

// Handle выполняет запрос. Ошибочный ввод даёт ErrInvalidTimeInput.
func (h *JoinWindowHandler) Handle(ctx context.Context, query JoinWindowQuery) (*JoinWindowResult, error) {
	now := h.clock.Now()
	start, err := session.ParseStart(query.Date, query.Time, h.clock.Location())
	if err != nil {
		return nil, err
	}
	return &JoinWindowResult{
		Start:    start,
		CanJoin:  h.window.CanJoin(start, now),
		Label:    session.TimeUntilLabel(start, now),
		OpensAt:  h.window.OpensAt(start),
		ClosesAt: h.window.ClosesAt(start),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEK CALENDAR QUERY
// Сетка уроков недели: 7 дней x часы, в ячейке - уроки с отметкой окна входа.
// ══════════════════════════════════════════════════════════════════════════════

// WeekCalendarQuery - параметры запроса сетки.
type WeekCalendarQuery struct {
	// WeekStart - любой день недели (YYYY-MM-DD). Пусто - текущая неделя.
	// Сетка всегда начинается с понедельника.
	WeekStart string

	// Hours - диапазон часов. Нулевое значение - 8..21.
	Hours session.HourRange
}

// CalendarSlot - урок в ячейке сетки.
type CalendarSlot struct {
	session.LessonSlot
	CanJoin bool   `json:"can_join"`
	Label   string `json:"label"`
}

// CalendarRow - один час сетки: Cells[день] - уроки.
type CalendarRow struct {
	Hour  int              `json:"hour"`
	Cells [][]CalendarSlot `json:"cells"`
}

// WeekCalendarResult - сетка недели.
type WeekCalendarResult struct {
	WeekStart timeutil.CivilDate   `json:"week_start"`
	Days      []timeutil.CivilDate `json:"days"`
	Rows      []CalendarRow        `json:"rows"`
	Total     int                  `json:"total"`
}

// WeekCalendarHandler обрабатывает запрос сетки.
type WeekCalendarHandler struct {
	lessons session.LessonSource
	clock   shared.Clock
	window  session.Window
}

// NewWeekCalendarHandler создаёт обработчик. window решает флаг CanJoin
// у каждого занятия сетки и должно совпадать с окном JoinWindowHandler.
func NewWeekCalendarHandler(lessons session.LessonSource, clock shared.Clock, window session.Window) *WeekCalendarHandler {
	return &WeekCalendarHandler{lessons: lessons, clock: clock, window: window}
}

// Handle выполняет запрос.
func (h *WeekCalendarHandler) Handle(ctx context.Context, query WeekCalendarQuery) (*WeekCalendarResult, error) {
	day := h.clock.Today()
	if query.WeekStart != "" {
		d, err := timeutil.ParseDate(query.WeekStart)
		if err != nil {
			return nil, shared.ErrInvalidTimeInput.Wrap(err)
		}
		day = d
	}
	weekStart := day.StartOfWeek()

	hours := query.Hours
	if hours == (session.HourRange{}) {
		hours = session.DefaultHourRange()
	}

	slots, err := h.lessons.ListBetween(ctx, weekStart, weekStart.AddDays(session.DaysPerWeek-1))
	if err != nil {
		return nil, fmt.Errorf("week_calendar: %w", err)
	}

	grid, err := session.BucketByDayAndHour(slots, weekStart, hours)
	if err != nil {
		return nil, err
	}

	now := h.clock.Now()
	result := &WeekCalendarResult{
		WeekStart: weekStart,
		Days:      grid.Days(),
		Rows:      make([]CalendarRow, 0, hours.Len()),
		Total:     grid.Count(),
	}
	for hour := hours.From; hour <= hours.To; hour++ {
		row := CalendarRow{Hour: hour, Cells: make([][]CalendarSlot, session.DaysPerWeek)}
		for d := 0; d < session.DaysPerWeek; d++ {
			cell := grid.Cell(d, hour)
			out := make([]CalendarSlot, 0, len(cell))
			for _, slot := range cell {
				start := slot.Start(now.Location())
				out = append(out, CalendarSlot{
					LessonSlot: slot,
					CanJoin:    h.window.CanJoin(start, now),
					Label:      session.TimeUntilLabel(start, now),
				})
			}
			row.Cells[d] = out
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}
