// Package session содержит логику доступа к онлайн-урокам: окно входа,
// подпись обратного отсчёта и раскладку уроков по сетке недели.
// Все функции чистые и не хранят состояния.
package session

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOIN WINDOW
// ══════════════════════════════════════════════════════════════════════════════

// Window - окно входа вокруг начала урока.
// Вход открыт с Before до начала и до After после начала, границы включены.
type Window struct {
	Before time.Duration
	After  time.Duration
}

// DefaultWindow: за 30 минут до начала и до 60 минут после.
func DefaultWindow() Window {
	return Window{Before: 30 * time.Minute, After: 60 * time.Minute}
}

// deltaMinutes - (start - now) в минутах, дробное.
func deltaMinutes(start, now time.Time) float64 {
	return start.Sub(now).Minutes()
}

// CanJoin сообщает, открыт ли вход в момент now для урока, начинающегося в start.
func (w Window) CanJoin(start, now time.Time) bool {
	d := deltaMinutes(start, now)
	return d <= w.Before.Minutes() && d >= -w.After.Minutes()
}

// OpensAt - момент открытия входа.
func (w Window) OpensAt(start time.Time) time.Time {
	return start.Add(-w.Before)
}

// ClosesAt - момент закрытия входа.
func (w Window) ClosesAt(start time.Time) time.Time {
	return start.Add(w.After)
}

// ══════════════════════════════════════════════════════════════════════════════
// COUNTDOWN LABEL
// ══════════════════════════════════════════════════════════════════════════════

// Пороги подписи в минутах.
const (
	minutesPerHour = 60
	minutesPerDay  = 1440
)

// TimeUntilLabel возвращает подпись до начала урока.
//
// Правила по порядку: delta < 0 - "in progress"; delta < 60 - минуты;
// delta < 1440 - часы; иначе дни. Округление до ближайшего целого.
func TimeUntilLabel(start, now time.Time) string {
	d := deltaMinutes(start, now)
	switch {
	case d < 0:
		return "in progress"
	case d < minutesPerHour:
		return fmt.Sprintf("in %dmin", int(math.Round(d)))
	case d < minutesPerDay:
		return fmt.Sprintf("in %dh", int(math.Round(d/minutesPerHour)))
	default:
		days := int(math.Round(d / minutesPerDay))
		if days == 1 {
			return "in 1 day"
		}
		return fmt.Sprintf("in %d days", days)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// START TIME
// ══════════════════════════════════════════════════════════════════════════════

// ParseStart собирает момент начала из даты (YYYY-MM-DD) и времени (HH:MM)
// в зоне loc. Некорректный ввод даёт ErrInvalidTimeInput.
func ParseStart(date, clock string, loc *time.Location) (time.Time, error) {
	d, err := timeutil.ParseDate(date)
	if err != nil {
		return time.Time{}, shared.ErrInvalidTimeInput.Wrap(err)
	}
	// "HH:MM:SS" из базы тоже принимаем.
	clock = strings.TrimSpace(clock)
	if len(clock) == len("15:04:05") {
		clock = clock[:5]
	}
	tod, err := timeutil.ParseTimeOfDay(clock)
	if err != nil {
		return time.Time{}, shared.ErrInvalidTimeInput.Wrap(err)
	}
	return tod.On(d, loc), nil
}

// CanJoin проверяет окно входа по умолчанию для даты и времени урока.
// Дата и время трактуются в зоне now.
func CanJoin(date timeutil.CivilDate, clock timeutil.TimeOfDay, now time.Time) bool {
	return DefaultWindow().CanJoin(clock.On(date, now.Location()), now)
}

// Label - TimeUntilLabel для даты и времени урока в зоне now.
func Label(date timeutil.CivilDate, clock timeutil.TimeOfDay, now time.Time) string {
	return TimeUntilLabel(clock.On(date, now.Location()), now)
}
