// Package progress содержит доменную логику учёта прогресса ученика:
// очки, уровни, серии дней и значки.
package progress

import (
	"fmt"
	"strings"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT KINDS
// ══════════════════════════════════════════════════════════════════════════════

// EventKind - вид активности, за которую начисляются очки.
// Набор закрыт: все виды перечислены ниже.
type EventKind string

const (
	// KindLessonAttended - ученик посетил урок.
	KindLessonAttended EventKind = "lesson_attended"

	// KindExerciseSubmitted - ученик сдал упражнение.
	KindExerciseSubmitted EventKind = "exercise_submitted"

	// KindExerciseGraded - упражнение проверено преподавателем.
	KindExerciseGraded EventKind = "exercise_graded"

	// KindPerfectScore - упражнение выполнено без ошибок.
	KindPerfectScore EventKind = "perfect_score"

	// KindDailyLogin - первый вход за день.
	KindDailyLogin EventKind = "daily_login"

	// KindBadgeUnlocked - внутреннее начисление награды за значок.
	// Не может быть запрошено снаружи.
	KindBadgeUnlocked EventKind = "badge_unlocked"
)

// Counter - счётчик записи прогресса, который увеличивает событие.
type Counter int

const (
	CounterNone Counter = iota
	CounterLessonsAttended
	CounterExercisesCompleted
	CounterPerfectScores
)

// kindSpec описывает начисление для одного вида события.
type kindSpec struct {
	amount      int
	counter     Counter
	description string
}

var kindSpecs = map[EventKind]kindSpec{
	KindLessonAttended:    {amount: 50, counter: CounterLessonsAttended, description: "Unterricht besucht"},
	KindExerciseSubmitted: {amount: 20, counter: CounterExercisesCompleted, description: "Übung eingereicht"},
	KindExerciseGraded:    {amount: 10, counter: CounterNone, description: "Übung bewertet"},
	KindPerfectScore:      {amount: 30, counter: CounterPerfectScores, description: "Volle Punktzahl"},
	KindDailyLogin:        {amount: 5, counter: CounterNone, description: "Täglicher Login"},
	KindBadgeUnlocked:     {amount: 0, counter: CounterNone, description: "Abzeichen freigeschaltet"},
}

// PublicKinds возвращает виды событий, которые могут запрашивать клиенты.
func PublicKinds() []EventKind {
	return []EventKind{
		KindLessonAttended,
		KindExerciseSubmitted,
		KindExerciseGraded,
		KindPerfectScore,
		KindDailyLogin,
	}
}

// ParseEventKind разбирает строку из запроса.
// Неизвестные строки и внутренний KindBadgeUnlocked дают ErrUnknownEventKind.
func ParseEventKind(s string) (EventKind, error) {
	kind := EventKind(strings.ToLower(strings.TrimSpace(s)))
	if !kind.IsValid() || kind == KindBadgeUnlocked {
		return "", shared.ErrUnknownEventKind.Wrap(fmt.Errorf("kind %q", s))
	}
	return kind, nil
}

// IsValid проверяет, что вид события известен.
func (k EventKind) IsValid() bool {
	_, ok := kindSpecs[k]
	return ok
}

// Amount возвращает фиксированное число очков за событие.
// Для KindBadgeUnlocked сумма берётся из значка.
func (k EventKind) Amount() int {
	return kindSpecs[k].amount
}

// Counter возвращает счётчик, который увеличивает событие.
func (k EventKind) Counter() Counter {
	return kindSpecs[k].counter
}

// Description возвращает немецкое описание для истории начислений.
func (k EventKind) Description() string {
	return kindSpecs[k].description
}

// String реализует fmt.Stringer.
func (k EventKind) String() string {
	return string(k)
}
