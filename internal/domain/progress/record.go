package progress

import (
	"time"

	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEVELS
// ══════════════════════════════════════════════════════════════════════════════

// PointsPerLevel - размер одного уровня в очках.
const PointsPerLevel = 500

// CalculateLevel вычисляет уровень по сумме очков: floor(total/500) + 1.
// Отрицательные суммы считаются нулём.
func CalculateLevel(totalPoints int) int {
	if totalPoints < 0 {
		totalPoints = 0
	}
	return totalPoints/PointsPerLevel + 1
}

// LevelProgress - положение ученика внутри текущего уровня.
type LevelProgress struct {
	Level             int `json:"level"`
	PointsIntoLevel   int `json:"points_into_level"`
	PointsToNextLevel int `json:"points_to_next_level"`
	LevelSize         int `json:"level_size"`
}

// ProgressForPoints возвращает LevelProgress для суммы очков.
func ProgressForPoints(totalPoints int) LevelProgress {
	if totalPoints < 0 {
		totalPoints = 0
	}
	into := totalPoints % PointsPerLevel
	return LevelProgress{
		Level:             CalculateLevel(totalPoints),
		PointsIntoLevel:   into,
		PointsToNextLevel: PointsPerLevel - into,
		LevelSize:         PointsPerLevel,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

// Streak - серия подряд идущих дней с активностью.
type Streak struct {
	Current      int
	Best         int
	LastActivity timeutil.CivilDate
}

// RecordActivity возвращает серию после активности в день today.
//
// Тот же день - без изменений. Следующий день - Current+1.
// Любой другой разрыв - Current=1. Best никогда не уменьшается.
func (s Streak) RecordActivity(today timeutil.CivilDate) Streak {
	if !s.LastActivity.IsZero() && !today.After(s.LastActivity) {
		return s
	}
	if !s.LastActivity.IsZero() && today.DaysSince(s.LastActivity) == 1 {
		s.Current++
	} else {
		s.Current = 1
	}
	if s.Current > s.Best {
		s.Best = s.Current
	}
	s.LastActivity = today
	return s
}

// IsActive - серия ещё жива: активность была сегодня или вчера.
func (s Streak) IsActive(today timeutil.CivilDate) bool {
	if s.LastActivity.IsZero() {
		return false
	}
	d := today.DaysSince(s.LastActivity)
	return d == 0 || d == 1
}

// AtRisk - активность была вчера, сегодня ещё нет.
// Без активности сегодня серия завтра оборвётся.
func (s Streak) AtRisk(today timeutil.CivilDate) bool {
	return s.Current > 0 && !s.LastActivity.IsZero() && today.DaysSince(s.LastActivity) == 1
}

// Effective возвращает отображаемую длину серии: ноль, если серия оборвана.
func (s Streak) Effective(today timeutil.CivilDate) int {
	if !s.IsActive(today) {
		return 0
	}
	return s.Current
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD
// ══════════════════════════════════════════════════════════════════════════════

// Award - одно начисление очков.
type Award struct {
	Kind    EventKind
	Amount  int
	Reason  string
	BadgeID string // только для KindBadgeUnlocked
}

// NewAward создаёт начисление для вида события с фиксированной суммой.
func NewAward(kind EventKind) Award {
	return Award{
		Kind:   kind,
		Amount: kind.Amount(),
		Reason: kind.Description(),
	}
}

// BadgeAward создаёт вторичное начисление награды за значок.
func BadgeAward(def BadgeDefinition) Award {
	return Award{
		Kind:    KindBadgeUnlocked,
		Amount:  def.Reward,
		Reason:  KindBadgeUnlocked.Description() + ": " + def.Name,
		BadgeID: def.ID,
	}
}

// Delta - приращения полей записи от одного начисления.
type Delta struct {
	Points             int
	LessonsAttended    int
	ExercisesCompleted int
	PerfectScores      int
}

// Delta возвращает приращения для начисления.
func (a Award) Delta() Delta {
	d := Delta{Points: a.Amount}
	switch a.Kind.Counter() {
	case CounterLessonsAttended:
		d.LessonsAttended = 1
	case CounterExercisesCompleted:
		d.ExercisesCompleted = 1
	case CounterPerfectScores:
		d.PerfectScores = 1
	}
	return d
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record - запись прогресса ученика. Одна на ученика.
//
// Инварианты: Level == CalculateLevel(TotalPoints), BestStreakDays >= CurrentStreakDays.
type Record struct {
	LearnerID          string
	TotalPoints        int
	Level              int
	CurrentStreakDays  int
	BestStreakDays     int
	LessonsAttended    int
	ExercisesCompleted int
	PerfectScores      int
	LastActivityDate   timeutil.CivilDate
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewRecord создаёт пустую запись. Так выглядит запись до первого начисления.
func NewRecord(learnerID string, now time.Time) *Record {
	return &Record{
		LearnerID: learnerID,
		Level:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Streak возвращает серию записи.
func (r Record) Streak() Streak {
	return Streak{
		Current:      r.CurrentStreakDays,
		Best:         r.BestStreakDays,
		LastActivity: r.LastActivityDate,
	}
}

// Apply возвращает запись после начисления в день today.
// Исходная запись не изменяется.
func (r Record) Apply(a Award, today timeutil.CivilDate, now time.Time) Record {
	d := a.Delta()
	next := r
	next.TotalPoints += d.Points
	next.Level = CalculateLevel(next.TotalPoints)
	next.LessonsAttended += d.LessonsAttended
	next.ExercisesCompleted += d.ExercisesCompleted
	next.PerfectScores += d.PerfectScores

	s := r.Streak().RecordActivity(today)
	next.CurrentStreakDays = s.Current
	next.BestStreakDays = s.Best
	next.LastActivityDate = s.LastActivity
	next.UpdatedAt = now
	return next
}

// Counters возвращает снимок счётчиков для проверки значков.
func (r Record) Counters() Counters {
	return Counters{
		TotalPoints:        r.TotalPoints,
		LessonsAttended:    r.LessonsAttended,
		ExercisesCompleted: r.ExercisesCompleted,
		PerfectScores:      r.PerfectScores,
		CurrentStreakDays:  r.CurrentStreakDays,
		BestStreakDays:     r.BestStreakDays,
	}
}

// LevelProgress возвращает положение внутри уровня.
func (r Record) LevelProgress() LevelProgress {
	return ProgressForPoints(r.TotalPoints)
}

// Counters - снимок счётчиков ученика после начисления.
type Counters struct {
	TotalPoints        int
	LessonsAttended    int
	ExercisesCompleted int
	PerfectScores      int
	CurrentStreakDays  int
	BestStreakDays     int
}

// Value возвращает значение метрики.
// Метрика streak читает BestStreakDays: оборванная серия не отнимает право на значок.
func (c Counters) Value(m Metric) int {
	switch m {
	case MetricLessonsAttended:
		return c.LessonsAttended
	case MetricExercisesCompleted:
		return c.ExercisesCompleted
	case MetricPerfectScores:
		return c.PerfectScores
	case MetricStreak:
		return c.BestStreakDays
	case MetricTotalPoints:
		return c.TotalPoints
	default:
		return 0
	}
}
