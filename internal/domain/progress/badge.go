package progress

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// Metric - счётчик, по которому проверяется порог значка.
type Metric string

const (
	MetricLessonsAttended    Metric = "lessons_attended"
	MetricExercisesCompleted Metric = "exercises_completed"
	MetricPerfectScores      Metric = "perfect_scores"
	MetricStreak             Metric = "streak"
	MetricTotalPoints        Metric = "total_points"
)

// IsValid проверяет, что метрика известна.
func (m Metric) IsValid() bool {
	switch m {
	case MetricLessonsAttended, MetricExercisesCompleted, MetricPerfectScores,
		MetricStreak, MetricTotalPoints:
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGES
// ══════════════════════════════════════════════════════════════════════════════

// BadgeDefinition - описание значка. Статично, задаётся каталогом.
type BadgeDefinition struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
	Emoji       string `yaml:"emoji" json:"emoji,omitempty"`
	Metric      Metric `yaml:"metric" json:"metric"`
	Threshold   int    `yaml:"threshold" json:"threshold"`
	Reward      int    `yaml:"reward" json:"reward"`
}

// IsSatisfiedBy проверяет порог значка на снимке счётчиков.
func (d BadgeDefinition) IsSatisfiedBy(c Counters) bool {
	return c.Value(d.Metric) >= d.Threshold
}

// Validate проверяет одно описание значка.
func (d BadgeDefinition) Validate() error {
	switch {
	case strings.TrimSpace(d.ID) == "":
		return shared.ErrInvalidBadgeDefinition.Wrap(fmt.Errorf("badge id is empty"))
	case strings.TrimSpace(d.Name) == "":
		return shared.ErrInvalidBadgeDefinition.Wrap(fmt.Errorf("badge %q: name is empty", d.ID))
	case !d.Metric.IsValid():
		return shared.ErrInvalidBadgeDefinition.Wrap(fmt.Errorf("badge %q: unknown metric %q", d.ID, d.Metric))
	case d.Threshold <= 0:
		return shared.ErrInvalidBadgeDefinition.Wrap(fmt.Errorf("badge %q: threshold must be positive", d.ID))
	case d.Reward < 0:
		return shared.ErrInvalidBadgeDefinition.Wrap(fmt.Errorf("badge %q: reward must not be negative", d.ID))
	}
	return nil
}

// BadgeUnlock - факт получения значка. Создаётся один раз и не меняется.
type BadgeUnlock struct {
	ID         string
	LearnerID  string
	BadgeID    string
	UnlockedAt time.Time
}

// EligibleBadges возвращает значки, которые ещё не получены и чей порог достигнут.
// Порядок совпадает с порядком defs.
func EligibleBadges(defs []BadgeDefinition, unlocked map[string]bool, c Counters) []BadgeDefinition {
	var out []BadgeDefinition
	for _, def := range defs {
		if unlocked[def.ID] {
			continue
		}
		if def.IsSatisfiedBy(c) {
			out = append(out, def)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Catalog - набор значков портала.
type Catalog struct {
	Badges []BadgeDefinition `yaml:"badges"`
}

// Validate проверяет все описания и уникальность ID.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Badges))
	for _, def := range c.Badges {
		if err := def.Validate(); err != nil {
			return err
		}
		if seen[def.ID] {
			return shared.ErrInvalidBadgeDefinition.Wrap(fmt.Errorf("duplicate badge id %q", def.ID))
		}
		seen[def.ID] = true
	}
	return nil
}

// DefaultCatalog возвращает встроенный каталог значков.
func DefaultCatalog() *Catalog {
	return &Catalog{Badges: []BadgeDefinition{
		{ID: "first-lesson", Name: "Erste Stunde", Description: "Die erste Unterrichtsstunde besucht", Emoji: "🎒", Metric: MetricLessonsAttended, Threshold: 1, Reward: 25},
		{ID: "five-lessons", Name: "Stammgast", Description: "Fünf Unterrichtsstunden besucht", Emoji: "📚", Metric: MetricLessonsAttended, Threshold: 5, Reward: 50},
		{ID: "first-exercise", Name: "Erste Übung", Description: "Die erste Übung eingereicht", Emoji: "✏️", Metric: MetricExercisesCompleted, Threshold: 1, Reward: 25},
		{ID: "ten-exercises", Name: "Fleißig", Description: "Zehn Übungen eingereicht", Emoji: "📝", Metric: MetricExercisesCompleted, Threshold: 10, Reward: 75},
		{ID: "first-perfect", Name: "Fehlerfrei", Description: "Zum ersten Mal volle Punktzahl", Emoji: "💯", Metric: MetricPerfectScores, Threshold: 1, Reward: 40},
		{ID: "streak-3", Name: "Drei Tage am Stück", Description: "Drei Tage in Folge aktiv", Emoji: "🔥", Metric: MetricStreak, Threshold: 3, Reward: 30},
		{ID: "streak-7", Name: "Eine Woche am Stück", Description: "Sieben Tage in Folge aktiv", Emoji: "🏆", Metric: MetricStreak, Threshold: 7, Reward: 100},
	}}
}

// LoadBadgeCatalog читает каталог из YAML-файла и проверяет его.
func LoadBadgeCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read badge catalog: %w", err)
	}
	return ParseBadgeCatalog(data)
}

// ParseBadgeCatalog разбирает YAML-каталог.
func ParseBadgeCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, shared.ErrInvalidBadgeDefinition.Wrap(fmt.Errorf("parse badge catalog: %w", err))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
