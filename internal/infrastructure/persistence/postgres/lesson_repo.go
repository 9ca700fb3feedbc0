package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/deutsch-portal/lernportal-hub/internal/domain/session"
	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

// LessonRepository reads the lesson schedule. The schedule is owned by the
// course administration; this service never writes it.
type LessonRepository struct {
	conn *Connection
}

// NewLessonRepository creates a new LessonRepository.
func NewLessonRepository(conn *Connection) *LessonRepository {
	return &LessonRepository{conn: conn}
}

var _ session.LessonSource = (*LessonRepository)(nil)

// ListBetween returns lessons scheduled from..to inclusive, ordered by start.
func (r *LessonRepository) ListBetween(ctx context.Context, from, to timeutil.CivilDate) ([]session.LessonSlot, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, title, group_id, level, scheduled_date, scheduled_time, duration_minutes
		FROM lesson_slots
		WHERE scheduled_date BETWEEN $1::date AND $2::date
		ORDER BY scheduled_date, scheduled_time, id
	`, from.String(), to.String())
	if err != nil {
		return nil, wrapError("list lessons", err)
	}
	defer rows.Close()

	var slots []session.LessonSlot
	for rows.Next() {
		var (
			s     session.LessonSlot
			date  time.Time
			clock pgtype.Time
		)
		if err := rows.Scan(&s.ID, &s.Title, &s.GroupID, &s.Level, &date, &clock, &s.DurationMinutes); err != nil {
			return nil, wrapError("scan lesson", err)
		}
		s.ScheduledDate = timeutil.DateOf(date)
		s.ScheduledTime = timeOfDay(clock)
		slots = append(slots, s)
	}
	return slots, wrapError("list lessons", rows.Err())
}

// timeOfDay converts a TIME column (microseconds since midnight).
func timeOfDay(t pgtype.Time) timeutil.TimeOfDay {
	minutes := t.Microseconds / int64(time.Minute/time.Microsecond)
	return timeutil.TimeOfDay{Hour: int(minutes / 60), Minute: int(minutes % 60)}
}
