package schedule

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"academyportal/internal/apperr"
)

// Repository reads schedules from Postgres.
type Repository struct {
	db *sql.DB
}

var _ Catalog = (*Repository)(nil)

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get returns a schedule by id, or nil when it does not exist.
func (r *Repository) Get(ctx context.Context, id int64) (*Schedule, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, academy_id, instructor_member_id, class_name, location, weekday,
		       to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), active
		FROM schedules WHERE id = $1
	`, id)

	var (
		s          Schedule
		instructor sql.NullInt64
		weekday    int16
	)
	if err := row.Scan(&s.ID, &s.AcademyID, &instructor, &s.ClassName, &s.Location, &weekday, &s.StartTime, &s.EndTime, &s.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Storage("get schedule", err)
	}
	if instructor.Valid {
		s.InstructorMemberID = &instructor.Int64
	}
	s.Weekday = time.Weekday(weekday)
	return &s, nil
}
