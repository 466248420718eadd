package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"academyportal/internal/apperr"
	"academyportal/internal/schedule"
)

const foreignKeyViolation = "23503"

// memberError turns a foreign key violation into invalid input; the member
// (or recorder) id does not exist. Everything else is passed through.
func memberError(err error, e Entry) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("%w: member %d does not exist", apperr.ErrInvalidInput, e.MemberID)
	}
	return err
}

// PostgresRepository persists attendance in Postgres. Atomicity comes from
// the uq_attendance_occurrence constraint and ON CONFLICT.
type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert writes a record, last writer wins on present/notes/checkin_time.
func (r *PostgresRepository) Upsert(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(schedule_id, member_id, attendance_date, present, checkin_method, recorded_by, checkin_time, notes)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8)
		ON CONFLICT (schedule_id, member_id, attendance_date) DO UPDATE SET
			present = EXCLUDED.present,
			notes = EXCLUDED.notes,
			checkin_time = EXCLUDED.checkin_time,
			updated_at = NOW()
		RETURNING id
	`, e.ScheduleID, e.MemberID, schedule.FormatDate(e.Date), e.Present, string(e.Method), e.RecordedBy, e.CheckinTime, e.Notes).Scan(&id)
	if err != nil {
		return 0, memberError(err, e)
	}
	return id, nil
}

// CheckIn only updates rows that are not yet present; when the conflict
// target is already present nothing is returned and the existing id is read.
func (r *PostgresRepository) CheckIn(ctx context.Context, e Entry) (int64, bool, error) {
	date := schedule.FormatDate(e.Date)
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(schedule_id, member_id, attendance_date, present, checkin_method, recorded_by, checkin_time, notes)
		VALUES ($1, $2, $3::date, TRUE, $4, $5, $6, $7)
		ON CONFLICT (schedule_id, member_id, attendance_date) DO UPDATE SET
			present = TRUE,
			checkin_method = EXCLUDED.checkin_method,
			checkin_time = EXCLUDED.checkin_time,
			updated_at = NOW()
		WHERE NOT attendance_records.present
		RETURNING id
	`, e.ScheduleID, e.MemberID, date, string(e.Method), e.RecordedBy, e.CheckinTime, e.Notes).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, memberError(err, e)
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT id FROM attendance_records
		WHERE schedule_id = $1 AND member_id = $2 AND attendance_date = $3::date
	`, e.ScheduleID, e.MemberID, date).Scan(&id)
	return id, false, err
}

// Present reports whether the member is already marked present.
func (r *PostgresRepository) Present(ctx context.Context, scheduleID, memberID int64, date time.Time) (bool, error) {
	var present bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records
			WHERE schedule_id = $1 AND member_id = $2 AND attendance_date = $3::date AND present
		)
	`, scheduleID, memberID, schedule.FormatDate(date)).Scan(&present)
	return present, err
}

// ListOccurrence returns the roll for one class occurrence.
func (r *PostgresRepository) ListOccurrence(ctx context.Context, scheduleID int64, date time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.schedule_id, a.member_id, m.full_name, a.attendance_date, a.present,
		       a.checkin_method, a.recorded_by, a.checkin_time, a.notes
		FROM attendance_records a
		JOIN members m ON m.id = a.member_id
		WHERE a.schedule_id = $1 AND a.attendance_date = $2::date
		ORDER BY m.full_name
	`, scheduleID, schedule.FormatDate(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var (
			rec        Record
			day        time.Time
			method     string
			recordedBy sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.ScheduleID, &rec.MemberID, &rec.MemberName, &day, &rec.Present,
			&method, &recordedBy, &rec.CheckinTime, &rec.Notes); err != nil {
			return nil, err
		}
		rec.Date = schedule.FormatDate(day)
		rec.Method = Method(method)
		if recordedBy.Valid {
			rec.RecordedBy = &recordedBy.Int64
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Delete removes one record. It reports whether a row existed.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendance_records WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
