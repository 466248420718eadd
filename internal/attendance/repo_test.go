package attendance

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academyportal/internal/apperr"
)

const (
	checkInSQL  = `WHERE NOT attendance_records.present RETURNING id`
	existingSQL = `SELECT id FROM attendance_records WHERE schedule_id = $1 AND member_id = $2 AND attendance_date = $3::date`
	upsertSQL   = `ON CONFLICT (schedule_id, member_id, attendance_date) DO UPDATE SET present = EXCLUDED.present`
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresRepository(db), mock
}

func checkInEntry(t *testing.T) Entry {
	return Entry{
		ScheduleID:  42,
		MemberID:    9,
		Date:        mustDate(t, "2025-03-11"),
		Method:      MethodToken,
		CheckinTime: time.Date(2025, 3, 11, 19, 2, 0, 0, time.UTC),
	}
}

func TestPostgresCheckInFresh(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(checkInSQL)).
		WithArgs(int64(42), int64(9), "2025-03-11", "token", nil, sqlmock.AnyArg(), "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	id, fresh, err := repo.CheckIn(context.Background(), checkInEntry(t))
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
	assert.True(t, fresh)
}

// An absent row on conflict is updated by the same statement, so RETURNING
// yields its existing id and the write counts as fresh.
func TestPostgresCheckInFlipsAbsentRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(checkInSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(17)))

	id, fresh, err := repo.CheckIn(context.Background(), checkInEntry(t))
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)
	assert.True(t, fresh)
}

// A present row fails the WHERE, RETURNING is empty, and the id is read
// back without another write.
func TestPostgresCheckInDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(checkInSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta(existingSQL)).
		WithArgs(int64(42), int64(9), "2025-03-11").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(17)))

	id, fresh, err := repo.CheckIn(context.Background(), checkInEntry(t))
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)
	assert.False(t, fresh)
}

func TestPostgresCheckInStorageError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(checkInSQL)).WillReturnError(errors.New("conn closed"))

	_, _, err := repo.CheckIn(context.Background(), checkInEntry(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, sql.ErrNoRows)
	assert.NotErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestPostgresUpsertMapsForeignKeyViolation(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(upsertSQL)).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "attendance_records_member_id_fkey"})

	e := checkInEntry(t)
	e.MemberID = 555
	_, err := repo.Upsert(context.Background(), e)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	rec := NewRecorder(repo)
	mock.ExpectQuery(regexp.QuoteMeta(upsertSQL)).
		WillReturnError(&pgconn.PgError{Code: "23503"})
	mock.ExpectQuery(regexp.QuoteMeta(upsertSQL)).
		WillReturnError(errors.New("connection refused"))

	res, err := rec.RecordBatch(context.Background(), 42, e.Date, []Mark{
		{MemberID: 555, Present: true},
		{MemberID: 9, Present: true},
	}, nil)
	assert.ErrorIs(t, err, apperr.ErrStorage)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, MarkFailure{MemberID: 555, Reason: "invalid member"}, res.Failed[0])
}

func TestPostgresUpsertReturnsID(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(upsertSQL)).
		WithArgs(int64(42), int64(9), "2025-03-11", false, "manual", nil, sqlmock.AnyArg(), "sick").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	e := checkInEntry(t)
	e.Method = MethodManual
	e.Notes = "sick"
	id, err := repo.Upsert(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
}

func TestPostgresPresentAndDelete(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs(int64(42), int64(9), "2025-03-11").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := repo.Present(ctx, 42, 9, mustDate(t, "2025-03-11"))
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM attendance_records WHERE id = $1`)).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM attendance_records WHERE id = $1`)).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.Delete(ctx, 5)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = repo.Delete(ctx, 5)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestPostgresListOccurrence(t *testing.T) {
	repo, mock := newMockRepo(t)
	checkin := time.Date(2025, 3, 11, 19, 2, 0, 0, time.UTC)
	day := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM attendance_records a JOIN members m`)).
		WithArgs(int64(42), "2025-03-11").
		WillReturnRows(sqlmock.NewRows([]string{"id", "schedule_id", "member_id", "full_name", "attendance_date", "present", "checkin_method", "recorded_by", "checkin_time", "notes"}).
			AddRow(int64(1), int64(42), int64(9), "Nine", day, true, "token", int64(9), checkin, "").
			AddRow(int64(2), int64(42), int64(10), "Ten", day, false, "manual", nil, checkin, "sick"))

	recs, err := repo.ListOccurrence(context.Background(), 42, day)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "2025-03-11", recs[0].Date)
	assert.Equal(t, MethodToken, recs[0].Method)
	require.NotNil(t, recs[0].RecordedBy)
	assert.Equal(t, int64(9), *recs[0].RecordedBy)
	assert.Nil(t, recs[1].RecordedBy)
	assert.Equal(t, "sick", recs[1].Notes)
}
