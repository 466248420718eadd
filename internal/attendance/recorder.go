package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"academyportal/internal/apperr"
	"academyportal/internal/metrics"
)

// Mark is one member's line on a manual roll call.
type Mark struct {
	MemberID int64  `json:"memberId"`
	Present  bool   `json:"present"`
	Notes    string `json:"notes"`
}

// MarkFailure explains why one mark of a batch was not recorded.
type MarkFailure struct {
	MemberID int64  `json:"memberId"`
	Reason   string `json:"reason"`
}

// BatchResult summarizes a roll call.
type BatchResult struct {
	Recorded int           `json:"recorded"`
	Failed   []MarkFailure `json:"failed"`
}

// Recorder is the only writer of attendance records.
type Recorder struct {
	repo Repository
	now  func() time.Time
}

// NewRecorder creates a recorder backed by repo.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, now: time.Now}
}

// WithClock overrides the time source used for checkin times.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

func (r *Recorder) stamp(e Entry) Entry {
	if e.CheckinTime.IsZero() {
		e.CheckinTime = r.now().UTC()
	}
	if e.Method == "" {
		e.Method = MethodManual
	}
	return e
}

// storageUnlessInvalid keeps repository validation errors (unknown member)
// as client errors and wraps the rest as storage failures.
func storageUnlessInvalid(op string, err error) error {
	if errors.Is(err, apperr.ErrInvalidInput) {
		return err
	}
	return apperr.Storage(op, err)
}

func validate(e Entry) error {
	if e.ScheduleID <= 0 || e.MemberID <= 0 {
		return fmt.Errorf("%w: schedule and member ids must be positive", apperr.ErrInvalidInput)
	}
	if e.Date.IsZero() {
		return fmt.Errorf("%w: date required", apperr.ErrInvalidInput)
	}
	return nil
}

// Upsert inserts the record or updates it in place and returns its id.
func (r *Recorder) Upsert(ctx context.Context, e Entry) (int64, error) {
	if err := validate(e); err != nil {
		return 0, err
	}
	id, err := r.repo.Upsert(ctx, r.stamp(e))
	if err != nil {
		return 0, storageUnlessInvalid("upsert attendance", err)
	}
	return id, nil
}

// CheckIn marks the member present. fresh is false when the member was
// already present, in which case the row is not modified.
func (r *Recorder) CheckIn(ctx context.Context, e Entry) (int64, bool, error) {
	if err := validate(e); err != nil {
		return 0, false, err
	}
	e.Present = true
	id, fresh, err := r.repo.CheckIn(ctx, r.stamp(e))
	if err != nil {
		return 0, false, storageUnlessInvalid("check in", err)
	}
	return id, fresh, nil
}

// AlreadyRecorded reports whether the member is already present.
func (r *Recorder) AlreadyRecorded(ctx context.Context, scheduleID, memberID int64, date time.Time) (bool, error) {
	ok, err := r.repo.Present(ctx, scheduleID, memberID, date)
	if err != nil {
		return false, apperr.Storage("read attendance", err)
	}
	return ok, nil
}

// RecordBatch applies a roll call. Every mark is attempted on its own; one
// bad member id never aborts the rest. A storage failure does: it is
// returned with the marks recorded so far.
func (r *Recorder) RecordBatch(ctx context.Context, scheduleID int64, date time.Time, marks []Mark, recordedBy *int64) (BatchResult, error) {
	res := BatchResult{Failed: []MarkFailure{}}
	for _, mk := range marks {
		_, err := r.Upsert(ctx, Entry{
			ScheduleID: scheduleID,
			MemberID:   mk.MemberID,
			Date:       date,
			Present:    mk.Present,
			Method:     MethodManual,
			RecordedBy: recordedBy,
			Notes:      mk.Notes,
		})
		if apperr.IsInternal(err) {
			metrics.RollCallMarks.WithLabelValues("error").Inc()
			return res, err
		}
		if err != nil {
			log.Warn().Err(err).Int64("schedule_id", scheduleID).Int64("member_id", mk.MemberID).Msg("roll call mark rejected")
			metrics.RollCallMarks.WithLabelValues("failed").Inc()
			res.Failed = append(res.Failed, MarkFailure{MemberID: mk.MemberID, Reason: "invalid member"})
			continue
		}
		metrics.RollCallMarks.WithLabelValues("recorded").Inc()
		res.Recorded++
	}
	return res, nil
}

// ListOccurrence returns all records for one class occurrence.
func (r *Recorder) ListOccurrence(ctx context.Context, scheduleID int64, date time.Time) ([]Record, error) {
	recs, err := r.repo.ListOccurrence(ctx, scheduleID, date)
	if err != nil {
		return nil, apperr.Storage("list attendance", err)
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// Delete removes a record. Only administrative overrides call this.
func (r *Recorder) Delete(ctx context.Context, id int64) error {
	ok, err := r.repo.Delete(ctx, id)
	if err != nil {
		return apperr.Storage("delete attendance", err)
	}
	if !ok {
		return fmt.Errorf("attendance %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}
