package checkin

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"academyportal/internal/apperr"
	"academyportal/internal/attendance"
	"academyportal/internal/authz"
	"academyportal/internal/metrics"
	"academyportal/internal/queue"
	"academyportal/internal/schedule"
)

const publishTimeout = 2 * time.Second

// Info is the human-readable description of a class occurrence.
type Info struct {
	ClassName  string `json:"className"`
	Location   string `json:"location"`
	TimeWindow string `json:"timeWindow"`
	Weekday    string `json:"weekday"`
	Date       string `json:"date"`
}

func infoFor(s *schedule.Schedule, date string) Info {
	return Info{
		ClassName:  s.ClassName,
		Location:   s.Location,
		TimeWindow: s.TimeWindow(),
		Weekday:    s.Weekday.String(),
		Date:       date,
	}
}

// Issued is a freshly minted check-in token.
type Issued struct {
	Token      string    `json:"token"`
	CheckinURL string    `json:"checkinUrl"`
	Info       Info      `json:"info"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Redemption is the successful outcome of redeeming a token. A duplicate
// redemption is still a success, flagged by AlreadyCheckedIn.
type Redemption struct {
	AttendanceID     int64
	AlreadyCheckedIn bool
	Info             Info
}

// Service runs the issuance and redemption flows. Every guard runs before
// any write; the first failing guard decides the error.
type Service struct {
	codec    *Codec
	guard    *authz.Guard
	recorder *attendance.Recorder
	events   queue.Publisher
	baseURL  string
	now      func() time.Time
}

// NewService wires the flows together. events may be nil.
func NewService(codec *Codec, guard *authz.Guard, recorder *attendance.Recorder, events queue.Publisher, baseURL string) *Service {
	return &Service{
		codec:    codec,
		guard:    guard,
		recorder: recorder,
		events:   events,
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
	}
}

// WithClock overrides the time source used for event stamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Codec exposes the token codec.
func (s *Service) Codec() *Codec {
	return s.codec
}

// CheckinURL is the link encoded into the scannable image.
func (s *Service) CheckinURL(token string) string {
	return s.baseURL + "/checkin?token=" + url.QueryEscape(token)
}

// activeSchedule hides inactive schedules behind NotFound.
func activeSchedule(g authz.Grant, scheduleID int64) (*schedule.Schedule, error) {
	if g.Schedule == nil || !g.Schedule.Active {
		return nil, fmt.Errorf("schedule %d inactive: %w", scheduleID, apperr.ErrNotFound)
	}
	return g.Schedule, nil
}

// IssueToken mints a token for (scheduleID, date). Only admins and the
// owning instructor may do so, and that is checked before the date is
// looked at. The weekday is not checked here; redemption enforces it.
func (s *Service) IssueToken(ctx context.Context, actor *authz.Actor, scheduleID int64, date string) (Issued, error) {
	grant, err := s.guard.AuthorizeManage(ctx, actor, scheduleID)
	if err != nil {
		return Issued{}, err
	}
	sch, err := activeSchedule(grant, scheduleID)
	if err != nil {
		return Issued{}, err
	}
	if _, err := schedule.ParseDate(date); err != nil {
		return Issued{}, err
	}

	token, p, err := s.codec.Encode(scheduleID, date)
	if err != nil {
		return Issued{}, err
	}
	metrics.TokensIssued.WithLabelValues(grant.Capability.String()).Inc()
	log.Info().
		Int64("schedule_id", scheduleID).
		Str("date", date).
		Int64("user_id", actor.UserID).
		Str("capability", grant.Capability.String()).
		Msg("check-in token issued")

	return Issued{
		Token:      token,
		CheckinURL: s.CheckinURL(token),
		Info:       infoFor(sch, date),
		ExpiresAt:  p.ExpiresTime(),
	}, nil
}

// Redeem checks the actor in with a token. The guards run in order:
// session, member identity, decode, expiry, schedule, weekday. Only then is
// attendance written.
func (s *Service) Redeem(ctx context.Context, actor *authz.Actor, token string) (Redemption, error) {
	res, err := s.redeem(ctx, actor, token)
	metrics.Redemptions.WithLabelValues(outcome(res, err)).Inc()
	return res, err
}

func (s *Service) redeem(ctx context.Context, actor *authz.Actor, token string) (Redemption, error) {
	if actor == nil {
		return Redemption{}, apperr.ErrUnauthenticated
	}
	if !actor.HasMember() {
		return Redemption{}, apperr.ErrNotAMember
	}
	memberID := *actor.MemberID

	p, err := s.codec.Decode(token)
	if err != nil {
		return Redemption{}, err
	}
	if s.codec.Expired(p) {
		return Redemption{}, fmt.Errorf("token expired at %s: %w", p.ExpiresTime().Format(time.RFC3339), apperr.ErrTokenExpired)
	}

	grant, err := s.guard.AuthorizeRecordFor(ctx, actor, p.ScheduleID, memberID)
	if err != nil {
		return Redemption{}, err
	}
	sch, err := activeSchedule(grant, p.ScheduleID)
	if err != nil {
		return Redemption{}, err
	}
	date, err := schedule.ParseDate(p.Date)
	if err != nil {
		return Redemption{}, apperr.ErrMalformedToken
	}
	if !sch.MeetsOn(date) {
		return Redemption{}, fmt.Errorf("%s is a %s, class meets %s: %w", p.Date, date.Weekday(), sch.Weekday, apperr.ErrWeekdayMismatch)
	}

	info := infoFor(sch, p.Date)
	present, err := s.recorder.AlreadyRecorded(ctx, p.ScheduleID, memberID, date)
	if err != nil {
		return Redemption{}, err
	}
	if present {
		return Redemption{AlreadyCheckedIn: true, Info: info}, nil
	}

	id, fresh, err := s.recorder.CheckIn(ctx, attendance.Entry{
		ScheduleID: p.ScheduleID,
		MemberID:   memberID,
		Date:       date,
		Method:     attendance.MethodToken,
		RecordedBy: actor.MemberID,
	})
	if err != nil {
		return Redemption{}, err
	}
	if fresh {
		s.publish(ctx, attendance.Event{
			AttendanceID: id,
			ScheduleID:   p.ScheduleID,
			MemberID:     memberID,
			Date:         p.Date,
			Method:       attendance.MethodToken,
			RecordedBy:   actor.MemberID,
			Fresh:        true,
		})
	}
	return Redemption{AttendanceID: id, AlreadyCheckedIn: !fresh, Info: info}, nil
}

// RecordRollCall applies a manual roll call for one occurrence. Admins
// without a member profile are recorded as recordedBy null.
func (s *Service) RecordRollCall(ctx context.Context, actor *authz.Actor, scheduleID int64, date string, marks []attendance.Mark) (attendance.BatchResult, error) {
	grant, err := s.guard.AuthorizeManage(ctx, actor, scheduleID)
	if err != nil {
		return attendance.BatchResult{}, err
	}
	if _, err := activeSchedule(grant, scheduleID); err != nil {
		return attendance.BatchResult{}, err
	}
	d, err := schedule.ParseDate(date)
	if err != nil {
		return attendance.BatchResult{}, err
	}
	if len(marks) == 0 {
		return attendance.BatchResult{}, fmt.Errorf("%w: no marks", apperr.ErrInvalidInput)
	}

	res, err := s.recorder.RecordBatch(ctx, scheduleID, d, marks, actor.MemberID)
	if err != nil {
		return attendance.BatchResult{}, err
	}
	log.Info().
		Int64("schedule_id", scheduleID).
		Str("date", date).
		Int("recorded", res.Recorded).
		Int("failed", len(res.Failed)).
		Msg("roll call recorded")
	return res, nil
}

// Occurrence lists the attendance of one occurrence for its managers.
func (s *Service) Occurrence(ctx context.Context, actor *authz.Actor, scheduleID int64, date string) ([]attendance.Record, Info, error) {
	grant, err := s.guard.AuthorizeManage(ctx, actor, scheduleID)
	if err != nil {
		return nil, Info{}, err
	}
	d, err := schedule.ParseDate(date)
	if err != nil {
		return nil, Info{}, err
	}
	recs, err := s.recorder.ListOccurrence(ctx, scheduleID, d)
	if err != nil {
		return nil, Info{}, err
	}
	return recs, infoFor(grant.Schedule, date), nil
}

// RemoveAttendance deletes a record. Admin only.
func (s *Service) RemoveAttendance(ctx context.Context, actor *authz.Actor, id int64) error {
	if err := authz.AuthorizeAdmin(actor); err != nil {
		return err
	}
	if id <= 0 {
		return fmt.Errorf("%w: attendance id must be positive", apperr.ErrInvalidInput)
	}
	if err := s.recorder.Delete(ctx, id); err != nil {
		return err
	}
	log.Warn().Int64("attendance_id", id).Int64("user_id", actor.UserID).Msg("attendance removed by admin")
	return nil
}

// publish hands the event to the queue. Failures are logged only; the
// record is already durable.
func (s *Service) publish(ctx context.Context, ev attendance.Event) {
	if s.events == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.RecordedAt = s.now().UTC()
	body, err := ev.Encode()
	if err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("encode attendance event")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, queue.Message{Type: attendance.EventRecorded, Body: body}); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		log.Warn().Err(err).Int64("attendance_id", ev.AttendanceID).Msg("publish attendance event")
		return
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
}

func outcome(r Redemption, err error) string {
	switch {
	case err == nil && r.AlreadyCheckedIn:
		return "duplicate"
	case err == nil:
		return "recorded"
	default:
		return strings.ToLower(string(apperr.CodeOf(err)))
	}
}
