// Package schedule is the read-only view of recurring classes needed to
// validate a class occurrence.
package schedule

import (
	"context"
	"fmt"
	"time"

	"academyportal/internal/apperr"
)

// DateLayout is the wire format of an occurrence date.
const DateLayout = "2006-01-02"

// Schedule is one recurring weekly class.
type Schedule struct {
	ID                 int64
	AcademyID          int64
	InstructorMemberID *int64
	ClassName          string
	Location           string
	Weekday            time.Weekday
	StartTime          string // HH:MM
	EndTime            string // HH:MM
	Active             bool
}

// Catalog looks up schedules. Missing schedules are returned as (nil, nil).
type Catalog interface {
	Get(ctx context.Context, id int64) (*Schedule, error)
}

// OwnedBy reports whether memberID is the owning instructor.
func (s *Schedule) OwnedBy(memberID *int64) bool {
	if s.InstructorMemberID == nil || memberID == nil {
		return false
	}
	return *s.InstructorMemberID == *memberID
}

// MeetsOn reports whether the class meets on the given date.
func (s *Schedule) MeetsOn(date time.Time) bool {
	return date.Weekday() == s.Weekday
}

// TimeWindow renders "HH:MM-HH:MM".
func (s *Schedule) TimeWindow() string {
	return s.StartTime + "-" + s.EndTime
}

// ParseDate parses a YYYY-MM-DD occurrence date as midnight UTC.
func ParseDate(value string) (time.Time, error) {
	d, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", apperr.ErrInvalidInput)
	}
	return d, nil
}

// FormatDate renders an occurrence date.
func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}
