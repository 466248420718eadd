// Package attendance owns attendance records: exactly one row per
// (schedule, member, date), written only through atomic upserts.
package attendance

import (
	"context"
	"time"
)

// Method says how a record was produced.
type Method string

const (
	MethodManual Method = "manual"
	MethodToken  Method = "token"
)

// Entry is a write request for one member at one class occurrence.
type Entry struct {
	ScheduleID  int64
	MemberID    int64
	Date        time.Time
	Present     bool
	Method      Method
	RecordedBy  *int64
	CheckinTime time.Time
	Notes       string
}

// Record is a stored attendance row.
type Record struct {
	ID          int64     `json:"id"`
	ScheduleID  int64     `json:"scheduleId"`
	MemberID    int64     `json:"memberId"`
	MemberName  string    `json:"memberName,omitempty"`
	Date        string    `json:"date"`
	Present     bool      `json:"present"`
	Method      Method    `json:"checkinMethod"`
	RecordedBy  *int64    `json:"recordedBy"`
	CheckinTime time.Time `json:"checkinTime"`
	Notes       string    `json:"notes"`
}

// Repository is the storage contract. Upsert and CheckIn must each be a
// single atomic write keyed by the occurrence; never check-then-insert.
type Repository interface {
	// Upsert inserts or overwrites present, notes and checkin time.
	Upsert(ctx context.Context, e Entry) (int64, error)
	// CheckIn inserts a present row or flips an absent row to present.
	// A row that is already present is left untouched and fresh is false.
	CheckIn(ctx context.Context, e Entry) (id int64, fresh bool, err error)
	// Present reports whether a present row exists for the occurrence.
	Present(ctx context.Context, scheduleID, memberID int64, date time.Time) (bool, error)
	ListOccurrence(ctx context.Context, scheduleID int64, date time.Time) ([]Record, error)
	Delete(ctx context.Context, id int64) (bool, error)
}
