package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"
)

// EventRecorded is the queue message type for attendance writes.
const EventRecorded = "attendance.recorded"

// Event describes one attendance write, published after the fact for
// auditing. Losing an event never loses attendance.
type Event struct {
	ID           string    `json:"id"`
	AttendanceID int64     `json:"attendanceId"`
	ScheduleID   int64     `json:"scheduleId"`
	MemberID     int64     `json:"memberId"`
	Date         string    `json:"date"`
	Method       Method    `json:"method"`
	RecordedBy   *int64    `json:"recordedBy,omitempty"`
	Fresh        bool      `json:"fresh"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// Encode serializes the event for the queue.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a queued event.
func DecodeEvent(body []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(body, &e)
	return e, err
}

// AuditLog stores consumed attendance events.
type AuditLog interface {
	Append(ctx context.Context, e Event) error
}

// PostgresAuditLog writes to attendance_audit. Event ids are the primary
// key, so redelivered events are ignored.
type PostgresAuditLog struct {
	db *sql.DB
}

var _ AuditLog = (*PostgresAuditLog)(nil)

// NewPostgresAuditLog creates an audit log.
func NewPostgresAuditLog(db *sql.DB) *PostgresAuditLog {
	return &PostgresAuditLog{db: db}
}

func (l *PostgresAuditLog) Append(ctx context.Context, e Event) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO attendance_audit
			(id, attendance_id, schedule_id, member_id, attendance_date, checkin_method, recorded_by, fresh, recorded_at)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.AttendanceID, e.ScheduleID, e.MemberID, e.Date, string(e.Method), e.RecordedBy, e.Fresh, e.RecordedAt)
	return err
}

// MemoryAuditLog keeps events in a slice, deduplicated by id.
type MemoryAuditLog struct {
	mu     sync.Mutex
	events []Event
	seen   map[string]bool
}

var _ AuditLog = (*MemoryAuditLog)(nil)

// NewMemoryAuditLog creates an empty audit log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{seen: make(map[string]bool)}
}

func (l *MemoryAuditLog) Append(_ context.Context, e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[e.ID] {
		return nil
	}
	l.seen[e.ID] = true
	l.events = append(l.events, e)
	return nil
}

// Events returns a copy of the stored events.
func (l *MemoryAuditLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}
