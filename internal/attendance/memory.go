package attendance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"academyportal/internal/apperr"
	"academyportal/internal/schedule"
)

type occurrenceKey struct {
	scheduleID int64
	memberID   int64
	date       string
}

// MemoryRepository is an in-memory Repository. A single mutex gives the same
// per-key atomicity the unique constraint gives in Postgres.
type MemoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[occurrenceKey]*Record
	members map[int64]string // nil accepts any member id
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[occurrenceKey]*Record)}
}

// RestrictMembers makes writes for unknown member ids fail, the way the
// members foreign key does.
func (m *MemoryRepository) RestrictMembers(names map[int64]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members = names
}

func (m *MemoryRepository) checkMember(id int64) error {
	if m.members == nil {
		return nil
	}
	if _, ok := m.members[id]; !ok {
		return fmt.Errorf("%w: member %d does not exist", apperr.ErrInvalidInput, id)
	}
	return nil
}

func keyOf(e Entry) occurrenceKey {
	return occurrenceKey{e.ScheduleID, e.MemberID, schedule.FormatDate(e.Date)}
}

func (m *MemoryRepository) insert(e Entry) *Record {
	m.nextID++
	rec := &Record{
		ID:          m.nextID,
		ScheduleID:  e.ScheduleID,
		MemberID:    e.MemberID,
		MemberName:  m.members[e.MemberID],
		Date:        schedule.FormatDate(e.Date),
		Present:     e.Present,
		Method:      e.Method,
		RecordedBy:  e.RecordedBy,
		CheckinTime: e.CheckinTime,
		Notes:       e.Notes,
	}
	m.rows[keyOf(e)] = rec
	return rec
}

func (m *MemoryRepository) Upsert(_ context.Context, e Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMember(e.MemberID); err != nil {
		return 0, err
	}
	if rec, ok := m.rows[keyOf(e)]; ok {
		rec.Present = e.Present
		rec.Notes = e.Notes
		rec.CheckinTime = e.CheckinTime
		return rec.ID, nil
	}
	return m.insert(e).ID, nil
}

func (m *MemoryRepository) CheckIn(_ context.Context, e Entry) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMember(e.MemberID); err != nil {
		return 0, false, err
	}
	rec, ok := m.rows[keyOf(e)]
	if !ok {
		e.Present = true
		return m.insert(e).ID, true, nil
	}
	if rec.Present {
		return rec.ID, false, nil
	}
	rec.Present = true
	rec.Method = e.Method
	rec.CheckinTime = e.CheckinTime
	return rec.ID, true, nil
}

func (m *MemoryRepository) Present(_ context.Context, scheduleID, memberID int64, date time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[occurrenceKey{scheduleID, memberID, schedule.FormatDate(date)}]
	return ok && rec.Present, nil
}

func (m *MemoryRepository) ListOccurrence(_ context.Context, scheduleID int64, date time.Time) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := schedule.FormatDate(date)
	var res []Record
	for k, rec := range m.rows {
		if k.scheduleID == scheduleID && k.date == day {
			res = append(res, *rec)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].MemberID < res[j].MemberID })
	return res, nil
}

func (m *MemoryRepository) Delete(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, rec := range m.rows {
		if rec.ID == id {
			delete(m.rows, k)
			return true, nil
		}
	}
	return false, nil
}

// Count returns the number of stored rows.
func (m *MemoryRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Get returns a copy of the row for an occurrence.
func (m *MemoryRepository) Get(scheduleID, memberID int64, date time.Time) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[occurrenceKey{scheduleID, memberID, schedule.FormatDate(date)}]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}
