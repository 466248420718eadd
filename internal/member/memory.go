package member

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory Directory for tests and local runs.
type MemoryDirectory struct {
	mu      sync.RWMutex
	users   map[int64]User
	members map[int64]Member // keyed by user id
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:   make(map[int64]User),
		members: make(map[int64]Member),
	}
}

// PutUser adds or replaces a user.
func (d *MemoryDirectory) PutUser(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u.Email = NormalizeEmail(u.Email)
	d.users[u.ID] = u
}

// PutMember links a member profile to its user.
func (d *MemoryDirectory) PutMember(m Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[m.UserID] = m
}

func (d *MemoryDirectory) UserByID(_ context.Context, id int64) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (d *MemoryDirectory) UserByEmail(_ context.Context, email string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	email = NormalizeEmail(email)
	for _, u := range d.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (d *MemoryDirectory) MemberByUserID(_ context.Context, userID int64) (*Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[userID]
	if !ok || !m.Active {
		return nil, nil
	}
	return &m, nil
}
