// Package member resolves portal users to their role flags and member
// profile. Account CRUD lives elsewhere; this is the read side the session
// and check-in code depends on.
package member

import (
	"context"
	"strings"
)

// User is an authenticated account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	IsAdmin      bool
}

// Member is the academy profile attached to a user. Attendance is recorded
// against members, not users.
type Member struct {
	ID       int64
	UserID   int64
	FullName string
	Active   bool
}

// Directory looks up users and members. Lookups of missing rows return
// (nil, nil).
type Directory interface {
	UserByID(ctx context.Context, id int64) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	MemberByUserID(ctx context.Context, userID int64) (*Member, error)
}

// NormalizeEmail lowercases and trims an email for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
