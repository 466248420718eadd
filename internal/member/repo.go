package member

import (
	"context"
	"database/sql"
	"errors"

	"academyportal/internal/apperr"
)

// Repository reads users and members from Postgres.
type Repository struct {
	db *sql.DB
}

var _ Directory = (*Repository)(nil)

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UserByID returns a user by primary key.
func (r *Repository) UserByID(ctx context.Context, id int64) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, is_admin FROM users WHERE id = $1
	`, id)
	return scanUser(row)
}

// UserByEmail returns a user by normalized email.
func (r *Repository) UserByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, is_admin FROM users WHERE email = $1
	`, NormalizeEmail(email))
	return scanUser(row)
}

// MemberByUserID returns the active member profile linked to a user.
func (r *Repository) MemberByUserID(ctx context.Context, userID int64) (*Member, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, full_name, active FROM members WHERE user_id = $1 AND active
	`, userID)
	var m Member
	if err := row.Scan(&m.ID, &m.UserID, &m.FullName, &m.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Storage("get member", err)
	}
	return &m, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsAdmin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Storage("get user", err)
	}
	return &u, nil
}
