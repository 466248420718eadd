package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Record is a persisted session. Only the token hash is stored.
type Record struct {
	ID        string    `json:"id"`
	TokenHash string    `json:"token_hash"`
	UserID    int64     `json:"user_id"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists session records. FindByTokenHash returns (nil, nil)
// when no record exists; expiry is judged by the caller.
type Repository interface {
	Create(ctx context.Context, rec Record) error
	FindByTokenHash(ctx context.Context, tokenHash string) (*Record, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PostgresRepository stores sessions in the sessions table.
type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, token_hash, user_id, ip_address, user_agent, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.TokenHash, rec.UserID,
		sql.NullString{String: rec.IPAddress, Valid: rec.IPAddress != ""},
		sql.NullString{String: rec.UserAgent, Valid: rec.UserAgent != ""},
		rec.ExpiresAt, rec.CreatedAt)
	return err
}

func (r *PostgresRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, token_hash, user_id, ip_address, user_agent, expires_at, created_at
		FROM sessions WHERE token_hash = $1
	`, tokenHash)

	var (
		rec           Record
		ip, userAgent sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.TokenHash, &rec.UserID, &ip, &userAgent, &rec.ExpiresAt, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.IPAddress = ip.String
	rec.UserAgent = userAgent.String
	return &rec, nil
}

func (r *PostgresRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	return err
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
