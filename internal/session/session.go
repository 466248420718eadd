// Package session implements server-side sessions: opaque random tokens
// mapped to a user and an expiry, validated on every request.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"academyportal/internal/apperr"
	"academyportal/internal/authz"
	"academyportal/internal/member"
	"academyportal/internal/metrics"
)

// DefaultLifetime is how long a session stays valid after login.
const DefaultLifetime = 7 * 24 * time.Hour

// Meta is optional request context stored alongside a session.
type Meta struct {
	IPAddress string
	UserAgent string
}

// Store creates, validates and destroys sessions.
type Store struct {
	repo     Repository
	dir      member.Directory
	lifetime time.Duration
	now      func() time.Time
}

// NewStore creates a store. A non-positive lifetime uses DefaultLifetime.
func NewStore(repo Repository, dir member.Directory, lifetime time.Duration) *Store {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Store{repo: repo, dir: dir, lifetime: lifetime, now: time.Now}
}

// WithClock overrides the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Lifetime returns the configured session lifetime.
func (s *Store) Lifetime() time.Duration {
	return s.lifetime
}

// Create starts a session for a verified user and returns the raw token.
func (s *Store) Create(ctx context.Context, userID int64, meta Meta) (string, time.Time, error) {
	token, err := generateToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	now := s.now().UTC()
	rec := Record{
		ID:        uuid.NewString(),
		TokenHash: hashToken(token),
		UserID:    userID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		ExpiresAt: now.Add(s.lifetime),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return "", time.Time{}, apperr.Storage("create session", err)
	}
	log.Debug().Int64("user_id", userID).Str("session_id", rec.ID).Msg("session created")
	return token, rec.ExpiresAt, nil
}

// Validate resolves a token to its actor. Absent, expired and orphaned
// sessions all yield (nil, nil); only storage failures return an error.
func (s *Store) Validate(ctx context.Context, token string) (*authz.Actor, error) {
	if token == "" {
		metrics.SessionValidations.WithLabelValues("absent").Inc()
		return nil, nil
	}
	rec, err := s.repo.FindByTokenHash(ctx, hashToken(token))
	if err != nil {
		metrics.SessionValidations.WithLabelValues("error").Inc()
		return nil, apperr.Storage("find session", err)
	}
	if rec == nil {
		metrics.SessionValidations.WithLabelValues("absent").Inc()
		return nil, nil
	}
	if !s.now().Before(rec.ExpiresAt) {
		metrics.SessionValidations.WithLabelValues("expired").Inc()
		return nil, nil
	}

	user, err := s.dir.UserByID(ctx, rec.UserID)
	if err != nil {
		metrics.SessionValidations.WithLabelValues("error").Inc()
		return nil, err
	}
	if user == nil {
		metrics.SessionValidations.WithLabelValues("orphaned").Inc()
		return nil, nil
	}
	actor := &authz.Actor{UserID: user.ID, Email: user.Email, IsAdmin: user.IsAdmin}

	m, err := s.dir.MemberByUserID(ctx, user.ID)
	if err != nil {
		metrics.SessionValidations.WithLabelValues("error").Inc()
		return nil, err
	}
	if m != nil {
		id := m.ID
		actor.MemberID = &id
	}
	metrics.SessionValidations.WithLabelValues("valid").Inc()
	return actor, nil
}

// Destroy deletes the session. Unknown tokens are not an error.
func (s *Store) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.repo.DeleteByTokenHash(ctx, hashToken(token)); err != nil {
		return apperr.Storage("delete session", err)
	}
	return nil
}

// PurgeExpired removes expired sessions. Validation never depends on it.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, apperr.Storage("purge sessions", err)
	}
	return n, nil
}
