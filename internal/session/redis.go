package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository keeps sessions as JSON values whose key TTL matches the
// session expiry, so expired sessions disappear without a purge.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

var _ Repository = (*RedisRepository)(nil)

// NewRedisRepository builds a repo using keys "<prefix><token hash>".
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "portal:session:"
	}
	return &RedisRepository{client: client, prefix: prefix}
}

// ErrExpired is returned when asked to store a session that has already
// expired; redis cannot hold a key with a non-positive TTL.
var ErrExpired = errors.New("session already expired")

func (r *RedisRepository) Create(ctx context.Context, rec Record) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	ttl := rec.ExpiresAt.Sub(created)
	if ttl <= 0 {
		return ErrExpired
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, r.prefix+rec.TokenHash, body, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("session token collision")
	}
	return nil
}

func (r *RedisRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*Record, error) {
	body, err := r.client.Get(ctx, r.prefix+tokenHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RedisRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	return r.client.Del(ctx, r.prefix+tokenHash).Err()
}

// DeleteExpired is a no-op: redis evicts keys on TTL.
func (r *RedisRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
