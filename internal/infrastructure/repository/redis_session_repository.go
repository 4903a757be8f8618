package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shopify-embedded-auth/internal/domain"
	"shopify-embedded-auth/internal/ports"

	"github.com/redis/go-redis/v9"
)

// expiredSessionGrace keeps an online session in Redis a little past its
// expiry. The verifier treats it as inactive either way, but its presence
// lets the shop-mismatch check still see which shop the caller belonged to.
const expiredSessionGrace = 24 * time.Hour

// RedisSessionRepository implements SessionRepository on Redis, storing
// sessions as JSON values under a configurable key prefix.
type RedisSessionRepository struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisSessionRepository creates a Redis-backed session repository.
func NewRedisSessionRepository(client redis.UniversalClient, keyPrefix string) ports.SessionRepository {
	if keyPrefix == "" {
		keyPrefix = "shopify:session:"
	}
	return &RedisSessionRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Load retrieves a session by ID. Returns (nil, nil) when absent.
func (r *RedisSessionRepository) Load(ctx context.Context, id string) (*domain.Session, error) {
	data, err := r.client.Get(ctx, r.keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// Save stores the session, replacing any previous value. Online sessions get
// a TTL so stale entries eventually vanish; offline sessions never expire.
func (r *RedisSessionRepository) Save(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	var ttl time.Duration
	if session.IsOnline() && session.Expires != nil {
		ttl = time.Until(*session.Expires) + expiredSessionGrace
	}

	if err := r.client.Set(ctx, r.keyPrefix+session.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes the session. Deleting an absent session is not an error.
func (r *RedisSessionRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
