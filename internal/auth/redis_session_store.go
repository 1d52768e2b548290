package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisSessionKeyPrefix = "coyote:session:"

// RedisSessionStore keeps sessions as JSON values that expire with the session.
// Revocation deletes the key.
type RedisSessionStore struct {
	client redis.UniversalClient
	clock  func() time.Time
}

// NewRedisSessionStore constructs a redis-backed SessionStore.
func NewRedisSessionStore(client redis.UniversalClient, clock func() time.Time) *RedisSessionStore {
	if clock == nil {
		clock = time.Now
	}
	return &RedisSessionStore{client: client, clock: clock}
}

func (s *RedisSessionStore) Create(ctx context.Context, session Session) error {
	ttl := sessionTTL(session, s.clock())
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("auth: marshal session: %w", err)
	}
	return s.client.Set(ctx, redisSessionKey(session.ID), payload, ttl).Err()
}

func (s *RedisSessionStore) Lookup(ctx context.Context, sessionID string) (Session, error) {
	data, err := s.client.Get(ctx, redisSessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, fmt.Errorf("auth: unmarshal session: %w", err)
	}
	return session, nil
}

func (s *RedisSessionStore) Revoke(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, redisSessionKey(sessionID)).Err()
}

func redisSessionKey(sessionID string) string {
	return redisSessionKeyPrefix + sessionID
}

func sessionTTL(session Session, now time.Time) time.Duration {
	if session.RevokedAt != nil {
		return 0
	}
	return session.ExpiresAt.Sub(now)
}
