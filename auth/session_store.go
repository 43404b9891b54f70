// Package auth validates collaboration tokens against the CMS session store
// and the document permission table. The session store itself is owned by the
// CMS login flow; this package only reads it (writes exist for tests and
// seeding tools).
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jessiecms/collab/auth/db"
	"github.com/jessiecms/collab/internal/slogging"
	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound indicates no live session record exists for an id.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is a CMS login session as stored in Redis.
type SessionRecord struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore reads CMS session records.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*SessionRecord, error)
}

// RedisSessionStore implements SessionStore on the shared CMS Redis.
type RedisSessionStore struct {
	client *redis.Client
	keys   *db.RedisKeyBuilder
}

// NewRedisSessionStore creates a session store over the given Redis client
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{
		client: client,
		keys:   db.NewRedisKeyBuilder(),
	}
}

// Get retrieves a session record by id. Expired records count as not found
// even if Redis has not evicted them yet.
func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (*SessionRecord, error) {
	data, err := s.client.Get(ctx, s.keys.SessionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	var record SessionRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		slogging.Get().Error("Corrupt session record for session_id=%s: %v", sessionID, err)
		return nil, ErrSessionNotFound
	}

	if !record.ExpiresAt.After(time.Now()) {
		return nil, ErrSessionNotFound
	}

	return &record, nil
}

// Put stores a session record with a TTL matching its expiry. The CMS login
// flow owns these writes in production; tests and seed tooling use this.
func (s *RedisSessionStore) Put(ctx context.Context, record *SessionRecord) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session record already expired")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize session record: %w", err)
	}

	if err := s.client.Set(ctx, s.keys.SessionKey(record.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session record: %w", err)
	}
	return nil
}
