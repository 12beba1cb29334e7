// Package sessionstore is the durable session_id -> container mapping: the
// single source of truth for which container backs a session. It is backed
// by Redis, with two keys per session and a sliding TTL on both.
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a session record does not exist (absent or
// expired — the store makes no distinction between the two).
var ErrNotFound = errors.New("session not found")

// Session is the durable descriptor for session_id -> container, mirroring
// the session: hash record.
type Session struct {
	ID           string
	UserID       string
	ContainerID  string
	CreatedAt    time.Time
	CommandCount int64
}

// Store wraps a Redis client with the session/container key layout.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a Store. ttl is the sliding session TTL applied to both keys.
func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func sessionKey(id string) string   { return "session:" + id }
func containerKey(id string) string { return "container:" + id }

// Create writes both the session hash and the container pointer with the
// configured TTL, overwriting any prior record for session_id.
func (s *Store) Create(ctx context.Context, sessionID, userID, containerID string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(sessionID), map[string]interface{}{
		"user_id":       userID,
		"container_id":  containerID,
		"created_at":    now,
		"command_count": "0",
	})
	pipe.Expire(ctx, sessionKey(sessionID), s.ttl)
	pipe.Set(ctx, containerKey(sessionID), containerID, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Get returns the session record, or ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := s.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}

	sess := &Session{
		ID:          sessionID,
		UserID:      raw["user_id"],
		ContainerID: raw["container_id"],
	}
	if t, err := time.Parse(time.RFC3339, raw["created_at"]); err == nil {
		sess.CreatedAt = t
	}
	fmt.Sscanf(raw["command_count"], "%d", &sess.CommandCount)

	return sess, nil
}

// GetContainerID returns just the container: pointer, or ErrNotFound if
// absent. This is the authoritative value when it and the session hash's
// container_id field diverge (see SetContainer).
func (s *Store) GetContainerID(ctx context.Context, sessionID string) (string, error) {
	id, err := s.client.Get(ctx, containerKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get container id: %w", err)
	}
	return id, nil
}

// Refresh extends both keys' TTLs to the full window and increments
// command_count. Returns ErrNotFound if the session does not exist.
func (s *Store) Refresh(ctx context.Context, sessionID string) error {
	exists, err := s.client.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Expire(ctx, sessionKey(sessionID), s.ttl)
	pipe.Expire(ctx, containerKey(sessionID), s.ttl)
	pipe.HIncrBy(ctx, sessionKey(sessionID), "command_count", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	return nil
}

// Delete removes both keys for sessionID. Deleting an absent session is a
// no-op success.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID), containerKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListContainerPointers returns every live session_id -> container_id
// pointer, for the reaper's startup reconciliation. It scans rather than
// using KEYS so it never blocks the server on a large keyspace.
func (s *Store) ListContainerPointers(ctx context.Context) (map[string]string, error) {
	pointers := make(map[string]string)
	prefix := "container:"

	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list container pointers: %w", err)
	}
	if len(keys) == 0 {
		return pointers, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list container pointers: %w", err)
	}
	for i, key := range keys {
		containerID, ok := values[i].(string)
		if !ok {
			continue
		}
		sessionID := key[len(prefix):]
		pointers[sessionID] = containerID
	}
	return pointers, nil
}

// SetContainer replaces the container_id for an existing session and
// refreshes its TTL. The container: pointer is written first; the session
// hash is updated only if it still exists.
func (s *Store) SetContainer(ctx context.Context, sessionID, containerID string) error {
	if err := s.client.Set(ctx, containerKey(sessionID), containerID, s.ttl).Err(); err != nil {
		return fmt.Errorf("set container: %w", err)
	}

	exists, err := s.client.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("set container: %w", err)
	}
	if exists > 0 {
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, sessionKey(sessionID), "container_id", containerID)
		pipe.Expire(ctx, sessionKey(sessionID), s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("set container: %w", err)
		}
	}
	return nil
}
