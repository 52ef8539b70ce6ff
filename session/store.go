// Package session implements the session registry: the durable record of
// issued token pairs, backed by Redis. It owns the refresh-rotation
// protocol — a Lua compare-and-swap over the stored refresh hash — which
// guarantees at most one winner for any given refresh token under
// concurrency, the property reuse detection is built on.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
)

// rotateScript swaps the session's refresh hash iff the provided hash is
// the current one. Expired or missing sessions are cleaned up and reported;
// a hash mismatch leaves the record untouched so the caller can escalate.
const rotateScript = `
local session_key = KEYS[1]
local index_key_prefix = ARGV[4]
local provided_hash = ARGV[1]
local next_hash = ARGV[2]
local now_unix = tonumber(ARGV[3])
local session_id = ARGV[5]

local data = redis.call("GET", session_key)
if not data then
  return {0}
end

local sess = cjson.decode(data)
local index_key = index_key_prefix .. sess.identity_id

if tonumber(sess.expires_at) <= now_unix then
  redis.call("DEL", session_key)
  redis.call("SREM", index_key, session_id)
  return {1}
end

if sess.refresh_hash ~= provided_hash then
  return {2}
end

local ttl = redis.call("PTTL", session_key)
if ttl <= 0 then
  redis.call("DEL", session_key)
  redis.call("SREM", index_key, session_id)
  return {1}
end

sess.refresh_hash = next_hash
local updated = cjson.encode(sess)
redis.call("SET", session_key, updated, "PX", ttl)
return {3, updated}
`

// revokeScript deletes a session and removes it from the identity index in
// one round trip. Idempotent: revoking a missing session is a no-op.
const revokeScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local sess = cjson.decode(data)
redis.call("SREM", ARGV[1] .. sess.identity_id, ARGV[2])
redis.call("DEL", KEYS[1])
return 1
`

var (
	rotateLua = redis.NewScript(rotateScript)
	revokeLua = redis.NewScript(revokeScript)
)

// Store is the Redis-backed session registry.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a registry on the given Redis client. prefix namespaces
// all keys so multiple deployments can share an instance.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ag"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) indexPrefix() string {
	return s.prefix + ":i:"
}

func (s *Store) indexKey(identityID string) string {
	return s.indexPrefix() + identityID
}

// Save persists a session with the given TTL and adds it to the identity
// index used by RevokeAll.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, ttl)
		pipe.SAdd(ctx, s.indexKey(sess.IdentityID), sess.ID)
		// The index outlives any single session by a margin; stray IDs are
		// tolerated and skipped on read.
		pipe.Expire(ctx, s.indexKey(sess.IdentityID), ttl+time.Hour)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the session or ErrNotFound. Sessions past their recorded
// expiry are treated as absent and cleaned up.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: corrupt session record: %v", ErrUnavailable, err)
	}

	if time.Now().Unix() >= sess.ExpiresAt {
		_ = s.Revoke(ctx, sessionID)
		return nil, ErrNotFound
	}
	return &sess, nil
}

// Rotate atomically replaces the session's refresh hash, provided the
// presented hash is still current. Exactly one of two concurrent calls with
// the same providedHash succeeds; the other observes ErrRefreshMismatch.
func (s *Store) Rotate(ctx context.Context, sessionID, providedHash, nextHash string) (*Session, error) {
	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		providedHash,
		nextHash,
		time.Now().Unix(),
		s.indexPrefix(),
		sessionID,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrUnavailable)
	}

	switch code {
	case rotateStatusNotFound, rotateStatusExpired:
		return nil, ErrNotFound
	case rotateStatusMismatch:
		return nil, ErrRefreshMismatch
	case rotateStatusRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing rotated session payload", ErrUnavailable)
		}
		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid rotated session payload", ErrUnavailable)
		}
		var sess Session
		if err := json.Unmarshal(blob, &sess); err != nil {
			return nil, fmt.Errorf("%w: corrupt session record: %v", ErrUnavailable, err)
		}
		return &sess, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrUnavailable)
	}
}

// Revoke terminates one session. Idempotent.
func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	err := revokeLua.Run(ctx, s.redis, []string{s.key(sessionID)}, s.indexPrefix(), sessionID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RevokeAll terminates every session of an identity and clears the index.
// Returns the number of session records actually removed.
//
// The read-then-delete is not a single atomic step: a session created
// between SMembers and the pipeline is not captured. The engine closes that
// window for token validity by bumping the credential version on the paths
// where it matters; a stray registry record expires on its own.
func (s *Store) RevokeAll(ctx context.Context, identityID string) (int, error) {
	indexKey := s.indexKey(identityID)

	sessionIDs, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	keys := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		keys = append(keys, s.key(id))
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, indexKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return len(keys), nil
}

// ActiveSessionIDs lists the tracked session IDs for an identity. The list
// may include IDs whose records have already expired.
func (s *Store) ActiveSessionIDs(ctx context.Context, identityID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.indexKey(identityID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ids, nil
}

// Ping reports registry availability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}
