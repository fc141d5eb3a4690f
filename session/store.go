package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/taskboard/sessionauth/refresh"
)

// ErrRedisUnavailable wraps every failure talking to Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when the account holds no session for the token.
var ErrNotFound = errors.New("session not found")

// ErrExpired is returned when the session exists but its expiry has passed.
// The session has already been evicted when this is returned.
var ErrExpired = errors.New("session expired")

// DefaultPrefix is the key namespace used when none is configured.
const DefaultPrefix = "as"

const (
	lookupStatusNotFound int64 = 0
	lookupStatusExpired  int64 = 1
	lookupStatusActive   int64 = 2
)

// extend_ttl raises the key PTTL so it outlives the furthest expiry written.
const extendTTLLua = `
local function extend_ttl(key, expires_unix, now_ms)
  local want = (tonumber(expires_unix) * 1000) - tonumber(now_ms)
  if want < 1000 then
    want = 1000
  end
  local ttl = redis.call("PTTL", key)
  if ttl < want then
    redis.call("PEXPIRE", key, want)
  end
end
`

// ARGV: field, expires_unix, now_unix, now_ms
const appendScript = extendTTLLua + `
local now = tonumber(ARGV[3])
local all = redis.call("HGETALL", KEYS[1])
for i = 1, #all, 2 do
  if tonumber(all[i + 1]) <= now then
    redis.call("HDEL", KEYS[1], all[i])
  end
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
extend_ttl(KEYS[1], ARGV[2], ARGV[4])
return 1
`

var appendLua = redis.NewScript(appendScript)

// ARGV: field, now_unix
const lookupScript = `
local v = redis.call("HGET", KEYS[1], ARGV[1])
if not v then
  return {0}
end
if tonumber(v) <= tonumber(ARGV[2]) then
  redis.call("HDEL", KEYS[1], ARGV[1])
  return {1}
end
return {2, v}
`

var lookupLua = redis.NewScript(lookupScript)

// ARGV: old_field, new_field, expires_unix, now_unix, now_ms
const rotateScript = extendTTLLua + `
local v = redis.call("HGET", KEYS[1], ARGV[1])
if not v then
  return {0}
end
redis.call("HDEL", KEYS[1], ARGV[1])
if tonumber(v) <= tonumber(ARGV[4]) then
  return {1}
end
redis.call("HSET", KEYS[1], ARGV[2], ARGV[3])
extend_ttl(KEYS[1], ARGV[3], ARGV[5])
return {2, ARGV[3]}
`

var rotateLua = redis.NewScript(rotateScript)

// ARGV: now_unix
const listScript = `
local now = tonumber(ARGV[1])
local all = redis.call("HGETALL", KEYS[1])
local out = {}
for i = 1, #all, 2 do
  if tonumber(all[i + 1]) <= now then
    redis.call("HDEL", KEYS[1], all[i])
  else
    table.insert(out, all[i])
    table.insert(out, all[i + 1])
  end
end
return out
`

var listLua = redis.NewScript(listScript)

// Store is a Redis-backed session store. It is safe for concurrent use and
// for use from several processes sharing one Redis.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store] backed by the given Redis client.
// An empty prefix selects [DefaultPrefix].
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{redis: rdb, prefix: prefix}
}

func (s *Store) key(accountID string) string {
	return s.prefix + ":" + accountID
}

// Append adds a session for token to the account. Existing sessions are kept;
// sessions expired as of now are pruned in the same script, and the key TTL
// is measured from now.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Append(ctx context.Context, accountID, token string, expiresAt, now time.Time) error {
	if accountID == "" || token == "" {
		return errors.New("session append requires account id and token")
	}
	_, err := appendLua.Run(
		ctx,
		s.redis,
		[]string{s.key(accountID)},
		refresh.Hash(token),
		expiresAt.Unix(),
		now.Unix(),
		now.UnixMilli(),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Find returns the session for token. It returns [ErrNotFound] when the
// account has no such session and [ErrExpired] when it had one that expired,
// evicting it atomically.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Find(ctx context.Context, accountID, token string, now time.Time) (Session, error) {
	if accountID == "" || token == "" {
		return Session{}, ErrNotFound
	}
	hash := refresh.Hash(token)

	result, err := lookupLua.Run(ctx, s.redis, []string{s.key(accountID)}, hash, now.Unix()).Result()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	code, payload, err := parseScriptStatus(result)
	if err != nil {
		return Session{}, err
	}

	switch code {
	case lookupStatusNotFound:
		return Session{}, ErrNotFound
	case lookupStatusExpired:
		return Session{}, ErrExpired
	case lookupStatusActive:
		exp, err := parseUnix(payload)
		if err != nil {
			return Session{}, err
		}
		return Session{TokenHash: hash, ExpiresAt: exp}, nil
	default:
		return Session{}, fmt.Errorf("%w: unknown lookup script status", ErrRedisUnavailable)
	}
}

// Rotate replaces oldToken with newToken in one compare-and-swap. Of two
// concurrent rotations of the same token exactly one succeeds; the other
// sees [ErrNotFound].
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Rotate(ctx context.Context, accountID, oldToken, newToken string, expiresAt, now time.Time) error {
	if accountID == "" || oldToken == "" || newToken == "" {
		return ErrNotFound
	}
	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(accountID)},
		refresh.Hash(oldToken),
		refresh.Hash(newToken),
		expiresAt.Unix(),
		now.Unix(),
		now.UnixMilli(),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	code, _, err := parseScriptStatus(result)
	if err != nil {
		return err
	}
	switch code {
	case lookupStatusNotFound:
		return ErrNotFound
	case lookupStatusExpired:
		return ErrExpired
	case lookupStatusActive:
		return nil
	default:
		return fmt.Errorf("%w: unknown rotate script status", ErrRedisUnavailable)
	}
}

// Remove deletes the session for token. Removing a missing session is not an
// error; the boolean reports whether anything was deleted.
//
//	Performance: 1 Redis HDEL.
func (s *Store) Remove(ctx context.Context, accountID, token string) (bool, error) {
	if accountID == "" || token == "" {
		return false, nil
	}
	n, err := s.redis.HDel(ctx, s.key(accountID), refresh.Hash(token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// RemoveAll deletes every session of the account.
//
//	Performance: 1 Redis DEL.
func (s *Store) RemoveAll(ctx context.Context, accountID string) error {
	if accountID == "" {
		return nil
	}
	if err := s.redis.Del(ctx, s.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// List returns the unexpired sessions of the account ordered by expiry,
// evicting expired ones.
func (s *Store) List(ctx context.Context, accountID string, now time.Time) ([]Session, error) {
	if accountID == "" {
		return []Session{}, nil
	}
	result, err := listLua.Run(ctx, s.redis, []string{s.key(accountID)}, now.Unix()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	flat, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: invalid list script response", ErrRedisUnavailable)
	}

	sessions := make([]Session, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		field, ok := flat[i].(string)
		if !ok {
			return nil, fmt.Errorf("%w: invalid list script field", ErrRedisUnavailable)
		}
		exp, err := parseUnix(flat[i+1])
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, Session{TokenHash: field, ExpiresAt: exp})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ExpiresAt.Before(sessions[j].ExpiresAt)
	})
	return sessions, nil
}

// Count returns the number of stored sessions for the account, including any
// expired ones not yet evicted.
func (s *Store) Count(ctx context.Context, accountID string) (int, error) {
	n, err := s.redis.HLen(ctx, s.key(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func parseScriptStatus(result interface{}) (int64, interface{}, error) {
	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return 0, nil, fmt.Errorf("%w: invalid script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("%w: invalid script status", ErrRedisUnavailable)
	}
	var payload interface{}
	if len(parts) > 1 {
		payload = parts[1]
	}
	return code, payload, nil
}

func parseUnix(v interface{}) (time.Time, error) {
	var raw string
	switch x := v.(type) {
	case string:
		raw = x
	case []byte:
		raw = string(x)
	case int64:
		return time.Unix(x, 0), nil
	default:
		return time.Time{}, fmt.Errorf("%w: invalid session expiry", ErrRedisUnavailable)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid session expiry %q", ErrRedisUnavailable, raw)
	}
	return time.Unix(n, 0), nil
}
