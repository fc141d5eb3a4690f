package sessionauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/taskboard/sessionauth/refresh"
)

var (
	errResetNotFound         = errors.New("reset record not found")
	errResetRedisUnavailable = errors.New("reset redis unavailable")
)

// An account has at most one outstanding reset token. Issuing a new one
// deletes the previous token key. Keys derived inside the scripts share the
// hash tag of the declared keys, so they live in the same cluster slot.
const issueResetScript = `
local prev = redis.call("GET", KEYS[1])
if prev then
  redis.call("DEL", ARGV[4] .. prev)
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`

var issueResetLua = redis.NewScript(issueResetScript)

const consumeResetScript = `
local account = redis.call("GET", KEYS[1])
if not account then
  return false
end
redis.call("DEL", KEYS[1])
local account_key = ARGV[1] .. account
if redis.call("GET", account_key) == ARGV[2] then
  redis.call("DEL", account_key)
end
return account
`

var consumeResetLua = redis.NewScript(consumeResetScript)

// passwordResetStore keeps hashed one-time reset tokens in Redis.
type passwordResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newPasswordResetStore(redisClient redis.UniversalClient, prefix string) *passwordResetStore {
	if prefix == "" {
		prefix = "apr"
	}
	return &passwordResetStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

// slot wraps the prefix in a hash tag so every reset key hashes to one slot.
func (s *passwordResetStore) slot() string {
	return "{" + s.prefix + "}"
}

func (s *passwordResetStore) tokenPrefix() string {
	return s.slot() + ":t:"
}

func (s *passwordResetStore) accountPrefix() string {
	return s.slot() + ":a:"
}

// Issue stores the hash of token for accountID, replacing any outstanding
// token of that account.
func (s *passwordResetStore) Issue(ctx context.Context, accountID, token string, ttl time.Duration) error {
	hash := refresh.Hash(token)
	_, err := issueResetLua.Run(
		ctx,
		s.redis,
		[]string{s.accountPrefix() + accountID, s.tokenPrefix() + hash},
		hash,
		accountID,
		ttl.Milliseconds(),
		s.tokenPrefix(),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
	}
	return nil
}

// Consume deletes token and returns the account it was issued for. A token
// can be consumed at most once.
func (s *passwordResetStore) Consume(ctx context.Context, token string) (string, error) {
	hash := refresh.Hash(token)
	accountID, err := consumeResetLua.Run(
		ctx,
		s.redis,
		[]string{s.tokenPrefix() + hash},
		s.accountPrefix(),
		hash,
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", errResetNotFound
		}
		return "", fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
	}
	return accountID, nil
}
