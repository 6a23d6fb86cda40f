package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "speech:lease:"

// Renew/release must check ownership and act in one round trip, otherwise a
// lease that expired between GET and PEXPIRE could belong to someone else.
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisStore is the shared lease table backed by Redis SET NX with a TTL.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Acquire(ctx context.Context, hash, owner string, ttl time.Duration) (string, error) {
	key := keyPrefix + hash
	ok, err := s.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("lease acquire %s: %w", hash, err)
	}
	if ok {
		return owner, nil
	}

	current, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// Holder expired between SETNX and GET; let the caller retry.
		return "", ErrHeld
	}
	if err != nil {
		return "", fmt.Errorf("lease owner %s: %w", hash, err)
	}
	return current, ErrHeld
}

func (s *RedisStore) Renew(ctx context.Context, hash, owner string, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, s.client, []string{keyPrefix + hash}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lease renew %s: %w", hash, err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, hash, owner string) error {
	n, err := releaseScript.Run(ctx, s.client, []string{keyPrefix + hash}, owner).Int()
	if err != nil {
		return fmt.Errorf("lease release %s: %w", hash, err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

func (s *RedisStore) Owner(ctx context.Context, hash string) (string, error) {
	current, err := s.client.Get(ctx, keyPrefix+hash).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lease owner %s: %w", hash, err)
	}
	return current, nil
}
