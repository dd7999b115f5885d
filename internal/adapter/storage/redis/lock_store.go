package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only when it still holds the caller's token.
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore implements ports.Locker with SET NX and a token-checked delete.
type LockStore struct {
	client *goredis.Client
	prefix string
}

// NewLockStore creates a Redis-backed lock store.
func NewLockStore(client *goredis.Client) *LockStore {
	return &LockStore{
		client: client,
		prefix: "lock:",
	}
}

// TryLock takes key for ttl. It returns false without error when the key is
// already held.
func (s *LockStore) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	result, err := s.client.SetArgs(ctx, s.prefix+key, token, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis lock: %w", err)
	}
	return token, result == "OK", nil
}

// Unlock releases key if token still owns it. An expired or stolen lock is
// left alone.
func (s *LockStore) Unlock(ctx context.Context, key string, token string) error {
	if err := unlockScript.Run(ctx, s.client, []string{s.prefix + key}, token).Err(); err != nil {
		return fmt.Errorf("redis unlock: %w", err)
	}
	return nil
}
