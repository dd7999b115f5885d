package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// NonceStore records HMAC request nonces so a signed invoice request cannot
// be replayed inside the timestamp window.
type NonceStore struct {
	client *goredis.Client
	prefix string
}

func NewNonceStore(client *goredis.Client) *NonceStore {
	return &NonceStore{client: client, prefix: "hmac_nonce:"}
}

// CheckAndSet reports true the first time a client presents nonce.
func (s *NonceStore) CheckAndSet(ctx context.Context, clientID string, nonce string, ttl time.Duration) (bool, error) {
	fresh, err := s.client.SetNX(ctx, s.prefix+clientID+":"+nonce, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("recording nonce for %s: %w", clientID, err)
	}
	return fresh, nil
}
