package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const consumedKeyPrefix = "verify:link:v1:"

// ConsumedTokenStore records email-link tokens that were redeemed, so a
// second redemption can be rejected idempotently.
type ConsumedTokenStore interface {
	// Consume reserves the token. It returns true on first consumption and
	// false when the token was consumed before.
	Consume(ctx context.Context, token string) (bool, error)

	// Release frees a reservation made by Consume when the completion it
	// guarded failed, so the token can be retried.
	Release(ctx context.Context, token string) error
}

type memoryTokenStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryTokenStore builds the in-memory consumed-token store used when no
// Redis backing is configured.
func NewMemoryTokenStore() ConsumedTokenStore {
	return &memoryTokenStore{seen: make(map[string]struct{})}
}

func (s *memoryTokenStore) Consume(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tokenKey(token)
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	return true, nil
}

func (s *memoryTokenStore) Release(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, tokenKey(token))
	return nil
}

type redisTokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTokenStore builds a Redis-backed consumed-token store. Entries are
// reserved with SETNX and expire after ttl, which should comfortably exceed
// the claim TTL.
func NewRedisTokenStore(client *redis.Client, ttl time.Duration) ConsumedTokenStore {
	return &redisTokenStore{client: client, ttl: ttl}
}

func (s *redisTokenStore) Consume(ctx context.Context, token string) (bool, error) {
	ok, err := s.client.SetNX(ctx, consumedKeyPrefix+tokenKey(token), "consumed", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve link token: %w", err)
	}
	return ok, nil
}

func (s *redisTokenStore) Release(ctx context.Context, token string) error {
	return s.client.Del(ctx, consumedKeyPrefix+tokenKey(token)).Err()
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
