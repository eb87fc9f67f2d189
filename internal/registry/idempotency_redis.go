package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyKeyPrefix = "medvault:req:"

// RedisIdempotencyStore is a Redis-backed implementation of IdempotencyStore.
// This is the production-recommended implementation for distributed
// deployments where multiple instances must share request-id state.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, requestID string) (Result, bool, error) {
	raw, err := s.client.Get(ctx, idempotencyKeyPrefix+requestID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("get idempotency entry: %w", err)
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, false, fmt.Errorf("decode idempotency entry: %w", err)
	}
	return result, true, nil
}

func (s *RedisIdempotencyStore) Put(ctx context.Context, requestID string, result Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, idempotencyKeyPrefix+requestID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store idempotency entry: %w", err)
	}
	return nil
}
