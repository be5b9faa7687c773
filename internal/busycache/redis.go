package busycache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix = "meetbook:busy:"
	indexTTL    = 24 * time.Hour
)

// RedisStore shares cache entries between server instances. Each tenant has a
// set indexing its keys, used for invalidation.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	index := tenantIndexKey(tenantID)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, redisPrefix+key, value, ttl)
		p.SAdd(ctx, index, redisPrefix+key)
		p.Expire(ctx, index, max(ttl, indexTTL))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) InvalidateTenant(ctx context.Context, tenantID string) error {
	index := tenantIndexKey(tenantID)
	keys, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("redis smembers: %w", err)
	}
	keys = append(keys, index)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func tenantIndexKey(tenantID string) string {
	return redisPrefix + "tenant:" + tenantID
}
