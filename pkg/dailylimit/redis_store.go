package dailylimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis. Counters use INCR with an absolute
// expiry at the next UTC midnight, so multi-node deployments share one budget.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed store. The prefix namespaces the keys;
// "dailylimit" is used if empty.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "dailylimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) redisKey(key, day string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, key, day)
}

func (s *RedisStore) Get(ctx context.Context, key, day string) (int, error) {
	count, err := s.client.Get(ctx, s.redisKey(key, day)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *RedisStore) Incr(ctx context.Context, key, day string, expireAt time.Time) (int, error) {
	k := s.redisKey(key, day)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireAt(ctx, k, expireAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	return int(incr.Val()), nil
}

func (s *RedisStore) Reset(ctx context.Context, key, day string) error {
	return s.client.Del(ctx, s.redisKey(key, day)).Err()
}
