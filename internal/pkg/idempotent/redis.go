package idempotent

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisIdempotencyService marks keys with SETNX under a shared prefix. A key
// that was already present means the operation already happened.
type RedisIdempotencyService struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisService(client redis.Cmdable, prefix string, ttl time.Duration) *RedisIdempotencyService {
	return &RedisIdempotencyService{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisIdempotencyService) Exists(ctx context.Context, key string) (bool, error) {
	set, err := s.client.SetNX(ctx, s.prefix+":"+key, 1, s.ttl).Result()
	if err != nil {
		return false, err
	}
	// SETNX succeeded => first time we see the key
	return !set, nil
}

func (s *RedisIdempotencyService) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+":"+key).Err()
}

func (s *RedisIdempotencyService) MExists(ctx context.Context, keys ...string) ([]bool, error) {
	if len(keys) == 0 {
		return nil, errors.New("empty keys")
	}
	res := make([]bool, 0, len(keys))
	for _, key := range keys {
		seen, err := s.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		res = append(res, seen)
	}
	return res, nil
}
