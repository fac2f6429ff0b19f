package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore хранит счётчики окон в Redis, общем для всех экземпляров сервиса.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore создаёт хранилище поверх готового клиента Redis.
// Клиент конструируется процессом при старте и передаётся явно.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Incr атомарно увеличивает счётчик окна командой INCR. Время жизни
// выставляется только при создании счётчика.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("incr: %w", err)
	}

	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("expire: %w", err)
		}
		return count, window, nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("pttl: %w", err)
	}
	if ttl < 0 {
		// счётчик без TTL: EXPIRE мог потеряться при сбое, выставляем заново
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("expire: %w", err)
		}
		ttl = window
	}

	return count, ttl, nil
}
