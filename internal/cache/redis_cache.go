package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirponsel/backend/internal/domain"
)

type RedisStatementCache struct {
	client *redis.Client
}

func NewRedisStatementCache(addr string, password string, db int) *RedisStatementCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStatementCache{client: client}
}

func (c *RedisStatementCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStatementCache) Close() error {
	return c.client.Close()
}

func (c *RedisStatementCache) Get(ctx context.Context, key string) (*domain.DebtorStatement, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var statement domain.DebtorStatement
	if err := json.Unmarshal([]byte(val), &statement); err != nil {
		return nil, false, err
	}
	return &statement, true, nil
}

func (c *RedisStatementCache) Set(ctx context.Context, key string, value *domain.DebtorStatement, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisStatementCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
