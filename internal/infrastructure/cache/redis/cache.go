// Package redis is the shared classification result cache used when several
// api/worker instances must agree on which model answers were already
// accepted. TTL-based expiry replaces the in-memory LRU bound.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carsnap/angle-review/internal/core/domain"
)

const keyPrefix = "angle:result:"

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(addr string, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, ttl), nil
}

func NewWithClient(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, url string) (domain.ClassificationResult, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+url).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ClassificationResult{}, false, nil
	}
	if err != nil {
		return domain.ClassificationResult{}, false, fmt.Errorf("redis get: %w", err)
	}

	var res domain.ClassificationResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return domain.ClassificationResult{}, false, fmt.Errorf("unmarshal cached result: %w", err)
	}
	return res, true, nil
}

func (c *Cache) Set(ctx context.Context, url string, res domain.ClassificationResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+url, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}
