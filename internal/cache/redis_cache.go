// Package cache publishes latest-tick and position snapshots to Redis so
// dashboards and side processes can read live state without touching the
// trading path.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"crypto-trading-agent/internal/domain"
)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: rdb, ttl: ttl}
}

func tickKey(symbol string) string     { return "tick:" + symbol }
func positionKey(symbol string) string { return "position:" + symbol }

// SetTick stores the latest normalized tick for a symbol.
func (c *RedisCache) SetTick(ctx context.Context, t *domain.Tick) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, tickKey(t.Instrument), b, c.ttl).Err()
}

// GetTick returns the cached latest tick, or nil when none is cached.
func (c *RedisCache) GetTick(ctx context.Context, symbol string) (*domain.Tick, error) {
	b, err := c.client.Get(ctx, tickKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var t domain.Tick
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// SetPosition stores a position snapshot.
func (c *RedisCache) SetPosition(ctx context.Context, p *domain.Position) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, positionKey(p.Instrument), b, c.ttl).Err()
}

// GetPosition returns the cached position snapshot, or nil when none is
// cached.
func (c *RedisCache) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	b, err := c.client.Get(ctx, positionKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p domain.Position
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Invalidate drops the cached entries for a symbol.
func (c *RedisCache) Invalidate(ctx context.Context, symbol string) error {
	return c.client.Del(ctx, tickKey(symbol), positionKey(symbol)).Err()
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
