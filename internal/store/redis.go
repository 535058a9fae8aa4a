package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AngelCh415/admob-dash/internal/models"
)

// ReportCache keeps raw report bodies keyed by account and date range.
type ReportCache interface {
	Get(ctx context.Context, account string, rng models.DateRange) ([]byte, bool, error)
	Set(ctx context.Context, account string, rng models.DateRange, body []byte) error
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	tz     string
}

// NewRedisCache caches reports requested in time zone tz. Reports bucketed
// in another zone never share a key.
func NewRedisCache(client *redis.Client, ttl time.Duration, tz string) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, tz: tz}
}

func (c *RedisCache) key(account string, rng models.DateRange) string {
	return fmt.Sprintf("admob:report:%s:%s:%s:%s", c.tz, account, rng.Start, rng.End)
}

func (c *RedisCache) Get(ctx context.Context, account string, rng models.DateRange) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, c.key(account, rng)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("report cache get: %w", err)
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, account string, rng models.DateRange, body []byte) error {
	if err := c.client.Set(ctx, c.key(account, rng), body, c.ttl).Err(); err != nil {
		return fmt.Errorf("report cache set: %w", err)
	}
	return nil
}

// NopCache never hits. Used when no Redis address is configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string, models.DateRange) ([]byte, bool, error) {
	return nil, false, nil
}
func (NopCache) Set(context.Context, string, models.DateRange, []byte) error { return nil }
