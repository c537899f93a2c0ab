package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultPrefix = "pharmaledger:reports"

// RedisReportCache namespaces keys by a generation counter. Purge bumps the
// counter, which orphans older entries until their TTL expires.
type RedisReportCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisReportCache(addr string, password string, db int) *RedisReportCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReportCache{client: client, prefix: defaultPrefix}
}

func (c *RedisReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReportCache) Close() error {
	return c.client.Close()
}

func (c *RedisReportCache) Get(ctx context.Context, key string, dest any) (Entry, bool, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, false, err
	}
	entry := Entry{Key: key, Generation: gen}

	val, err := c.client.Get(ctx, c.entryKey(entry)).Bytes()
	if errors.Is(err, redis.Nil) {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, err
	}

	if err := json.Unmarshal(val, dest); err != nil {
		return entry, false, err
	}
	return entry, true, nil
}

// Set stores value under the generation entry was resolved against, not the
// current one.
func (c *RedisReportCache) Set(ctx context.Context, entry Entry, value any, ttl time.Duration) error {
	if value == nil || entry.Key == "" {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.entryKey(entry), payload, ttl).Err()
}

func (c *RedisReportCache) Purge(ctx context.Context) error {
	return c.client.Incr(ctx, c.generationKey()).Err()
}

func (c *RedisReportCache) entryKey(entry Entry) string {
	return fmt.Sprintf("%s:%d:%s", c.prefix, entry.Generation, entry.Key)
}

func (c *RedisReportCache) generationKey() string {
	return c.prefix + ":gen"
}
