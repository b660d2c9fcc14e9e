package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ReadThrough is a best-effort JSON cache in front of the persistence layer.
// A miss or a redis failure always falls back to the loader; invalidation is
// performed by the write paths after every mutation that could make an entry
// stale.
type ReadThrough struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewReadThrough builds the cache helper. A nil client disables caching.
func NewReadThrough(client *redis.Client, ttl time.Duration, logger *slog.Logger) *ReadThrough {
	return &ReadThrough{client: client, ttl: ttl, logger: logger}
}

// FetchJSON loads a cached value or populates it using the loader. Concurrent
// fetches for the same key share a single loader call.
func (c *ReadThrough) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return reencode(value, dest)
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		if err := json.Unmarshal(raw, dest); err == nil {
			return nil
		}
		// Corrupt entry: drop it and reload.
		_ = c.client.Del(ctx, key).Err()
	} else if !errors.Is(err, redis.Nil) && c.logger != nil {
		c.logger.Warn("cache get failed", slog.String("key", key), slog.Any("error", err))
	}

	payload, err, _ := c.group.Do(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil && c.logger != nil {
			c.logger.Warn("cache set failed", slog.String("key", key), slog.Any("error", err))
		}
		return encoded, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(payload.([]byte), dest)
}

// Invalidate removes keys after a mutation. Failures are logged, never
// propagated: a stale miss falls back to the store.
func (c *ReadThrough) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || c.client == nil || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil && c.logger != nil {
		c.logger.Warn("cache invalidate failed", slog.Any("error", err))
	}
}

func reencode(value, dest any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
