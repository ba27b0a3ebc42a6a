package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const availabilityVersionKey = "stock:avail:version"

// AvailabilityCache is a versioned Redis JSON cache in front of the
// snapshot-backed availability view. Mutations bump one global version
// instead of deleting keys; superseded entries age out via TTL.
// Concurrent misses for the same key collapse into a single load. When
// Redis is unavailable reads fall through to the loader, so availability
// never depends on cache health.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewAvailabilityCache builds AvailabilityCache.
func NewAvailabilityCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *AvailabilityCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &AvailabilityCache{client: client, ttl: ttl, logger: logger}
}

// Fetch returns the cached view for a product or populates it via load.
func (c *AvailabilityCache) Fetch(ctx context.Context, productID int64, load func(context.Context) (AvailabilityView, error)) (AvailabilityView, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	key, err := c.buildKey(ctx, productID)
	if err != nil {
		c.logger.Warn("availability cache unavailable", "error", err)
		return load(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var view AvailabilityView
		if jsonErr := json.Unmarshal(payload, &view); jsonErr == nil {
			return view, nil
		}
		c.logger.Warn("availability cache entry corrupt", "key", key)
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("availability cache read failed", "error", err)
		return load(ctx)
	}
	value, err, _ := c.group.Do(key, func() (any, error) {
		view, err := load(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(view)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("availability cache store failed", "error", err)
		}
		return view, nil
	})
	if err != nil {
		return AvailabilityView{}, err
	}
	return value.(AvailabilityView), nil
}

// Bump invalidates every cached view by incrementing the global version.
func (c *AvailabilityCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, availabilityVersionKey).Err()
}

// version returns the current cache version, initialising when missing.
func (c *AvailabilityCache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, availabilityVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, availabilityVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, availabilityVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

func (c *AvailabilityCache) buildKey(ctx context.Context, productID int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("stock:avail:%d:v%d", productID, ver), nil
}
