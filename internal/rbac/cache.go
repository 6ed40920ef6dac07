package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const globalVersionKey = "rbac:version"

// Cache memoizes resolver reads in Redis, keyed by the query signature
// plus two version counters: a global one bumped whenever a role's
// permission set or the graph changes, and a per-user one bumped on
// assignment changes. Bumping a version orphans the old keys, which
// expire by TTL, so no pattern deletes are ever needed.
//
// The cache is deliberately not strongly consistent: a revoked grant can
// stay visible for up to one TTL window. When Redis is unreachable every
// read degrades to direct evaluation.
type Cache struct {
	client  *redis.Client
	hotTTL  time.Duration
	coldTTL time.Duration
	logger  *slog.Logger
	group   singleflight.Group
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, hotTTL, coldTTL time.Duration, logger *slog.Logger) *Cache {
	return &Cache{client: client, hotTTL: hotTTL, coldTTL: coldTTL, logger: logger}
}

// FetchHot memoizes a per-principal predicate under the hot TTL.
func (c *Cache) FetchHot(ctx context.Context, userID int64, parts []string, dest any, loader func(context.Context) (any, error)) error {
	return c.fetch(ctx, userID, parts, c.hotTTL, dest, loader)
}

// FetchCold memoizes a catalog-wide read under the cold TTL.
func (c *Cache) FetchCold(ctx context.Context, parts []string, dest any, loader func(context.Context) (any, error)) error {
	return c.fetch(ctx, 0, parts, c.coldTTL, dest, loader)
}

func (c *Cache) fetch(ctx context.Context, userID int64, parts []string, ttl time.Duration, dest any, loader func(context.Context) (any, error)) error {
	if c == nil || c.client == nil {
		return loadDirect(ctx, dest, loader)
	}
	key, err := c.buildKey(ctx, userID, parts)
	if err != nil {
		c.warn("cache key", err)
		return loadDirect(ctx, dest, loader)
	}

	payload, err, _ := c.group.Do(key, func() (any, error) {
		raw, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, redis.Nil) {
			// Backend trouble: evaluate directly, skip the write-back.
			c.warn("cache get", err)
			return c.load(ctx, loader)
		}
		raw, lerr := c.load(ctx, loader)
		if lerr != nil {
			return nil, lerr
		}
		if serr := c.client.Set(ctx, key, raw, ttl).Err(); serr != nil {
			c.warn("cache set", serr)
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(payload.([]byte), dest)
}

func (c *Cache) load(ctx context.Context, loader func(context.Context) (any, error)) ([]byte, error) {
	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(value)
}

func loadDirect(ctx context.Context, dest any, loader func(context.Context) (any, error)) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func (c *Cache) buildKey(ctx context.Context, userID int64, parts []string) (string, error) {
	gver, err := c.version(ctx, globalVersionKey)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("rbac:%s:g%d", strings.Join(parts, ":"), gver)
	if userID > 0 {
		uver, err := c.version(ctx, userVersionKey(userID))
		if err != nil {
			return "", err
		}
		key = fmt.Sprintf("%s:user%d:u%d", key, userID, uver)
	}
	return key, nil
}

// version returns the current counter for key, seeding it when missing.
// SETNX seeds so a concurrent bump is never overwritten.
func (c *Cache) version(ctx context.Context, key string) (int64, error) {
	if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
		return 0, err
	}
	return c.client.Get(ctx, key).Int64()
}

func userVersionKey(userID int64) string {
	return fmt.Sprintf("rbac:user:%d:version", userID)
}

// BumpGlobal invalidates every cached resolver read. Used when a role's
// permission set or the role graph changes, since the full holder set is
// not cheaply known at write time.
func (c *Cache) BumpGlobal(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, globalVersionKey).Err()
}

// BumpUser invalidates the cached reads of a single principal.
func (c *Cache) BumpUser(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, userVersionKey(userID)).Err()
}

func (c *Cache) warn(msg string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, slog.Any("error", err))
	}
}
