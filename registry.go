package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RoomRegistry answers whether a room exists. An absent room is not an error.
type RoomRegistry interface {
	Lookup(ctx context.Context, key string) (Room, bool, error)
}

// cachedRegistry caches lookups of another registry in Redis. Misses are
// cached too, as an empty value, and evicted when the room gets created.
// Redis trouble never fails a lookup; it only costs a trip to next.
type cachedRegistry struct {
	next RoomRegistry
	rdb  *redis.Client
	ttl  time.Duration
	log  *slog.Logger
}

func newCachedRegistry(next RoomRegistry, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *cachedRegistry {
	return &cachedRegistry{next: next, rdb: rdb, ttl: ttl, log: log}
}

func cacheKey(key string) string { return "roomrelay:room:" + key }

func (c *cachedRegistry) Lookup(ctx context.Context, key string) (Room, bool, error) {
	val, err := c.rdb.Get(ctx, cacheKey(key)).Bytes()
	switch {
	case err == nil:
		if len(val) == 0 {
			return Room{}, false, nil
		}
		var r Room
		if jerr := json.Unmarshal(val, &r); jerr == nil {
			return r, true, nil
		}
		c.log.Warn("registry.cache_corrupt", "key", key)
	case !errors.Is(err, redis.Nil):
		c.log.Warn("registry.cache_get", "key", key, "err", err)
		return c.next.Lookup(ctx, key)
	}

	r, ok, err := c.next.Lookup(ctx, key)
	if err != nil {
		return Room{}, false, err
	}
	var cached []byte
	if ok {
		cached, _ = json.Marshal(r)
	}
	if err := c.rdb.Set(ctx, cacheKey(key), cached, c.ttl).Err(); err != nil {
		c.log.Warn("registry.cache_set", "key", key, "err", err)
	}
	return r, ok, nil
}

// invalidate drops cached entries for the given room keys.
func (c *cachedRegistry) invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = cacheKey(k)
	}
	return c.rdb.Del(ctx, full...).Err()
}
