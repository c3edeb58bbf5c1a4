// Package exclusions offers a read-through cache over the matching
// blacklist. Matching pipelines check candidate values at high volume, so
// lookups hit Redis first and fall back to the store on a miss.
package exclusions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"idregistry/internal/registry/store"
)

const (
	keyPrefix  = "reg:excluded:"
	defaultTTL = 10 * time.Minute

	markerExcluded = "1"
	markerAbsent   = "0"
)

// Cache answers exclusion lookups from Redis, falling back to the store.
// A nil Redis client degrades to store-only lookups.
type Cache struct {
	client *redis.Client
	store  store.EntityStore
	logger *slog.Logger
	ttl    time.Duration
}

// Option configures the cache.
type Option func(*Cache)

// WithTTL overrides the default entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// New builds a cache over the given store.
func New(client *redis.Client, st store.EntityStore, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{client: client, store: st, logger: logger, ttl: defaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsExcluded reports whether value is on the matching blacklist. Cache
// failures are logged and answered from the store; the blacklist must stay
// authoritative even when Redis is down.
func (c *Cache) IsExcluded(ctx context.Context, value string) (bool, error) {
	if c.client != nil {
		cached, err := c.client.Get(ctx, keyPrefix+value).Result()
		switch {
		case err == nil:
			return cached == markerExcluded, nil
		case !errors.Is(err, redis.Nil):
			c.logger.WarnContext(ctx, "exclusion cache read failed", "error", err.Error())
		}
	}

	excluded, err := c.store.HasMatchingExclusion(ctx, value)
	if err != nil {
		return false, fmt.Errorf("exclusion lookup: %w", err)
	}

	if c.client != nil {
		marker := markerAbsent
		if excluded {
			marker = markerExcluded
		}
		if err := c.client.Set(ctx, keyPrefix+value, marker, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "exclusion cache write failed", "error", err.Error())
		}
	}
	return excluded, nil
}

// Invalidate drops every cached exclusion marker. Called after the blacklist
// changes; the next lookup repopulates from the store.
func (c *Cache) Invalidate(ctx context.Context) {
	if c.client == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.WarnContext(ctx, "exclusion cache scan failed", "error", err.Error())
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WarnContext(ctx, "exclusion cache invalidation failed", "error", err.Error())
	}
}
