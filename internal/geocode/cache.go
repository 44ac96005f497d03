package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"golden/hour/internal/geo"
)

// Cache stores encoded lookups. A miss is reported as ok == false.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a Cache on top of a Redis client.
type RedisCache struct {
	client redis.Cmdable
}

func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

const (
	reverseCacheTTL = 24 * time.Hour
	forwardCacheTTL = 7 * 24 * time.Hour
	keyPrefix       = "geocode:"
)

// Cached memoises successful lookups of another provider. Cache failures
// are logged and never fail the lookup itself. FindNearby is not cached.
type Cached struct {
	next  Provider
	cache Cache
	log   zerolog.Logger
}

func NewCached(next Provider, cache Cache, log zerolog.Logger) *Cached {
	return &Cached{
		next:  next,
		cache: cache,
		log:   log.With().Str("component", "geocode").Logger(),
	}
}

// reverseKey rounds to five decimals, about one metre.
func reverseKey(p geo.Point) string {
	return fmt.Sprintf("%srev:%.5f,%.5f", keyPrefix, p.Latitude, p.Longitude)
}

func forwardKey(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return keyPrefix + "fwd:" + hex.EncodeToString(sum[:])
}

func (c *Cached) ReverseGeocode(ctx context.Context, p geo.Point) (Address, error) {
	return c.lookup(ctx, reverseKey(p), reverseCacheTTL, func() (Address, error) {
		return c.next.ReverseGeocode(ctx, p)
	})
}

func (c *Cached) ForwardGeocode(ctx context.Context, query string) (Address, error) {
	return c.lookup(ctx, forwardKey(query), forwardCacheTTL, func() (Address, error) {
		return c.next.ForwardGeocode(ctx, query)
	})
}

func (c *Cached) FindNearby(ctx context.Context, center geo.Point, radiusMeters float64, category string) ([]Place, error) {
	return c.next.FindNearby(ctx, center, radiusMeters, category)
}

func (c *Cached) lookup(ctx context.Context, key string, ttl time.Duration, fetch func() (Address, error)) (Address, error) {
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("geocode cache read failed")
	}
	if ok {
		var addr Address
		if err := json.Unmarshal(raw, &addr); err == nil {
			return addr, nil
		}
		c.log.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	}

	addr, err := fetch()
	if err != nil {
		return Address{}, err
	}
	if raw, err := json.Marshal(addr); err == nil {
		if err := c.cache.Set(ctx, key, raw, ttl); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("geocode cache write failed")
		}
	}
	return addr, nil
}
