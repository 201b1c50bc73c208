package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-promo/internal/obs"
)

const productKeyPrefix = "promo:product:"

// Cache stores JSON payloads in Redis. A nil *Cache, or one without a client,
// behaves as a permanent miss.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCache constructs a cache helper. A non-positive ttl disables writes.
func NewCache(client redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			recordCache("miss")
			return false, nil
		}
		recordCache("error")
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		recordCache("error")
		return false, err
	}
	recordCache("hit")
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" || c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// InvalidateProducts drops cached display metadata for refs so the next
// lookup reads the database.
func (c *Cache) InvalidateProducts(ctx context.Context, refs ...string) error {
	if c == nil || c.client == nil || len(refs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref != "" {
			keys = append(keys, productKey(ref))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func productKey(ref string) string {
	return productKeyPrefix + ref
}

func recordCache(result string) {
	if obs.CatalogCacheRequestsTotal != nil {
		obs.CatalogCacheRequestsTotal.WithLabelValues(result).Inc()
	}
}
