package presale

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/presale-api/internal/tenant"
)

// Cache is a read-through Redis cache for single items. It is best-effort:
// callers fall back to the store on any cache error.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper. A nil client or non-positive TTL disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

func itemKey(storeID, id string) string {
	return tenant.PrefixKey(storeID, "presale:item:"+id)
}

// Get loads a cached item. It reports whether the key existed.
func (c *Cache) Get(ctx context.Context, storeID, id string) (Item, bool, error) {
	if !c.enabled() {
		return Item{}, false, nil
	}
	data, err := c.client.Get(ctx, itemKey(storeID, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Item{}, false, nil
		}
		return Item{}, false, err
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return Item{}, false, err
	}
	return item, true, nil
}

// Set stores the item with the configured TTL.
func (c *Cache) Set(ctx context.Context, item Item) error {
	if !c.enabled() {
		return nil
	}
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, itemKey(item.StoreID, item.ID), data, c.ttl).Err()
}

// Invalidate drops the cached copy of an item.
func (c *Cache) Invalidate(ctx context.Context, storeID, id string) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Del(ctx, itemKey(storeID, id)).Err()
}
