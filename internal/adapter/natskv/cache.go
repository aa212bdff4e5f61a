// Package natskv implements the cache port using NATS JetStream KV as L2 remote cache.
package natskv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/SiteKeeper/internal/port/cache"
)

// Cache wraps a NATS JetStream KeyValue store as an L2 cache shared by all
// instances.
type Cache struct {
	kv jetstream.KeyValue
}

var _ cache.Reserver = (*Cache)(nil)

// New creates a NATS KV-backed cache.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// sanitizeKey maps a cache key onto the KV key alphabet. Colons are common
// in cache keys but not valid in KV keys.
func sanitizeKey(key string) string {
	return strings.NewReplacer(":", ".", " ", "_", "/", ".").Replace(key)
}

// Get retrieves a value from the NATS KV store.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, sanitizeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set stores a value in the NATS KV store. TTL is managed at bucket level.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.kv.Put(ctx, sanitizeKey(key), value)
	return err
}

// SetIfAbsent creates key only if it does not exist yet. TTL is managed at
// bucket level. A key removed with Delete counts as absent.
func (c *Cache) SetIfAbsent(ctx context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	_, err := c.kv.Create(ctx, sanitizeKey(key), value)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a value from the NATS KV store.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, sanitizeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
