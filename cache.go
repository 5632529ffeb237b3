package kaboom

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache is the interface for caching query results.
// Users should implement this interface with their preferred caching solution
// (e.g., Redis, Memcached, in-memory).
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// CacheKey identifies the result of one query.
type CacheKey struct {
	Table     string
	Operation string
	Query     string
	Args      []any
}

// String returns the string representation of the cache key. Keys of one
// table share the prefix returned by CachePrefix.
func (k CacheKey) String() string {
	var sb strings.Builder
	sb.WriteString(CachePrefix(k.Table))
	sb.WriteString(k.Operation)
	sb.WriteByte(':')
	sb.WriteString(k.Query)
	for _, a := range k.Args {
		fmt.Fprintf(&sb, ":%T=%v", a, a)
	}
	return sb.String()
}

// CachePrefix returns the key prefix of every cached result of table.
func CachePrefix(table string) string {
	return "kaboom:" + table + ":"
}

// resultCache stores query results encoded with msgpack. Cache failures
// never fail a query; they are logged and the store is queried instead.
type resultCache struct {
	cache Cache
	ttl   time.Duration
}

func (c *resultCache) load(ctx context.Context, key string, v any) bool {
	data, err := c.cache.Get(ctx, key)
	if err != nil || data == nil {
		return false
	}
	return msgpack.Unmarshal(data, v) == nil
}

func (c *resultCache) store(ctx context.Context, key string, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return c.cache.Set(ctx, key, data, c.ttl)
}
