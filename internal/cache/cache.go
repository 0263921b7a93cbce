package cache

import (
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a bounded, time-expiring memo of recent query results. Capacity
// is enforced by LRU eviction; an entry past its TTL is treated as absent
// even if not yet evicted. Values are idempotent per key within the TTL, so
// concurrent last-writer-wins population is fine.
type Cache[V any] struct {
	lru *expirable.LRU[string, V]
}

// New creates a cache with the given capacity and entry lifetime.
func New[V any](size int, ttl time.Duration) *Cache[V] {
	if size <= 0 {
		size = 128
	}
	return &Cache[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Put stores a value under key.
func (c *Cache[V]) Put(key string, value V) {
	c.lru.Add(key, value)
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Key builds a cache key from a query and a result count. The query is
// normalized (lowercase, collapsed whitespace) so trivially different
// spellings share an entry.
func Key(query string, k int) string {
	return Normalize(query) + "|" + strconv.Itoa(k)
}

// Normalize canonicalizes query text for keying.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
