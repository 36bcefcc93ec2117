// Package cache implements the per-neuron, per-layer bounded response
// cache (§4.3 step 4/8): a key/value store with both an LRU capacity
// bound and a per-entry TTL, backed by hashicorp/golang-lru's expirable
// variant rather than a hand-rolled container/list LRU.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/axonmesh/axonmesh/pkg/signal"
)

// Cache wraps an expirable LRU keyed by the digest described in §4.3 step
// 4: hash(layer || sender-id || digest(prompt)).
type Cache struct {
	inner *lru.LRU[string, string]
}

// New constructs a cache with the given capacity and TTL. Capacity <= 0
// or ttl <= 0 disables caching by returning nil — callers check for a
// nil *Cache before using it, matching the "L1 & L5: no cache" rule.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 || ttl <= 0 {
		return nil
	}
	return &Cache{inner: lru.NewLRU[string, string](capacity, nil, ttl)}
}

// Key computes the cache key for a (layer, sender, prompt) triple.
func Key(layer signal.Layer, senderID, prompt string) string {
	h := sha256.New()
	h.Write([]byte(layer))
	h.Write([]byte{0})
	h.Write([]byte(senderID))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached transcript for key, if present and unexpired.
func (c *Cache) Get(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	return c.inner.Get(key)
}

// Put stores a transcript under key, subject to the cache's configured
// TTL and capacity eviction.
func (c *Cache) Put(key, transcript string) {
	if c == nil {
		return
	}
	c.inner.Add(key, transcript)
}

// Len returns the number of live (unexpired) entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.inner.Len()
}
