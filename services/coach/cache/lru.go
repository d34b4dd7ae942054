// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides bounded in-memory caching for the coach service.
//
// The package contains two layers: a generic fixed-capacity LRU cache
// (Cache) and a response cache (ResponseCache) that derives deterministic
// fingerprint keys from a tool identifier and a query string. Neither
// layer persists anything; process restart loses all entries.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
)

// Cache is a fixed-capacity key/value store with LRU eviction.
//
// Description:
//
//	Cache holds at most the capacity given at construction. Inserting
//	beyond capacity evicts the least recently used entry. Get and Set
//	refresh an entry's recency; Contains deliberately does not, so
//	existence checks never influence eviction order.
//
// Thread Safety: This type is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	entries  map[K]*list.Element
	lru      *list.List
	capacity int

	// Metrics
	hits   atomic.Int64
	misses atomic.Int64
}

// entry is the value stored in the LRU list.
type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates a Cache with the given capacity.
//
// Description:
//
//	Creates an empty LRU cache. Capacity is fixed for the cache's
//	lifetime. A capacity below 1 is a configuration error and is
//	rejected at construction rather than allowed to behave unboundedly.
//
// Inputs:
//
//	capacity - Maximum number of entries. Must be >= 1.
//
// Outputs:
//
//	*Cache[K, V] - Ready-to-use cache.
//	error - Non-nil if capacity < 1.
//
// Thread Safety: The returned cache is safe for concurrent use.
func New[K comparable, V any](capacity int) (*Cache[K, V], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("cache capacity must be >= 1, got %d", capacity)
	}
	return &Cache[K, V]{
		entries:  make(map[K]*list.Element),
		lru:      list.New(),
		capacity: capacity,
	}, nil
}

// Get retrieves the value for key and marks it most recently used.
//
// Outputs:
//
//	V - The stored value, or the zero value on a miss.
//	bool - True on a hit.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	c.lru.MoveToFront(elem)
	c.hits.Add(1)
	return elem.Value.(*entry[K, V]).value, true
}

// Set stores value under key, evicting the LRU entry if at capacity.
//
// Description:
//
//	Inserts or overwrites. The written entry becomes most recently
//	used either way. When the insert would exceed capacity, exactly
//	one entry - the least recently used - is evicted first.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*entry[K, V]).value = value
		c.lru.MoveToFront(elem)
		return
	}

	for c.lru.Len() >= c.capacity {
		c.evictOldest()
	}

	elem := c.lru.PushFront(&entry[K, V]{key: key, value: value})
	c.entries[key] = elem
}

// Contains reports whether key is present.
//
// Description:
//
//	Read-only existence check. Unlike Get, Contains does not refresh
//	the entry's recency and does not count toward hit/miss metrics.
//	Callers that want the recency side effect must use Get.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Delete removes key if present.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.removeElement(elem)
	}
}

// Len returns the current number of entries.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the fixed capacity set at construction.
func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}

// Keys returns the keys ordered most to least recently used.
//
// Description:
//
//	Snapshot of the recency order, front (most recent) first. Intended
//	for diagnostics and tests; does not affect recency.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.lru.Len())
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry[K, V]).key)
	}
	return keys
}

// Clear removes all entries.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*list.Element)
	c.lru = list.New()
}

// HitRate returns the cache hit rate (0.0-1.0).
//
// Description:
//
//	Ratio of Get hits to total Get calls since construction or the
//	last ResetMetrics. Returns 0 before the first lookup.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Cache[K, V]) HitRate() float64 {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Hits returns the total number of Get hits.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Cache[K, V]) Hits() int64 {
	return c.hits.Load()
}

// Misses returns the total number of Get misses.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Cache[K, V]) Misses() int64 {
	return c.misses.Load()
}

// ResetMetrics resets the hit/miss counters to zero.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Cache[K, V]) ResetMetrics() {
	c.hits.Store(0)
	c.misses.Store(0)
}

// evictOldest removes the least recently used entry.
// Must be called with lock held.
func (c *Cache[K, V]) evictOldest() {
	elem := c.lru.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}

// removeElement removes an element from both map and list.
// Must be called with lock held.
func (c *Cache[K, V]) removeElement(elem *list.Element) {
	delete(c.entries, elem.Value.(*entry[K, V]).key)
	c.lru.Remove(elem)
}
