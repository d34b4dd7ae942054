// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// MaskFunc scrubs user-authored text before it is fingerprinted or stored.
// Implementations must be idempotent; they are not required to be reversible.
type MaskFunc func(string) string

// ResponseCache caches model responses keyed by (tool, query) fingerprints.
//
// Description:
//
//	Wraps the generic LRU cache with a deterministic key derivation so
//	expensive model calls for repeated tool/query pairs can be skipped.
//	Queries are masked and whitespace-normalized before keying, so two
//	queries differing only in spacing share an entry. Fingerprint
//	collisions are treated as hits; at SHA-256 width the collision
//	probability is negligible. Eviction is purely capacity-driven LRU,
//	there is no TTL.
//
// Thread Safety: This type is safe for concurrent use.
type ResponseCache struct {
	cache *Cache[string, string]
	mask  MaskFunc
}

// NewResponseCache creates a response cache with the given capacity.
//
// Inputs:
//
//	capacity - Maximum cached responses. Must be >= 1.
//	mask - Applied to queries before fingerprinting. May be nil for none.
//
// Outputs:
//
//	*ResponseCache - Ready-to-use cache.
//	error - Non-nil if capacity < 1.
//
// Thread Safety: The returned cache is safe for concurrent use.
func NewResponseCache(capacity int, mask MaskFunc) (*ResponseCache, error) {
	inner, err := New[string, string](capacity)
	if err != nil {
		return nil, err
	}
	if mask == nil {
		mask = func(s string) string { return s }
	}
	return &ResponseCache{cache: inner, mask: mask}, nil
}

// Fingerprint derives the cache key for a tool/query pair.
//
// Description:
//
//	SHA-256 over the tool identifier and the masked, whitespace-normalized
//	query with a separator byte between them. Deterministic and
//	order-sensitive: identical pairs always collide, any difference in
//	either field yields a different key with overwhelming probability.
//	Query text is case-sensitive.
//
// Outputs:
//
//	string - Hex-encoded fingerprint.
//
// Thread Safety: This method is safe for concurrent use.
func (r *ResponseCache) Fingerprint(tool, query string) string {
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte("|"))
	h.Write([]byte(normalizeQuery(r.mask(query))))
	return hex.EncodeToString(h.Sum(nil))
}

// GetCached returns the cached response for a tool/query pair.
//
// Outputs:
//
//	string - The cached response text, or "" on a miss.
//	bool - True on a hit.
//
// Thread Safety: This method is safe for concurrent use.
func (r *ResponseCache) GetCached(tool, query string) (string, bool) {
	return r.cache.Get(r.Fingerprint(tool, query))
}

// Put stores a response for a tool/query pair.
//
// Thread Safety: This method is safe for concurrent use.
func (r *ResponseCache) Put(tool, query, response string) {
	r.cache.Set(r.Fingerprint(tool, query), response)
}

// Len returns the number of cached responses.
func (r *ResponseCache) Len() int {
	return r.cache.Len()
}

// HitRate returns the underlying cache hit rate (0.0-1.0).
func (r *ResponseCache) HitRate() float64 {
	return r.cache.HitRate()
}

// normalizeQuery collapses runs of whitespace to single spaces and trims
// the ends, so formatting-only differences do not fragment the cache.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}
