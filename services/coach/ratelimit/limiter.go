// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit implements per-identity sliding-window admission control.
//
// The limiter is purely accept/reject: there is no queueing or blocking.
// Callers are expected to surface a "try again later" outcome on rejection.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Limiter admits at most a fixed number of requests per identity within a
// trailing time window.
//
// Description:
//
//	For each identity the limiter keeps the timestamps of admitted
//	requests inside the trailing window. Stale timestamps are pruned
//	lazily on each check, and at most once per window Allow sweeps the
//	whole map, dropping identities with no live timestamps. An identity
//	that goes idle is gone within two windows, so the map is bounded by
//	recent traffic rather than by lifetime unique users.
//
// Thread Safety: This type is safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	requests    map[string][]time.Time
	maxRequests int
	window      time.Duration
	now         func() time.Time
	lastSweep   time.Time
}

// New creates a Limiter admitting maxRequests per window per identity.
//
// Inputs:
//
//	maxRequests - Admissions allowed within the window. Must be >= 1.
//	window - Trailing window duration. Must be > 0.
//
// Outputs:
//
//	*Limiter - Ready-to-use limiter.
//	error - Non-nil on misconfiguration; fail fast rather than behave
//	unboundedly.
//
// Thread Safety: The returned limiter is safe for concurrent use.
func New(maxRequests int, window time.Duration) (*Limiter, error) {
	if maxRequests < 1 {
		return nil, fmt.Errorf("rate limiter max requests must be >= 1, got %d", maxRequests)
	}
	if window <= 0 {
		return nil, fmt.Errorf("rate limiter window must be > 0, got %s", window)
	}
	return &Limiter{
		requests:    make(map[string][]time.Time),
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}, nil
}

// Allow reports whether a request for identity is admitted now.
//
// Description:
//
//	Prunes timestamps older than the window, then admits if the
//	remaining count is below the maximum, recording the admission
//	timestamp. Rejected requests are not recorded. The window boundary
//	is inclusive: a timestamp exactly window-old is retained
//	(now - t < window).
//
// Inputs:
//
//	identity - Caller identity, typically a user id.
//
// Outputs:
//
//	bool - True if admitted.
//
// Thread Safety: This method is safe for concurrent use.
func (l *Limiter) Allow(identity string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		l.evictIdleLocked(now)
		l.lastSweep = now
	}

	kept := l.requests[identity][:0]
	for _, t := range l.requests[identity] {
		if now.Sub(t) < l.window {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.maxRequests {
		l.requests[identity] = kept
		return false
	}

	l.requests[identity] = append(kept, now)
	return true
}

// Remaining returns how many admissions identity has left in the window.
//
// Description:
//
//	Read-only: prunes nothing and records nothing. Intended for HUD
//	and diagnostics output, not for admission decisions.
//
// Thread Safety: This method is safe for concurrent use.
func (l *Limiter) Remaining(identity string) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	inWindow := 0
	for _, t := range l.requests[identity] {
		if now.Sub(t) < l.window {
			inWindow++
		}
	}
	if inWindow >= l.maxRequests {
		return 0
	}
	return l.maxRequests - inWindow
}

// Forget drops all state for identity.
//
// Thread Safety: This method is safe for concurrent use.
func (l *Limiter) Forget(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.requests, identity)
}

// TrackedIdentities returns how many identities currently hold state.
// Read-only; eviction happens on the Allow path. Exposed for metrics
// and tests.
//
// Thread Safety: This method is safe for concurrent use.
func (l *Limiter) TrackedIdentities() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

// evictIdleLocked drops identities with no live timestamps. Callers
// hold l.mu.
func (l *Limiter) evictIdleLocked(now time.Time) {
	for id, stamps := range l.requests {
		live := false
		for _, t := range stamps {
			if now.Sub(t) < l.window {
				live = true
				break
			}
		}
		if !live {
			delete(l.requests, id)
		}
	}
}

// SetNowFunc overrides the limiter's clock. Tests only.
func (l *Limiter) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
