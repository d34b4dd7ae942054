// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation keeps per-user bounded, TTL-expiring chat history
// used to build multi-turn context for model calls.
//
// Retention is insertion-ordered: when a user's history exceeds the cap,
// the oldest turns are dropped first regardless of how often newer turns
// were read. A user's entire entry expires once it has been idle past the
// TTL; expiry is observed lazily at the next access and enforced in the
// background by the Janitor.
package conversation

import (
	"fmt"
	"sync"
	"time"
)

// Turn roles. Turns must be appended in strict call order (user turn
// before the assistant turn it produced) so context replay preserves
// conversational causality.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single utterance in a user's history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// userHistory holds one user's retained turns and idle tracking.
type userHistory struct {
	turns        []Turn
	lastActivity time.Time
}

// Buffer is the per-user conversation history store.
//
// Description:
//
//	Holds at most maxTurns turns per user and expires a user's entry
//	after ttl of inactivity. Appends refresh the activity timestamp;
//	reads do not, so a user who only ever replays context still ages
//	out.
//
// Thread Safety: This type is safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	users    map[string]*userHistory
	maxTurns int
	ttl      time.Duration
	now      func() time.Time
}

// NewBuffer creates a Buffer retaining maxTurns turns per user for ttl.
//
// Inputs:
//
//	maxTurns - Per-user retention cap. Must be >= 1.
//	ttl - Idle duration after which a user's history expires. Must be > 0.
//
// Outputs:
//
//	*Buffer - Ready-to-use buffer.
//	error - Non-nil on misconfiguration.
//
// Thread Safety: The returned buffer is safe for concurrent use.
func NewBuffer(maxTurns int, ttl time.Duration) (*Buffer, error) {
	if maxTurns < 1 {
		return nil, fmt.Errorf("conversation buffer cap must be >= 1, got %d", maxTurns)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("conversation buffer ttl must be > 0, got %s", ttl)
	}
	return &Buffer{
		users:    make(map[string]*userHistory),
		maxTurns: maxTurns,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Append adds a turn to user's history and refreshes their activity.
//
// Description:
//
//	Appends in call order. If the history exceeds the cap afterwards,
//	the oldest turns are dropped until it is back at the cap. An entry
//	that had already expired is discarded before the append, so the
//	new turn starts a fresh history rather than resurrecting stale
//	context.
//
// Thread Safety: This method is safe for concurrent use.
func (b *Buffer) Append(user, role, content string) {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.users[user]
	if ok && now.Sub(h.lastActivity) > b.ttl {
		h = nil
	}
	if h == nil {
		h = &userHistory{}
		b.users[user] = h
	}

	h.turns = append(h.turns, Turn{Role: role, Content: content})
	if excess := len(h.turns) - b.maxTurns; excess > 0 {
		h.turns = append([]Turn(nil), h.turns[excess:]...)
	}
	h.lastActivity = now
}

// Context returns the retained turns for user in original order.
//
// Description:
//
//	Returns a copy safe for the caller to hold across later appends.
//	If the user's entry has been idle past the TTL it is deleted and
//	an empty context is returned.
//
// Thread Safety: This method is safe for concurrent use.
func (b *Buffer) Context(user string) []Turn {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.users[user]
	if !ok {
		return nil
	}
	if now.Sub(h.lastActivity) > b.ttl {
		delete(b.users, user)
		return nil
	}

	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Clear removes user's history entirely. Used by reset commands.
//
// Thread Safety: This method is safe for concurrent use.
func (b *Buffer) Clear(user string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.users, user)
}

// Users returns the number of users currently holding history.
//
// Thread Safety: This method is safe for concurrent use.
func (b *Buffer) Users() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.users)
}

// SweepExpired removes every entry idle past the TTL and reports how many
// were removed. Called by the Janitor; safe to call at any time.
//
// Thread Safety: This method is safe for concurrent use.
func (b *Buffer) SweepExpired() int {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for user, h := range b.users {
		if now.Sub(h.lastActivity) > b.ttl {
			delete(b.users, user)
			removed++
		}
	}
	return removed
}

// SetNowFunc overrides the buffer's clock. Tests only.
func (b *Buffer) SetNowFunc(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
