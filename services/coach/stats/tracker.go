// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stats tracks per-user usage counters on a bounded LRU, so the
// heaviest recent users keep their counters and long-idle users age out.
package stats

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianCoach/services/coach/cache"
)

// defaultCapacity bounds the number of tracked users.
const defaultCapacity = 500

// Tool identifiers counted by the tracker.
const (
	ToolAI       = "ai"
	ToolTrainer  = "trainer"
	ToolCommands = "commands"
)

// UserStats holds one user's usage counters.
type UserStats struct {
	AIRequests      int    `json:"ai_requests"`
	TrainerSessions int    `json:"trainer_sessions"`
	CommandUses     int    `json:"command_uses"`
	ToolsUsed       int    `json:"tools_used"`
	LastTool        string `json:"last_tool"`
	FirstSeen       string `json:"first_seen"`
	LastActive      string `json:"last_active"`
	ABTestGroup     string `json:"ab_test_group"`
}

// Tracker records usage per user on a bounded cache.
//
// Description:
//
//	Counters live in an LRU capped at capacity users; an eviction loses
//	that user's counters, which is acceptable for engagement stats.
//	Users are assigned a sticky A/B group from their identity so both
//	sides of an experiment stay stable across sessions. The tracker's
//	own mutex guards the counter records: updates for one user can
//	arrive concurrently, each webhook delivery is processed on its own
//	goroutine.
//
// Thread Safety: This type is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	cache *cache.Cache[string, *UserStats]
	now   func() time.Time
}

// NewTracker creates a tracker capped at capacity users; capacity <= 0
// uses the default of 500.
func NewTracker(capacity int) (*Tracker, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	c, err := cache.New[string, *UserStats](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create stats cache: %w", err)
	}
	return &Tracker{cache: c, now: time.Now}, nil
}

// Get returns a copy of user's stats, creating a fresh record on first
// sight.
//
// Thread Safety: This method is safe for concurrent use. The returned
// value is a snapshot; mutation happens only through Record.
func (t *Tracker) Get(user string) UserStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.getLocked(user)
}

// getLocked returns the live record for user. Callers hold t.mu.
func (t *Tracker) getLocked(user string) *UserStats {
	if s, ok := t.cache.Get(user); ok {
		return s
	}
	day := t.now().Format("2006-01-02")
	s := &UserStats{
		FirstSeen:   day,
		LastActive:  day,
		ABTestGroup: ABGroup(user),
	}
	t.cache.Set(user, s)
	return s
}

// Record counts one use of tool by user.
//
// Thread Safety: This method is safe for concurrent use, including
// concurrent updates for the same user.
func (t *Tracker) Record(user, tool string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getLocked(user)

	switch tool {
	case ToolAI:
		s.AIRequests++
	case ToolTrainer:
		s.TrainerSessions++
	case ToolCommands:
		s.CommandUses++
	}

	tools := 0
	if s.AIRequests > 0 {
		tools++
	}
	if s.TrainerSessions > 0 {
		tools++
	}
	if s.CommandUses > 0 {
		tools++
	}
	s.ToolsUsed = tools
	s.LastTool = tool
	s.LastActive = t.now().Format("2006-01-02")
	t.cache.Set(user, s)
}

// TrackedUsers returns the number of users currently holding counters.
func (t *Tracker) TrackedUsers() int {
	return t.cache.Len()
}

// ABGroup derives the sticky experiment group for a user identity:
// even numeric identities land in A, odd in B. Non-numeric identities
// fall back to a byte sum so the split stays deterministic.
func ABGroup(user string) string {
	if n, err := strconv.ParseInt(user, 10, 64); err == nil {
		if n%2 == 0 {
			return "A"
		}
		return "B"
	}
	sum := 0
	for _, b := range []byte(user) {
		sum += int(b)
	}
	if sum%2 == 0 {
		return "A"
	}
	return "B"
}

// RenderProgress formats the usage progress card shown by /progress.
func (t *Tracker) RenderProgress(user string) string {
	t.mu.Lock()
	s := *t.getLocked(user)
	t.mu.Unlock()

	toolBar := progressBar(s.ToolsUsed, 3)
	aiBar := progressBar(s.AIRequests/3, 5)

	var b strings.Builder
	b.WriteString("📊 *YOUR PROGRESS:*\n")
	fmt.Fprintf(&b, "🛠️ Tools: %s %d/3\n", toolBar, s.ToolsUsed)
	fmt.Fprintf(&b, "🤖 AI requests: %s %d+\n", aiBar, s.AIRequests)
	fmt.Fprintf(&b, "🎓 Trainer sessions: %d\n", s.TrainerSessions)
	fmt.Fprintf(&b, "🎯 Test group: %s\n", s.ABTestGroup)
	b.WriteString("💡 Explore more tools to grow your progress!")
	return b.String()
}

// progressBar renders n of width filled cells, clamped to width.
func progressBar(n, width int) string {
	if n > width {
		n = width
	}
	if n < 0 {
		n = 0
	}
	return strings.Repeat("▰", n) + strings.Repeat("▱", width-n)
}
