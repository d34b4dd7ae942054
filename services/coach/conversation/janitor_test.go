// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestJanitor_StartStop(t *testing.T) {
	b, _ := newTestBuffer(t, 15, time.Hour)
	j := NewJanitor(b, JanitorConfig{Interval: 10 * time.Millisecond}, slog.Default())

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := j.Start(context.Background()); err == nil {
		t.Error("expected error starting an already-running janitor")
	}

	j.Stop()
	// Stop is idempotent
	j.Stop()
}

func TestJanitor_SweepsExpiredEntries(t *testing.T) {
	b, clock := newTestBuffer(t, 15, time.Hour)
	j := NewJanitor(b, JanitorConfig{Interval: 5 * time.Millisecond}, slog.Default())

	b.Append("idle", RoleUser, "hello")
	clock.advance(2 * time.Hour)

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer j.Stop()

	deadline := time.After(time.Second)
	for b.Users() != 0 {
		select {
		case <-deadline:
			t.Fatal("janitor did not sweep the expired entry in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestJanitor_DefaultInterval(t *testing.T) {
	b, _ := newTestBuffer(t, 15, time.Hour)
	j := NewJanitor(b, JanitorConfig{}, slog.Default())
	if j.config.Interval != DefaultJanitorConfig().Interval {
		t.Errorf("expected default interval, got %s", j.config.Interval)
	}
}
