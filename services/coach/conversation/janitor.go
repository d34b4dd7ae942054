// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// JanitorConfig holds configuration for the background expiry sweeper.
//
// Description:
//
//	Contains the settings for running the background sweep that removes
//	idle conversation histories between accesses. Lazy expiry on access
//	already guarantees correctness; the janitor only bounds how long an
//	idle user's text lingers in memory.
//
// Fields:
//
//   - Interval: How often to sweep. Default: 10 minutes.
type JanitorConfig struct {
	Interval time.Duration
}

// DefaultJanitorConfig returns sensible sweep defaults.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{Interval: 10 * time.Minute}
}

// Janitor periodically sweeps expired conversation histories.
//
// Description:
//
//	Runs SweepExpired on a ticker until stopped. Start and Stop are
//	idempotent; starting an already-running janitor is an error.
//
// Thread Safety: This type is safe for concurrent use.
type Janitor struct {
	mu      sync.Mutex
	buffer  *Buffer
	config  JanitorConfig
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewJanitor creates a janitor sweeping buffer on the configured interval.
//
// Inputs:
//
//	buffer - The conversation buffer to sweep. Must not be nil.
//	config - Sweep settings; zero Interval uses the default.
//	logger - Structured logger. Must not be nil.
func NewJanitor(buffer *Buffer, config JanitorConfig, logger *slog.Logger) *Janitor {
	if config.Interval <= 0 {
		config.Interval = DefaultJanitorConfig().Interval
	}
	return &Janitor{
		buffer: buffer,
		config: config,
		logger: logger,
	}
}

// Start launches the sweep loop in a background goroutine.
//
// Outputs:
//
//	error - Non-nil if the janitor is already running.
//
// Thread Safety: This method is safe for concurrent use.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("conversation janitor already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	j.running = true

	go j.run(ctx)

	j.logger.Info("conversation janitor started", "interval", j.config.Interval)
	return nil
}

// Stop halts the sweep loop and waits for it to exit.
//
// Thread Safety: This method is safe for concurrent use.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	cancel := j.cancel
	done := j.done
	j.running = false
	j.mu.Unlock()

	cancel()
	<-done
	j.logger.Info("conversation janitor stopped")
}

// run is the sweep loop. Exits when ctx is cancelled.
func (j *Janitor) run(ctx context.Context) {
	defer close(j.done)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := j.buffer.SweepExpired(); removed > 0 {
				j.logger.Info("swept expired conversations", "removed", removed)
			}
		}
	}
}
