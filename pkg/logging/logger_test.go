// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevelString(t *testing.T) {
	cases := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
		Level(99):  "UNKNOWN",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		" info ":  LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for name, want := range cases {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestNewDefaultLogger(t *testing.T) {
	logger, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if logger.Logger == nil {
		t.Fatal("expected a usable slog.Logger")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() without file sink should be nil, got %v", err)
	}
}

func TestNewFileLogging(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "coach",
		Quiet:   true,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	logger.Info("session started", "user_id", "42")
	logger.Debug("low level detail")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	wantName := "coach_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, wantName))
	if err != nil {
		t.Fatalf("expected log file %s: %v", wantName, err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "session started" {
		t.Errorf("msg = %v, want 'session started'", entry["msg"])
	}
	if entry["service"] != "coach" {
		t.Errorf("service = %v, want 'coach'", entry["service"])
	}
	if entry["user_id"] != "42" {
		t.Errorf("user_id = %v, want '42'", entry["user_id"])
	}
}

func TestNewCreatesLogDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	logger, err := New(Config{LogDir: dir, Service: "coach", Quiet: true})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer logger.Close()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("log directory was not created: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("log path is not a directory")
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "coach",
		Quiet:   true,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")
	logger.Error("kept too")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	name := "coach_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}

	content := string(data)
	if strings.Contains(content, "dropped") {
		t.Error("below-threshold entries should be filtered")
	}
	if !strings.Contains(content, "kept") {
		t.Error("at-threshold entries should be written")
	}
}
