// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession("u1", 7)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return s
}

func TestNewSession_RejectsBadConfig(t *testing.T) {
	if _, err := NewSession("", 7); err == nil {
		t.Error("expected error for empty user id")
	}
	if _, err := NewSession("u1", 0); err == nil {
		t.Error("expected error for zero interview steps")
	}
}

func TestSession_InitialState(t *testing.T) {
	s := newTestSession(t)

	if s.State() != StateInterview {
		t.Errorf("expected interview state, got %q", s.State())
	}
	if s.CurrentStep() != 0 {
		t.Errorf("expected step 0, got %d", s.CurrentStep())
	}
	if s.MaxSteps() != 8 {
		t.Errorf("expected 8 max steps, got %d", s.MaxSteps())
	}
	if s.Progress() != 0 {
		t.Errorf("expected zero progress, got %f", s.Progress())
	}
	if s.Interview == nil || s.Training != nil || s.Finish != nil {
		t.Error("expected only the interview payload at creation")
	}
}

func TestSession_InterviewProgression(t *testing.T) {
	s := newTestSession(t)

	for i := 0; i < 7; i++ {
		if err := s.AddAnswer(fmt.Sprintf("answer %d", i)); err != nil {
			t.Fatalf("AddAnswer %d failed: %v", i, err)
		}
	}

	if s.State() != StateModeSelection {
		t.Errorf("expected mode selection after 7 answers, got %q", s.State())
	}
	if got, want := s.Progress(), 7.0/8.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("expected progress 7/8 after the interview, got %f", got)
	}
	if len(s.Interview.Answers) != 7 {
		t.Errorf("expected 7 recorded answers, got %d", len(s.Interview.Answers))
	}
	for i := 0; i < 7; i++ {
		if want := fmt.Sprintf("answer %d", i); s.Interview.Answers[i] != want {
			t.Errorf("answer at step %d: expected %q, got %q", i, want, s.Interview.Answers[i])
		}
	}
}

func TestSession_ProgressMonotone(t *testing.T) {
	s := newTestSession(t)

	prev := s.Progress()
	for i := 0; i < 7; i++ {
		if err := s.AddAnswer("a"); err != nil {
			t.Fatalf("AddAnswer failed: %v", err)
		}
		if s.Progress() < prev {
			t.Fatalf("progress regressed after answer %d: %f -> %f", i, prev, s.Progress())
		}
		prev = s.Progress()
	}
}

func TestSession_RejectsAnswerOutsideInterview(t *testing.T) {
	s := newTestSession(t)
	for i := 0; i < 7; i++ {
		s.AddAnswer("a")
	}
	if err := s.AddAnswer("extra"); err == nil {
		t.Error("expected error adding an answer in mode selection")
	}
	if err := s.AddAnswer(""); err == nil {
		t.Error("expected error for empty answer")
	}
}

func TestSession_SelectMode(t *testing.T) {
	s := newTestSession(t)

	if err := s.SelectMode(ModeSim); err == nil {
		t.Error("expected error selecting a mode during the interview")
	}

	for i := 0; i < 7; i++ {
		s.AddAnswer("a")
	}
	if err := s.SelectMode(Mode("bogus")); err == nil {
		t.Error("expected error for unknown mode")
	}
	if err := s.SelectMode(ModeDrill); err != nil {
		t.Fatalf("SelectMode failed: %v", err)
	}

	if s.State() != StateTraining {
		t.Errorf("expected training state, got %q", s.State())
	}
	if s.CurrentStep() != 7 {
		t.Errorf("expected step 7 after mode selection, got %d", s.CurrentStep())
	}
	if s.Training == nil {
		t.Error("expected a training payload after mode selection")
	}
}

func TestSession_RewindToModeSelection(t *testing.T) {
	s := newTestSession(t)
	for i := 0; i < 7; i++ {
		s.AddAnswer("a")
	}
	s.SelectMode(ModeSim)
	s.SetTask("task one")

	progressBefore := s.Progress()
	if err := s.RewindToModeSelection(); err != nil {
		t.Fatalf("RewindToModeSelection failed: %v", err)
	}

	if s.State() != StateModeSelection {
		t.Errorf("expected mode selection, got %q", s.State())
	}
	if s.SelectedMode() != "" {
		t.Errorf("expected mode cleared, got %q", s.SelectedMode())
	}
	if s.Training != nil {
		t.Error("expected training payload discarded")
	}
	if s.Progress() < progressBefore {
		t.Error("progress must not regress across the rewind")
	}

	// A second mode choice works normally
	if err := s.SelectMode(ModeQuiz); err != nil {
		t.Fatalf("re-selecting a mode failed: %v", err)
	}
}

func TestSession_Finish(t *testing.T) {
	s := newTestSession(t)
	for i := 0; i < 7; i++ {
		s.AddAnswer("a")
	}
	s.SelectMode(ModeCase)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := s.FinishWith("packet", at); err != nil {
		t.Fatalf("FinishWith failed: %v", err)
	}

	if s.State() != StateFinish {
		t.Errorf("expected finish state, got %q", s.State())
	}
	if s.Progress() != 1.0 {
		t.Errorf("expected progress 1.0 at finish, got %f", s.Progress())
	}
	if s.Finish == nil || s.Finish.Packet != "packet" {
		t.Error("expected the finish payload with the packet")
	}
	if err := s.FinishWith("again", at); err == nil {
		t.Error("expected error finishing twice")
	}
}

func TestSession_Hints(t *testing.T) {
	s := newTestSession(t)

	s.SetHint("short hint")
	if s.LastHint() != "short hint" {
		t.Errorf("expected hint stored, got %q", s.LastHint())
	}

	long := make([]byte, 241)
	for i := range long {
		long[i] = 'x'
	}
	s.SetHint(string(long))
	if s.LastHint() != "short hint" {
		t.Error("expected over-length hint discarded, previous hint retained")
	}
}

func TestSession_GatePassesSticky(t *testing.T) {
	s := newTestSession(t)

	s.PassGate(GateModeSelected)
	if !s.IsGatePassed(GateModeSelected) {
		t.Error("expected gate passed")
	}
	s.PassGate(GateModeSelected)
	if s.GatesPassed() != 1 {
		t.Errorf("expected idempotent pass, got %d gates", s.GatesPassed())
	}
}
