// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session implements the guided skill-training session core: the
// per-user state machine, the gate engine that guards its transitions,
// the registry holding at most one live session per user, and the trainer
// that orchestrates them against the model backend.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// States and Modes
// =============================================================================

// State is a phase of a training session.
type State string

const (
	// StateInterview is the initial phase: one question per step.
	StateInterview State = "interview"

	// StateModeSelection waits for the user to pick a training mode.
	StateModeSelection State = "mode_select"

	// StateTraining is the repeatable task loop.
	StateTraining State = "training"

	// StateGateCheck is a transient phase entered while gate predicates
	// are evaluated; the session returns to its prior phase afterwards.
	StateGateCheck State = "gate_check"

	// StateFinish is terminal. Once the finish packet is produced the
	// session is removed from the registry and no longer addressable.
	StateFinish State = "finish"
)

// Mode is a training style chosen after the interview.
type Mode string

const (
	ModeSim   Mode = "sim"
	ModeDrill Mode = "drill"
	ModeBuild Mode = "build"
	ModeCase  Mode = "case"
	ModeQuiz  Mode = "quiz"
)

// Modes lists every selectable mode in presentation order.
func Modes() []Mode {
	return []Mode{ModeSim, ModeDrill, ModeBuild, ModeCase, ModeQuiz}
}

// ParseMode validates a raw mode string.
func ParseMode(raw string) (Mode, error) {
	m := Mode(raw)
	switch m {
	case ModeSim, ModeDrill, ModeBuild, ModeCase, ModeQuiz:
		return m, nil
	}
	return "", fmt.Errorf("unknown training mode %q", raw)
}

// maxHintLength bounds stored hints; longer hints are discarded.
const maxHintLength = 240

// =============================================================================
// Per-state payloads
// =============================================================================

// InterviewData exists from creation through the interview phase and is
// retained afterwards as the answer record.
type InterviewData struct {
	// Answers maps step index to the accepted answer. Steps are filled
	// strictly in order, so iteration over 0..len-1 replays them.
	Answers map[int]string
}

// TrainingData exists only once the session reaches StateTraining.
type TrainingData struct {
	// CurrentTask is the text of the most recently issued task.
	CurrentTask string

	// TasksIssued counts tasks produced in this session.
	TasksIssued int
}

// FinishData exists only once the session reaches StateFinish.
type FinishData struct {
	// Packet is the terminal artifact combining answers with the
	// generated personalized plan.
	Packet string

	// CompletedAt is when the session finished.
	CompletedAt time.Time
}

// =============================================================================
// Session
// =============================================================================

// Session is one user's live training session.
//
// Description:
//
//	Tracks interview progression, the selected mode, passed gates, hint
//	state, and the per-state payloads. Which payload pointer is non-nil
//	is a state invariant: Interview is always present (it carries the
//	answer record), Training appears on entering StateTraining, Finish
//	on entering StateFinish.
//
// Thread Safety: Session methods are NOT individually synchronized. All
// mutation must happen under the owning user's registry lock; the
// registry serializes concurrently arriving updates per user.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	state          State
	currentStep    int
	interviewSteps int
	maxSteps       int
	selectedMode   Mode
	gatesPassed    map[string]struct{}
	lastHint       string
	progress       float64
	complete       bool

	Interview *InterviewData
	Training  *TrainingData
	Finish    *FinishData
}

// NewSession creates a fresh interview-state session for user.
//
// Inputs:
//
//	userID - Owning user identity. Must be non-empty.
//	interviewSteps - Number of interview questions. Must be >= 1.
//
// The session's maxSteps is interviewSteps+1: the interview questions
// plus the mode-selection step.
func NewSession(userID string, interviewSteps int) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("session user id must not be empty")
	}
	if interviewSteps < 1 {
		return nil, fmt.Errorf("interview steps must be >= 1, got %d", interviewSteps)
	}
	return &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		CreatedAt:      time.Now(),
		state:          StateInterview,
		interviewSteps: interviewSteps,
		maxSteps:       interviewSteps + 1,
		gatesPassed:    make(map[string]struct{}),
		Interview:      &InterviewData{Answers: make(map[int]string)},
	}, nil
}

// State returns the current phase.
func (s *Session) State() State { return s.state }

// CurrentStep returns the current step index.
func (s *Session) CurrentStep() int { return s.currentStep }

// MaxSteps returns the total step count (interview + mode selection).
func (s *Session) MaxSteps() int { return s.maxSteps }

// Progress returns the completion fraction in [0,1]. Monotonically
// non-decreasing for the life of the session.
func (s *Session) Progress() float64 { return s.progress }

// SelectedMode returns the chosen mode, or "" while unset.
func (s *Session) SelectedMode() Mode { return s.selectedMode }

// LastHint returns the most recent stored hint, or "".
func (s *Session) LastHint() string { return s.lastHint }

// TrainingComplete reports whether the user ended the task loop.
func (s *Session) TrainingComplete() bool { return s.complete }

// AddAnswer accepts an interview answer for the current step.
//
// Description:
//
//	Records the answer at the current step. If questions remain the
//	step advances; accepting the final interview answer transitions to
//	StateModeSelection with the step left on the last question, so the
//	progress fraction reads interviewSteps/maxSteps until the mode is
//	chosen. Progress is recomputed as min(1, (step+1)/maxSteps) after
//	every accepted answer.
//
// Outputs:
//
//	error - Non-nil when the session is not in StateInterview or the
//	answer is empty.
func (s *Session) AddAnswer(answer string) error {
	if s.state != StateInterview {
		return fmt.Errorf("cannot accept an answer in state %q", s.state)
	}
	if answer == "" {
		return fmt.Errorf("answer must not be empty")
	}

	s.Interview.Answers[s.currentStep] = answer
	if s.currentStep+1 < s.interviewSteps {
		s.currentStep++
	} else {
		s.state = StateModeSelection
	}
	s.updateProgress()
	return nil
}

// SelectMode records the chosen training mode and enters StateTraining.
//
// Description:
//
//	Advances the step past the interview range (currentStep becomes
//	interviewSteps) and attaches the training payload. Progress is not
//	recomputed here; it reaches 1.0 only at finish.
//
// Outputs:
//
//	error - Non-nil when the session is not in StateModeSelection.
func (s *Session) SelectMode(mode Mode) error {
	if s.state != StateModeSelection {
		return fmt.Errorf("cannot select a mode in state %q", s.state)
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}

	s.selectedMode = mode
	s.currentStep = s.interviewSteps
	s.state = StateTraining
	s.Training = &TrainingData{}
	return nil
}

// RewindToModeSelection returns a training session to mode selection.
//
// Description:
//
//	The only sanctioned step rewind: the user may change modes before
//	finishing. The selected mode and training payload are discarded;
//	answers, gates, and progress are retained (gates stay passed).
func (s *Session) RewindToModeSelection() error {
	if s.state != StateTraining {
		return fmt.Errorf("cannot rewind to mode selection from state %q", s.state)
	}
	s.state = StateModeSelection
	s.selectedMode = ""
	s.currentStep = s.interviewSteps - 1
	s.Training = nil
	return nil
}

// SetTask records a newly issued training task.
func (s *Session) SetTask(task string) error {
	if s.state != StateTraining {
		return fmt.Errorf("cannot issue a task in state %q", s.state)
	}
	s.Training.CurrentTask = task
	s.Training.TasksIssued++
	return nil
}

// CompleteTraining marks the task loop finished ahead of the finish call.
func (s *Session) CompleteTraining() error {
	if s.state != StateTraining {
		return fmt.Errorf("cannot complete training in state %q", s.state)
	}
	s.complete = true
	return nil
}

// FinishWith moves the session to its terminal state with the packet.
//
// Description:
//
//	Sets progress to 1.0 and attaches the finish payload. The caller
//	(the trainer) removes the session from the registry immediately
//	afterwards; the state object is then no longer addressable.
func (s *Session) FinishWith(packet string, at time.Time) error {
	if s.state != StateTraining && s.state != StateModeSelection {
		return fmt.Errorf("cannot finish from state %q", s.state)
	}
	s.state = StateFinish
	s.complete = true
	s.progress = 1.0
	s.Finish = &FinishData{Packet: packet, CompletedAt: at}
	return nil
}

// PassGate records gate as passed. Sticky: a passed gate is never
// un-passed for the life of the session.
func (s *Session) PassGate(gateID string) {
	s.gatesPassed[gateID] = struct{}{}
}

// IsGatePassed reports whether gate has been passed.
func (s *Session) IsGatePassed(gateID string) bool {
	_, ok := s.gatesPassed[gateID]
	return ok
}

// GatesPassed returns the number of passed gates.
func (s *Session) GatesPassed() int {
	return len(s.gatesPassed)
}

// SetHint stores hint as the session's last hint. Hints longer than 240
// characters are discarded rather than truncated here; generation is
// responsible for sizing.
func (s *Session) SetHint(hint string) {
	if len(hint) <= maxHintLength {
		s.lastHint = hint
	}
}

// beginGateCheck enters the transient gate-check phase, returning a
// restore function for the prior phase. Trainer use only.
func (s *Session) beginGateCheck() func() {
	prior := s.state
	s.state = StateGateCheck
	return func() {
		if s.state == StateGateCheck {
			s.state = prior
		}
	}
}

// updateProgress recomputes the progress fraction after a step advance.
func (s *Session) updateProgress() {
	p := float64(s.currentStep+1) / float64(s.maxSteps)
	if p > 1.0 {
		p = 1.0
	}
	// Progress never regresses, including across the mode-selection rewind.
	if p > s.progress {
		s.progress = p
	}
}
