// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"fmt"
	"sort"
)

// Gate identifiers evaluated over a session's lifetime.
const (
	GateInterviewComplete = "interview_complete"
	GateModeSelected      = "mode_selected"
	GateTrainingStarted   = "training_started"
	GateSessionFinished   = "session_finished"
)

// Gate is a named checkpoint over session state.
//
// Description:
//
//	A gate pairs an identifier with a predicate over the session. Passing
//	is sticky: once the engine observes a predicate holding it records
//	the pass on the session, and the gate stays passed even if later
//	mutation would make the predicate false again.
type Gate struct {
	ID          string
	Description string
	Check       func(*Session) bool
}

// GateEngine evaluates gates against sessions.
//
// Thread Safety: The engine itself is immutable after construction and
// safe for concurrent use; evaluation mutates the session, which must be
// held under its registry lock.
type GateEngine struct {
	gates map[string]Gate
	order []string
}

// NewGateEngine creates an engine over the given gates.
//
// Outputs:
//
//	error - Non-nil when two gates share an identifier or a gate has a
//	nil predicate.
func NewGateEngine(gates []Gate) (*GateEngine, error) {
	e := &GateEngine{gates: make(map[string]Gate, len(gates))}
	for _, g := range gates {
		if g.ID == "" {
			return nil, fmt.Errorf("gate identifier must not be empty")
		}
		if g.Check == nil {
			return nil, fmt.Errorf("gate %q has no predicate", g.ID)
		}
		if _, dup := e.gates[g.ID]; dup {
			return nil, fmt.Errorf("duplicate gate identifier %q", g.ID)
		}
		e.gates[g.ID] = g
		e.order = append(e.order, g.ID)
	}
	return e, nil
}

// DefaultGates returns the standard training progression gates.
func DefaultGates() []Gate {
	return []Gate{
		{
			ID:          GateInterviewComplete,
			Description: "every interview question has a recorded answer",
			Check: func(s *Session) bool {
				if len(s.Interview.Answers) < s.interviewSteps {
					return false
				}
				for i := 0; i < s.interviewSteps; i++ {
					if s.Interview.Answers[i] == "" {
						return false
					}
				}
				return true
			},
		},
		{
			ID:          GateModeSelected,
			Description: "a training mode has been chosen",
			Check: func(s *Session) bool {
				return s.selectedMode != ""
			},
		},
		{
			ID:          GateTrainingStarted,
			Description: "at least one training task has been issued",
			Check: func(s *Session) bool {
				return s.Training != nil && s.Training.TasksIssued > 0
			},
		},
		{
			ID:          GateSessionFinished,
			Description: "the training loop has been completed",
			Check: func(s *Session) bool {
				return s.complete
			},
		},
	}
}

// Evaluate checks a single gate against the session.
//
// Description:
//
//	An already-passed gate short-circuits to true without re-running the
//	predicate. A predicate observed true records a sticky pass on the
//	session.
//
// Outputs:
//
//	bool - Whether the gate is (now) passed.
//	error - Non-nil when gateID names no registered gate. Unknown gates
//	are an explicit error, never a silent pass or fail.
func (e *GateEngine) Evaluate(s *Session, gateID string) (bool, error) {
	g, ok := e.gates[gateID]
	if !ok {
		return false, fmt.Errorf("unknown gate %q", gateID)
	}
	if s.IsGatePassed(gateID) {
		return true, nil
	}
	if g.Check(s) {
		s.PassGate(gateID)
		return true, nil
	}
	return false, nil
}

// EvaluateAll runs every registered gate in registration order and
// returns the identifiers that are newly passed by this call.
func (e *GateEngine) EvaluateAll(s *Session) []string {
	restore := s.beginGateCheck()
	defer restore()

	var newly []string
	for _, id := range e.order {
		if s.IsGatePassed(id) {
			continue
		}
		if e.gates[id].Check(s) {
			s.PassGate(id)
			newly = append(newly, id)
		}
	}
	return newly
}

// Describe returns the description for a gate identifier.
func (e *GateEngine) Describe(gateID string) (string, error) {
	g, ok := e.gates[gateID]
	if !ok {
		return "", fmt.Errorf("unknown gate %q", gateID)
	}
	return g.Description, nil
}

// GateIDs returns every registered identifier, sorted.
func (e *GateEngine) GateIDs() []string {
	ids := make([]string, len(e.order))
	copy(ids, e.order)
	sort.Strings(ids)
	return ids
}
