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
	"strings"
	"time"
)

// hudBarWidth is the character width of the HUD progress bar.
const hudBarWidth = 10

// RenderHUD produces the one-line status header shown above trainer
// replies.
//
// Description:
//
//	Format: "[██████▒▒▒▒] 60% | Step 5/8" with optional mode and gate
//	segments once those exist. The bar fills in tenths of the progress
//	fraction.
func RenderHUD(s *Session, totalGates int) string {
	filled := int(s.Progress() * hudBarWidth)
	if filled > hudBarWidth {
		filled = hudBarWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("▒", hudBarWidth-filled)

	parts := []string{
		fmt.Sprintf("[%s] %d%%", bar, int(s.Progress()*100)),
		fmt.Sprintf("Step %d/%d", s.CurrentStep()+1, s.MaxSteps()),
	}
	if s.SelectedMode() != "" {
		parts = append(parts, fmt.Sprintf("Mode: %s", strings.ToUpper(string(s.SelectedMode()))))
	}
	if s.GatesPassed() > 0 && totalGates > 0 {
		parts = append(parts, fmt.Sprintf("Gates: %d/%d", s.GatesPassed(), totalGates))
	}
	return strings.Join(parts, " | ")
}

const packetRule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// FormatFinishPacket assembles the terminal session artifact.
//
// Description:
//
//	Combines the session metadata, the recorded interview answers in
//	step order, the generated personalized plan, the passed gates, and
//	the last hint into the packet delivered on finish.
//
// Inputs:
//
//	s - The finished session.
//	engine - Gate engine, used for gate descriptions and totals.
//	plan - The generated personalized program text.
//	version - Trainer version string shown in the header.
//	at - Completion timestamp.
func FormatFinishPacket(s *Session, engine *GateEngine, plan, version string, at time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🎓 *FINISH PACKET - SKILL TRAINER %s*\n", version)
	b.WriteString(packetRule + "\n")
	fmt.Fprintf(&b, "*📅 Session completed:* %s\n", at.Format("02.01.2006 15:04"))
	fmt.Fprintf(&b, "*👤 User ID:* %s\n", s.UserID)
	mode := "not selected"
	if s.SelectedMode() != "" {
		mode = strings.ToUpper(string(s.SelectedMode()))
	}
	fmt.Fprintf(&b, "*🎯 Training mode:* %s\n", mode)
	fmt.Fprintf(&b, "*📊 Progress:* %d%%\n", int(s.Progress()*100))

	b.WriteString("\n*🔍 KEY ANSWERS:*\n")
	steps := make([]int, 0, len(s.Interview.Answers))
	for step := range s.Interview.Answers {
		steps = append(steps, step)
	}
	sort.Ints(steps)
	for _, step := range steps {
		fmt.Fprintf(&b, "\nStep %d:\n%s\n", step+1, s.Interview.Answers[step])
	}

	b.WriteString("\n" + packetRule + "\n")
	fmt.Fprintf(&b, "*🎯 PERSONALIZED PROGRAM:*\n%s\n", plan)
	b.WriteString("\n" + packetRule + "\n")

	ids := engine.GateIDs()
	fmt.Fprintf(&b, "*📋 GATES PASSED:* %d/%d\n", s.GatesPassed(), len(ids))
	for _, id := range ids {
		if !s.IsGatePassed(id) {
			continue
		}
		desc, err := engine.Describe(id)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "• %s\n", desc)
	}

	if hint := s.LastHint(); hint != "" {
		fmt.Fprintf(&b, "\n*💡 LAST HINT:*\n• %s\n", hint)
	} else {
		b.WriteString("\n*💡 NO HINTS REQUESTED*\n")
	}

	b.WriteString("\n" + packetRule + "\n")
	b.WriteString("*🚀 NEXT STEPS:*\n")
	b.WriteString("1. Repeat the core techniques over the next week\n")
	b.WriteString("2. Note 3 situations where you applied the skill\n")
	b.WriteString("3. Start a new session to train the next micro-skill\n")

	return b.String()
}
