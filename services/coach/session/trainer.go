// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianCoach/services/coach/text"
	"github.com/AleutianAI/AleutianCoach/services/llm"
)

// Sentinel errors surfaced to the chat layer, which maps them to
// user-facing replies.
var (
	// ErrNoSession means the user has no live session.
	ErrNoSession = errors.New("no active training session")

	// ErrProviderUnavailable wraps model-backend failures. The session
	// is left exactly as it was before the failed call.
	ErrProviderUnavailable = errors.New("model provider unavailable")
)

// defaultCallTimeout bounds a single model call made by the trainer.
const defaultCallTimeout = 30 * time.Second

// Outcome is the result of a trainer operation: what to show the user
// and where the session now stands.
type Outcome struct {
	// State is the session phase after the operation. StateFinish means
	// the session no longer exists.
	State State

	// Text is the reply body (question, menu, task, hint, or packet).
	Text string

	// HUD is the one-line status header, empty when not applicable.
	HUD string

	// NewGates lists gate identifiers newly passed by this operation.
	NewGates []string
}

// Trainer orchestrates skill-training sessions.
//
// Description:
//
//	Owns every session transition: it serializes per-user access through
//	the registry, runs gate evaluation after each mutation, and calls
//	the model backend for tasks and the finish plan. Model calls happen
//	before any state mutation they feed, so a backend failure leaves the
//	session exactly as it was.
//
// Thread Safety: This type is safe for concurrent use.
type Trainer struct {
	registry      *Registry
	gates         *GateEngine
	config        *TrainerConfig
	client        llm.LLMClient
	logger        *slog.Logger
	callTimeout   time.Duration
	now           func() time.Time
	hintIndex     func(n int) int
	onSessionOpen func(delta int)
	onTeardown    func(user string)
}

// TrainerOption customizes a Trainer.
type TrainerOption func(*Trainer)

// WithCallTimeout overrides the per-call model timeout.
func WithCallTimeout(d time.Duration) TrainerOption {
	return func(t *Trainer) {
		if d > 0 {
			t.callTimeout = d
		}
	}
}

// WithSessionGauge registers a callback invoked with +1 when a session
// opens and -1 when one ends. Used to drive the active-sessions metric.
func WithSessionGauge(fn func(delta int)) TrainerOption {
	return func(t *Trainer) { t.onSessionOpen = fn }
}

// WithTeardownHook registers a callback invoked with the user identity
// whenever a session is cancelled or superseded by a restart. The
// service wires this to the conversation buffer so tearing a session
// down also drops the user's chat history.
func WithTeardownHook(fn func(user string)) TrainerOption {
	return func(t *Trainer) { t.onTeardown = fn }
}

// withNowFunc overrides the trainer clock. Tests only.
func withNowFunc(now func() time.Time) TrainerOption {
	return func(t *Trainer) { t.now = now }
}

// withHintIndex overrides hint selection. Tests only.
func withHintIndex(fn func(n int) int) TrainerOption {
	return func(t *Trainer) { t.hintIndex = fn }
}

// NewTrainer creates a trainer over the given collaborators.
//
// Inputs:
//
//	registry - Live session store. Must not be nil.
//	gates - Gate engine. Must not be nil.
//	config - Curriculum. Must not be nil.
//	client - Model backend. Must not be nil.
//	logger - Structured logger. Must not be nil.
func NewTrainer(registry *Registry, gates *GateEngine, config *TrainerConfig,
	client llm.LLMClient, logger *slog.Logger, opts ...TrainerOption) (*Trainer, error) {

	if registry == nil || gates == nil || config == nil || client == nil || logger == nil {
		return nil, fmt.Errorf("trainer requires registry, gates, config, client, and logger")
	}

	t := &Trainer{
		registry:    registry,
		gates:       gates,
		config:      config,
		client:      client,
		logger:      logger,
		callTimeout: defaultCallTimeout,
		now:         time.Now,
		hintIndex:   rand.Intn,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// TotalGates returns the number of registered gates, for HUD rendering.
func (t *Trainer) TotalGates() int {
	return len(t.gates.GateIDs())
}

// StartSession opens a fresh session for user and returns the first
// interview question.
//
// Description:
//
//	Starting always wins: any in-progress session for the user is torn
//	down first, teardown hook included, and a fresh one is installed in
//	its place.
//
// Outputs:
//
//	*Outcome - First question plus HUD.
func (t *Trainer) StartSession(ctx context.Context, user string) (*Outcome, error) {
	var out *Outcome
	var opErr error
	var superseded bool

	t.registry.Do(user, func() {
		s, err := NewSession(user, t.config.InterviewSteps())
		if err != nil {
			opErr = err
			return
		}
		question, err := t.config.Question(0)
		if err != nil {
			opErr = err
			return
		}

		superseded = t.registry.Replace(s)
		if superseded {
			if t.onTeardown != nil {
				t.onTeardown(user)
			}
			if t.onSessionOpen != nil {
				t.onSessionOpen(-1)
			}
		}
		if t.onSessionOpen != nil {
			t.onSessionOpen(1)
		}

		out = &Outcome{
			State: s.State(),
			Text:  question,
			HUD:   RenderHUD(s, t.TotalGates()),
		}
	})

	if opErr != nil {
		return nil, opErr
	}
	if superseded {
		t.logger.Info("training session superseded", "user", user)
	}
	t.logger.Info("training session started", "user", user)
	return out, nil
}

// SubmitAnswer records an interview answer and advances the session.
//
// Description:
//
//	While questions remain the outcome carries the next question. The
//	final answer flips the session to mode selection and the outcome
//	carries the mode menu instead. Gate evaluation runs after every
//	accepted answer.
func (t *Trainer) SubmitAnswer(ctx context.Context, user, answer string) (*Outcome, error) {
	var out *Outcome
	var opErr error

	t.registry.Do(user, func() {
		s := t.registry.Get(user)
		if s == nil {
			opErr = ErrNoSession
			return
		}

		if err := s.AddAnswer(answer); err != nil {
			opErr = err
			return
		}
		newGates := t.gates.EvaluateAll(s)

		var text string
		switch s.State() {
		case StateModeSelection:
			text = t.renderModeMenu()
		default:
			q, err := t.config.Question(s.CurrentStep())
			if err != nil {
				opErr = err
				return
			}
			text = q
		}

		out = &Outcome{
			State:    s.State(),
			Text:     text,
			HUD:      RenderHUD(s, t.TotalGates()),
			NewGates: newGates,
		}
	})

	if opErr != nil {
		return nil, opErr
	}
	return out, nil
}

// SelectMode records the chosen mode and issues the first training task.
//
// Description:
//
//	The first task is generated before the session mutates, so a backend
//	failure here leaves the session waiting at mode selection.
func (t *Trainer) SelectMode(ctx context.Context, user string, raw string) (*Outcome, error) {
	mode, err := ParseMode(raw)
	if err != nil {
		return nil, err
	}

	var out *Outcome
	var opErr error

	t.registry.Do(user, func() {
		s := t.registry.Get(user)
		if s == nil {
			opErr = ErrNoSession
			return
		}
		if s.State() != StateModeSelection {
			opErr = fmt.Errorf("cannot select a mode in state %q", s.State())
			return
		}

		task, err := t.generateTask(ctx, s, mode)
		if err != nil {
			opErr = err
			return
		}

		if err := s.SelectMode(mode); err != nil {
			opErr = err
			return
		}
		if err := s.SetTask(task); err != nil {
			opErr = err
			return
		}
		newGates := t.gates.EvaluateAll(s)

		out = &Outcome{
			State:    s.State(),
			Text:     task,
			HUD:      RenderHUD(s, t.TotalGates()),
			NewGates: newGates,
		}
	})

	if opErr != nil {
		return nil, opErr
	}
	t.logger.Info("training mode selected", "user", user, "mode", string(mode))
	return out, nil
}

// RequestTask issues the next training task in the current mode.
func (t *Trainer) RequestTask(ctx context.Context, user string) (*Outcome, error) {
	var out *Outcome
	var opErr error

	t.registry.Do(user, func() {
		s := t.registry.Get(user)
		if s == nil {
			opErr = ErrNoSession
			return
		}
		if s.State() != StateTraining {
			opErr = fmt.Errorf("cannot request a task in state %q", s.State())
			return
		}

		task, err := t.generateTask(ctx, s, s.SelectedMode())
		if err != nil {
			opErr = err
			return
		}
		if err := s.SetTask(task); err != nil {
			opErr = err
			return
		}
		newGates := t.gates.EvaluateAll(s)

		out = &Outcome{
			State:    s.State(),
			Text:     task,
			HUD:      RenderHUD(s, t.TotalGates()),
			NewGates: newGates,
		}
	})

	if opErr != nil {
		return nil, opErr
	}
	return out, nil
}

// ChangeMode rewinds a training session back to mode selection.
func (t *Trainer) ChangeMode(ctx context.Context, user string) (*Outcome, error) {
	var out *Outcome
	var opErr error

	t.registry.Do(user, func() {
		s := t.registry.Get(user)
		if s == nil {
			opErr = ErrNoSession
			return
		}
		if err := s.RewindToModeSelection(); err != nil {
			opErr = err
			return
		}
		out = &Outcome{
			State: s.State(),
			Text:  t.renderModeMenu(),
			HUD:   RenderHUD(s, t.TotalGates()),
		}
	})

	if opErr != nil {
		return nil, opErr
	}
	return out, nil
}

// RequestHint returns a hint sized to fit the session's hint slot.
//
// Description:
//
//	When the user's message signals difficulty the struggle hint is
//	returned; otherwise one is drawn from the rotating library. The
//	hint is recorded on the session for the finish packet.
func (t *Trainer) RequestHint(ctx context.Context, user, userContext string) (*Outcome, error) {
	var out *Outcome
	var opErr error

	t.registry.Do(user, func() {
		s := t.registry.Get(user)
		if s == nil {
			opErr = ErrNoSession
			return
		}

		hint := t.pickHint(userContext)
		s.SetHint(hint)

		out = &Outcome{
			State: s.State(),
			Text:  hint,
			HUD:   RenderHUD(s, t.TotalGates()),
		}
	})

	if opErr != nil {
		return nil, opErr
	}
	return out, nil
}

// Finish generates the personalized plan, assembles the finish packet,
// and removes the session.
//
// Description:
//
//	The plan is generated before any mutation; a backend failure leaves
//	the session alive and resumable. On success the session reaches its
//	terminal state, the finish packet is assembled, and the registry
//	entry is removed.
func (t *Trainer) Finish(ctx context.Context, user string) (*Outcome, error) {
	var out *Outcome
	var opErr error

	t.registry.Do(user, func() {
		s := t.registry.Get(user)
		if s == nil {
			opErr = ErrNoSession
			return
		}
		if s.State() != StateTraining && s.State() != StateModeSelection {
			opErr = fmt.Errorf("cannot finish from state %q", s.State())
			return
		}

		plan, err := t.generatePlan(ctx, s)
		if err != nil {
			opErr = err
			return
		}

		if s.State() == StateTraining {
			if err := s.CompleteTraining(); err != nil {
				opErr = err
				return
			}
		}
		newGates := t.gates.EvaluateAll(s)

		if err := s.FinishWith("", t.now()); err != nil {
			opErr = err
			return
		}
		packet := FormatFinishPacket(s, t.gates, plan, t.config.Version, s.Finish.CompletedAt)
		s.Finish.Packet = packet

		t.registry.End(user)
		if t.onSessionOpen != nil {
			t.onSessionOpen(-1)
		}

		out = &Outcome{
			State:    StateFinish,
			Text:     packet,
			NewGates: newGates,
		}
	})

	if opErr != nil {
		return nil, opErr
	}
	t.logger.Info("training session finished", "user", user)
	return out, nil
}

// Cancel discards user's session without producing a packet.
//
// Outputs:
//
//	bool - Whether a session existed.
func (t *Trainer) Cancel(ctx context.Context, user string) bool {
	var existed bool
	t.registry.Do(user, func() {
		existed = t.registry.End(user)
		if existed && t.onTeardown != nil {
			t.onTeardown(user)
		}
	})
	if existed {
		if t.onSessionOpen != nil {
			t.onSessionOpen(-1)
		}
		t.logger.Info("training session cancelled", "user", user)
	}
	return existed
}

// Snapshot is a point-in-time routing view of a live session.
type Snapshot struct {
	State       State
	CurrentTask string
}

// Peek returns a consistent snapshot of user's live session, or false
// when none exists.
//
// Description:
//
//	Session fields may only be read under the registry lock; callers
//	outside this package route their reads through here instead of
//	holding the *Session directly.
func (t *Trainer) Peek(user string) (Snapshot, bool) {
	var snap Snapshot
	var ok bool

	t.registry.Do(user, func() {
		s := t.registry.Get(user)
		if s == nil {
			return
		}
		ok = true
		snap.State = s.State()
		if s.Training != nil {
			snap.CurrentTask = s.Training.CurrentTask
		}
	})
	return snap, ok
}

// Status returns the HUD for user's live session.
func (t *Trainer) Status(user string) (*Outcome, error) {
	var out *Outcome
	var opErr error

	t.registry.Do(user, func() {
		s := t.registry.Get(user)
		if s == nil {
			opErr = ErrNoSession
			return
		}
		out = &Outcome{
			State: s.State(),
			HUD:   RenderHUD(s, t.TotalGates()),
		}
	})

	if opErr != nil {
		return nil, opErr
	}
	return out, nil
}

// =============================================================================
// Generation
// =============================================================================

const trainerSystemPrompt = "You are a concise, practical skill coach. " +
	"You design short, concrete exercises grounded in the learner's own answers. " +
	"Reply in plain language, no preamble."

// generateTask calls the backend for one training task. The session is
// read but never written here.
func (t *Trainer) generateTask(ctx context.Context, s *Session, mode Mode) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()

	desc := t.config.Modes[string(mode)]
	prompt := fmt.Sprintf(
		"Mode: %s (%s)\n\nLearner interview:\n%s\nProduce the next single training exercise for this learner in this mode. Keep it under 150 words and end with one clear instruction.",
		strings.ToUpper(string(mode)), desc, t.answersBlock(s))

	maxTokens := 512
	text, err := t.client.Chat(ctx, trainerSystemPrompt,
		[]llm.Message{{Role: llm.RoleUser, Content: prompt}},
		llm.GenerationParams{MaxTokens: &maxTokens})
	if err != nil {
		t.logger.Error("task generation failed", "user", s.UserID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return strings.TrimSpace(text), nil
}

// generatePlan calls the backend for the personalized finish program.
func (t *Trainer) generatePlan(ctx context.Context, s *Session) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Learner interview:\n%s\nWrite a personalized 4-week practice program for this learner: weekly focus, 2-3 concrete exercises per week, and one measurable checkpoint at the end. Keep it under 300 words.",
		t.answersBlock(s))

	maxTokens := 1024
	text, err := t.client.Chat(ctx, trainerSystemPrompt,
		[]llm.Message{{Role: llm.RoleUser, Content: prompt}},
		llm.GenerationParams{MaxTokens: &maxTokens})
	if err != nil {
		t.logger.Error("plan generation failed", "user", s.UserID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return strings.TrimSpace(text), nil
}

// answersBlock renders the recorded answers in step order for prompts.
// Answers are PII-masked here: raw contact details never leave for the
// model backend.
func (t *Trainer) answersBlock(s *Session) string {
	steps := make([]int, 0, len(s.Interview.Answers))
	for step := range s.Interview.Answers {
		steps = append(steps, step)
	}
	sort.Ints(steps)

	var b strings.Builder
	for _, step := range steps {
		fmt.Fprintf(&b, "%d. %s\n", step+1, text.MaskPII(s.Interview.Answers[step]))
	}
	return b.String()
}

// renderModeMenu lists the selectable modes in presentation order.
func (t *Trainer) renderModeMenu() string {
	var b strings.Builder
	b.WriteString("Interview complete. Pick a training mode:\n\n")
	for _, m := range Modes() {
		fmt.Fprintf(&b, "• /mode %s - %s\n", m, t.config.Modes[string(m)])
	}
	return b.String()
}

// pickHint chooses between the struggle hint and the rotating library.
func (t *Trainer) pickHint(userContext string) string {
	lowered := strings.ToLower(userContext)
	if lowered != "" && (strings.Contains(lowered, "hard") ||
		strings.Contains(lowered, "difficult") || strings.Contains(lowered, "stuck")) {
		return t.config.StruggleHint
	}
	return t.config.Hints[t.hintIndex(len(t.config.Hints))]
}
