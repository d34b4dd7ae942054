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
	"math"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianCoach/services/llm"
)

// fakeLLM is a scriptable model backend that records what it was sent.
type fakeLLM struct {
	response string
	err      error
	calls    int
	prompts  []string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return f.Chat(ctx, "", []llm.Message{{Role: llm.RoleUser, Content: prompt}}, params)
}

func (f *fakeLLM) Chat(ctx context.Context, system string, messages []llm.Message, params llm.GenerationParams) (string, error) {
	f.calls++
	for _, m := range messages {
		f.prompts = append(f.prompts, m.Content)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func newTestTrainer(t *testing.T, backend *fakeLLM, opts ...TrainerOption) *Trainer {
	t.Helper()
	cfg, err := DefaultTrainerConfig()
	if err != nil {
		t.Fatalf("DefaultTrainerConfig failed: %v", err)
	}
	engine := newTestEngine(t)
	opts = append(opts,
		withNowFunc(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }),
		withHintIndex(func(n int) int { return 0 }),
	)
	tr, err := NewTrainer(NewRegistry(), engine, cfg, backend, slog.Default(), opts...)
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}
	return tr
}

// runInterview starts a session and submits every interview answer.
func runInterview(t *testing.T, tr *Trainer, user string) *Outcome {
	t.Helper()
	ctx := context.Background()

	if _, err := tr.StartSession(ctx, user); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	var last *Outcome
	for i := 0; i < 7; i++ {
		out, err := tr.SubmitAnswer(ctx, user, fmt.Sprintf("answer %d", i))
		if err != nil {
			t.Fatalf("SubmitAnswer %d failed: %v", i, err)
		}
		last = out
	}
	return last
}

func TestTrainer_StartSession(t *testing.T) {
	tr := newTestTrainer(t, &fakeLLM{response: "task"})
	ctx := context.Background()

	out, err := tr.StartSession(ctx, "u1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if out.State != StateInterview {
		t.Errorf("expected interview state, got %q", out.State)
	}
	if !strings.Contains(out.Text, "Step 1") {
		t.Errorf("expected the first question, got %q", out.Text)
	}
	if out.HUD == "" {
		t.Error("expected a HUD on session start")
	}
}

func TestTrainer_StartSupersedesExistingSession(t *testing.T) {
	var torndown []string
	active := 0
	tr := newTestTrainer(t, &fakeLLM{response: "task"},
		WithTeardownHook(func(user string) { torndown = append(torndown, user) }),
		WithSessionGauge(func(delta int) { active += delta }))
	ctx := context.Background()

	if _, err := tr.StartSession(ctx, "u1"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	first := tr.registry.Get("u1")
	if _, err := tr.SubmitAnswer(ctx, "u1", "halfway through"); err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}

	out, err := tr.StartSession(ctx, "u1")
	if err != nil {
		t.Fatalf("expected the restart to supersede, got error: %v", err)
	}
	if out.State != StateInterview {
		t.Errorf("expected a fresh interview, got %q", out.State)
	}

	s := tr.registry.Get("u1")
	if s == first {
		t.Fatal("expected a new session installed")
	}
	if s.CurrentStep() != 0 || len(s.Interview.Answers) != 0 {
		t.Error("expected the replacement session to start from scratch")
	}
	if len(torndown) != 1 || torndown[0] != "u1" {
		t.Errorf("expected the teardown hook invoked on supersession, got %v", torndown)
	}
	if active != 1 {
		t.Errorf("expected gauge 1 after the restart, got %d", active)
	}
}

func TestTrainer_InterviewToModeSelection(t *testing.T) {
	tr := newTestTrainer(t, &fakeLLM{response: "task"})

	out := runInterview(t, tr, "u1")

	if out.State != StateModeSelection {
		t.Errorf("expected mode selection after 7 answers, got %q", out.State)
	}
	s := tr.registry.Get("u1")
	if got, want := s.Progress(), 7.0/8.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("expected progress 7/8, got %f", got)
	}
	if !s.IsGatePassed(GateInterviewComplete) {
		t.Error("expected interview_complete passed")
	}
	if !strings.Contains(out.Text, "/mode sim") {
		t.Errorf("expected the mode menu, got %q", out.Text)
	}
}

func TestTrainer_SelectMode(t *testing.T) {
	backend := &fakeLLM{response: "your first exercise"}
	tr := newTestTrainer(t, backend)
	runInterview(t, tr, "u1")

	out, err := tr.SelectMode(context.Background(), "u1", "sim")
	if err != nil {
		t.Fatalf("SelectMode failed: %v", err)
	}
	if out.State != StateTraining {
		t.Errorf("expected training state, got %q", out.State)
	}
	if out.Text != "your first exercise" {
		t.Errorf("expected the generated task, got %q", out.Text)
	}

	s := tr.registry.Get("u1")
	if s.CurrentStep() != 7 {
		t.Errorf("expected step 7 after mode selection, got %d", s.CurrentStep())
	}
	if !s.IsGatePassed(GateModeSelected) || !s.IsGatePassed(GateTrainingStarted) {
		t.Error("expected mode_selected and training_started passed")
	}

	if _, err := tr.SelectMode(context.Background(), "u1", "warp"); err == nil {
		t.Error("expected error for an unknown mode")
	}
}

func TestTrainer_BackendFailureLeavesStateUntouched(t *testing.T) {
	backend := &fakeLLM{err: errors.New("connection refused")}
	tr := newTestTrainer(t, backend)
	runInterview(t, tr, "u1")

	_, err := tr.SelectMode(context.Background(), "u1", "drill")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}

	s := tr.registry.Get("u1")
	if s == nil {
		t.Fatal("expected the session to survive the failure")
	}
	if s.State() != StateModeSelection {
		t.Errorf("expected the session still at mode selection, got %q", s.State())
	}
	if s.SelectedMode() != "" {
		t.Errorf("expected no mode recorded, got %q", s.SelectedMode())
	}

	// The backend recovers; the same call now succeeds
	backend.err = nil
	backend.response = "task"
	if _, err := tr.SelectMode(context.Background(), "u1", "drill"); err != nil {
		t.Errorf("expected the retry to succeed: %v", err)
	}
}

func TestTrainer_RequestTask(t *testing.T) {
	backend := &fakeLLM{response: "task"}
	tr := newTestTrainer(t, backend)
	runInterview(t, tr, "u1")
	tr.SelectMode(context.Background(), "u1", "quiz")

	out, err := tr.RequestTask(context.Background(), "u1")
	if err != nil {
		t.Fatalf("RequestTask failed: %v", err)
	}
	if out.State != StateTraining {
		t.Errorf("expected training state, got %q", out.State)
	}
	s := tr.registry.Get("u1")
	if s.Training.TasksIssued != 2 {
		t.Errorf("expected 2 issued tasks, got %d", s.Training.TasksIssued)
	}

	if _, err := tr.RequestTask(context.Background(), "ghost"); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestTrainer_ChangeMode(t *testing.T) {
	tr := newTestTrainer(t, &fakeLLM{response: "task"})
	runInterview(t, tr, "u1")
	tr.SelectMode(context.Background(), "u1", "sim")

	out, err := tr.ChangeMode(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ChangeMode failed: %v", err)
	}
	if out.State != StateModeSelection {
		t.Errorf("expected mode selection, got %q", out.State)
	}
	if _, err := tr.SelectMode(context.Background(), "u1", "case"); err != nil {
		t.Errorf("expected re-selection to succeed: %v", err)
	}
	if got := tr.registry.Get("u1").SelectedMode(); got != ModeCase {
		t.Errorf("expected case mode, got %q", got)
	}
}

func TestTrainer_RequestHint(t *testing.T) {
	tr := newTestTrainer(t, &fakeLLM{response: "task"})
	runInterview(t, tr, "u1")

	out, err := tr.RequestHint(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("RequestHint failed: %v", err)
	}
	if len(out.Text) > 240 {
		t.Errorf("hint exceeds 240 characters: %d", len(out.Text))
	}
	if got := tr.registry.Get("u1").LastHint(); got != out.Text {
		t.Error("expected the hint recorded on the session")
	}

	struggling, err := tr.RequestHint(context.Background(), "u1", "this is really hard for me")
	if err != nil {
		t.Fatalf("RequestHint failed: %v", err)
	}
	if !strings.Contains(struggling.Text, "If it feels hard") {
		t.Errorf("expected the struggle hint, got %q", struggling.Text)
	}
}

func TestTrainer_Finish(t *testing.T) {
	backend := &fakeLLM{response: "week by week plan"}
	tr := newTestTrainer(t, backend)
	runInterview(t, tr, "u1")
	tr.SelectMode(context.Background(), "u1", "build")

	out, err := tr.Finish(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if out.State != StateFinish {
		t.Errorf("expected finish state, got %q", out.State)
	}
	if !strings.Contains(out.Text, "FINISH PACKET") {
		t.Error("expected the finish packet header")
	}
	if !strings.Contains(out.Text, "week by week plan") {
		t.Error("expected the generated plan inside the packet")
	}
	if !strings.Contains(out.Text, "answer 3") {
		t.Error("expected the recorded answers inside the packet")
	}

	if tr.registry.Get("u1") != nil {
		t.Error("expected the session removed after finish")
	}
	if _, err := tr.Finish(context.Background(), "u1"); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession after finish, got %v", err)
	}
}

func TestTrainer_FinishBackendFailure(t *testing.T) {
	backend := &fakeLLM{response: "task"}
	tr := newTestTrainer(t, backend)
	runInterview(t, tr, "u1")
	tr.SelectMode(context.Background(), "u1", "sim")

	backend.err = errors.New("timeout")
	if _, err := tr.Finish(context.Background(), "u1"); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}

	s := tr.registry.Get("u1")
	if s == nil || s.State() != StateTraining {
		t.Error("expected the session alive and still training after the failure")
	}
}

func TestTrainer_CancelTearsDown(t *testing.T) {
	var torndown []string
	tr := newTestTrainer(t, &fakeLLM{response: "task"},
		WithTeardownHook(func(user string) { torndown = append(torndown, user) }))
	runInterview(t, tr, "u1")

	if !tr.Cancel(context.Background(), "u1") {
		t.Error("expected Cancel to report an existing session")
	}
	if tr.registry.Get("u1") != nil {
		t.Error("expected the session removed")
	}
	if len(torndown) != 1 || torndown[0] != "u1" {
		t.Errorf("expected the teardown hook invoked for u1, got %v", torndown)
	}

	if tr.Cancel(context.Background(), "u1") {
		t.Error("expected Cancel idempotent with no session")
	}
}

func TestTrainer_SessionGauge(t *testing.T) {
	active := 0
	tr := newTestTrainer(t, &fakeLLM{response: "plan"},
		WithSessionGauge(func(delta int) { active += delta }))

	runInterview(t, tr, "u1")
	if active != 1 {
		t.Errorf("expected gauge 1 after start, got %d", active)
	}
	tr.SelectMode(context.Background(), "u1", "sim")
	tr.Finish(context.Background(), "u1")
	if active != 0 {
		t.Errorf("expected gauge 0 after finish, got %d", active)
	}
}

func TestTrainer_Status(t *testing.T) {
	tr := newTestTrainer(t, &fakeLLM{response: "task"})
	runInterview(t, tr, "u1")

	out, err := tr.Status("u1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !strings.Contains(out.HUD, "Step 7/8") {
		t.Errorf("expected the HUD to show step 7/8, got %q", out.HUD)
	}
	if _, err := tr.Status("ghost"); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestTrainer_Peek(t *testing.T) {
	tr := newTestTrainer(t, &fakeLLM{response: "build a ladder"})

	if _, ok := tr.Peek("ghost"); ok {
		t.Error("expected no snapshot without a session")
	}

	runInterview(t, tr, "u1")
	snap, ok := tr.Peek("u1")
	if !ok || snap.State != StateModeSelection {
		t.Errorf("expected a mode-selection snapshot, got %+v ok=%v", snap, ok)
	}

	tr.SelectMode(context.Background(), "u1", "build")
	snap, ok = tr.Peek("u1")
	if !ok || snap.State != StateTraining {
		t.Fatalf("expected a training snapshot, got %+v ok=%v", snap, ok)
	}
	if snap.CurrentTask != "build a ladder" {
		t.Errorf("expected the current task in the snapshot, got %q", snap.CurrentTask)
	}
}

func TestTrainer_PromptsMaskContactDetails(t *testing.T) {
	backend := &fakeLLM{response: "task"}
	tr := newTestTrainer(t, backend)
	ctx := context.Background()

	if _, err := tr.StartSession(ctx, "u1"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := tr.SubmitAnswer(ctx, "u1", "reach me at alice@example.com"); err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}
	for i := 1; i < 7; i++ {
		if _, err := tr.SubmitAnswer(ctx, "u1", fmt.Sprintf("answer %d", i)); err != nil {
			t.Fatalf("SubmitAnswer %d failed: %v", i, err)
		}
	}
	if _, err := tr.SelectMode(ctx, "u1", "sim"); err != nil {
		t.Fatalf("SelectMode failed: %v", err)
	}

	for _, prompt := range backend.prompts {
		if strings.Contains(prompt, "alice@example.com") {
			t.Fatalf("raw email reached the model backend: %q", prompt)
		}
	}
	found := false
	for _, prompt := range backend.prompts {
		if strings.Contains(prompt, "[EMAIL]") {
			found = true
		}
	}
	if !found {
		t.Error("expected the masked placeholder inside the prompt")
	}
}
