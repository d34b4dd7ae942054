// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dispatch routes incoming Telegram updates: rate limiting and
// sanitation first, then command handling, live-session routing, and
// finally free-form AI chat with conversation context.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianCoach/services/coach/cache"
	"github.com/AleutianAI/AleutianCoach/services/coach/conversation"
	"github.com/AleutianAI/AleutianCoach/services/coach/observability"
	"github.com/AleutianAI/AleutianCoach/services/coach/ratelimit"
	"github.com/AleutianAI/AleutianCoach/services/coach/session"
	"github.com/AleutianAI/AleutianCoach/services/coach/stats"
	"github.com/AleutianAI/AleutianCoach/services/coach/text"
	"github.com/AleutianAI/AleutianCoach/services/llm"
	"github.com/AleutianAI/AleutianCoach/services/telegram"
)

// Sender is the slice of the Telegram client the dispatcher needs.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts ...telegram.SendOption) (*telegram.Message, error)
	AnswerCallbackQuery(ctx context.Context, callbackID, notice string) error
}

// Update kinds for metrics.
const (
	kindCommand  = "command"
	kindMessage  = "message"
	kindCallback = "callback"
)

// activeToolCapacity bounds the per-user tool selection map.
const activeToolCapacity = 512

const feedbackSystemPrompt = "You are a skill coach reviewing a learner's attempt at " +
	"a training exercise. Point out one thing done well and one concrete improvement. " +
	"Stay under 120 words."

// Dispatcher routes updates through the bot pipeline.
//
// Description:
//
//	Order per update: per-user rate limit, input sanitation, then
//	routing. Commands always win; otherwise a live training session
//	captures the text; otherwise the text is free-form chat answered by
//	the model with the user's recent conversation as context.
//
// Thread Safety: This type is safe for concurrent use.
type Dispatcher struct {
	trainer       *session.Trainer
	limiter       *ratelimit.Limiter
	responses     *cache.ResponseCache
	conversations *conversation.Buffer
	client        llm.LLMClient
	tracker       *stats.Tracker
	metrics       *observability.BotMetrics
	sender        Sender
	logger        *slog.Logger
	chatTimeout   time.Duration

	// activeTools maps user id to the selected AI tool key.
	activeTools *cache.Cache[string, string]
}

// Config wires a Dispatcher. Every field is required.
type Config struct {
	Trainer       *session.Trainer
	Limiter       *ratelimit.Limiter
	Responses     *cache.ResponseCache
	Conversations *conversation.Buffer
	Client        llm.LLMClient
	Tracker       *stats.Tracker
	Metrics       *observability.BotMetrics
	Sender        Sender
	Logger        *slog.Logger

	// ChatTimeout bounds a free-form chat model call. Default 30s.
	ChatTimeout time.Duration
}

// NewDispatcher validates cfg and builds the dispatcher.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Trainer == nil, cfg.Limiter == nil,
		cfg.Responses == nil, cfg.Conversations == nil, cfg.Client == nil,
		cfg.Tracker == nil, cfg.Metrics == nil, cfg.Sender == nil, cfg.Logger == nil:
		return nil, fmt.Errorf("dispatcher config has nil collaborators")
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = 30 * time.Second
	}
	activeTools, err := cache.New[string, string](activeToolCapacity)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		trainer:       cfg.Trainer,
		limiter:       cfg.Limiter,
		responses:     cfg.Responses,
		conversations: cfg.Conversations,
		client:        cfg.Client,
		tracker:       cfg.Tracker,
		metrics:       cfg.Metrics,
		sender:        cfg.Sender,
		logger:        cfg.Logger,
		chatTimeout:   cfg.ChatTimeout,
		activeTools:   activeTools,
	}, nil
}

// Dispatch processes one update end to end. Errors are handled by
// replying to the user and logging; the webhook always acknowledges.
func (d *Dispatcher) Dispatch(ctx context.Context, update *telegram.Update) {
	switch {
	case update.CallbackQuery != nil:
		d.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		d.handleMessage(ctx, update.Message)
	default:
		d.logger.Debug("ignoring update with no actionable payload", "update_id", update.UpdateID)
	}
}

// handleMessage routes one chat message.
func (d *Dispatcher) handleMessage(ctx context.Context, msg *telegram.Message) {
	user := strconv.FormatInt(msg.From.ID, 10)
	chatID := msg.Chat.ID

	if !d.limiter.Allow(user) {
		d.metrics.RateLimitRejectionsTotal.Inc()
		d.metrics.ObserveUpdate(kindMessage, "rejected")
		d.reply(ctx, chatID, "⏳ Too many requests. Take a short breath and try again in a minute.")
		return
	}

	input := text.SanitizeInput(msg.Text, 0)
	if input == "" {
		d.metrics.ObserveUpdate(kindMessage, "ok")
		return
	}

	if strings.HasPrefix(input, "/") {
		d.handleCommand(ctx, chatID, user, input)
		return
	}

	// A live session captures free text before anything else sees it.
	if snap, ok := d.trainer.Peek(user); ok {
		d.handleSessionText(ctx, chatID, user, snap, input)
		return
	}

	d.handleChat(ctx, chatID, user, input)
}

// handleCallback routes an inline-keyboard press.
func (d *Dispatcher) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	user := strconv.FormatInt(cb.From.ID, 10)
	if cb.Message == nil {
		d.metrics.ObserveUpdate(kindCallback, "error")
		return
	}
	chatID := cb.Message.Chat.ID

	// Callbacks draw on the same admission budget as messages.
	if !d.limiter.Allow(user) {
		d.metrics.RateLimitRejectionsTotal.Inc()
		d.metrics.ObserveUpdate(kindCallback, "rejected")
		d.reply(ctx, chatID, "⏳ Too many requests. Take a short breath and try again in a minute.")
		return
	}

	if err := d.sender.AnswerCallbackQuery(ctx, cb.ID, ""); err != nil {
		d.logger.Warn("failed to answer callback query", "error", err)
	}

	data := text.SanitizeInput(cb.Data, 64)
	switch {
	case strings.HasPrefix(data, "mode:"):
		d.commandMode(ctx, chatID, user, strings.TrimPrefix(data, "mode:"))
		d.metrics.ObserveUpdate(kindCallback, "ok")
	case data == "trainer:start":
		d.commandTrain(ctx, chatID, user)
		d.metrics.ObserveUpdate(kindCallback, "ok")
	case data == "trainer:finish":
		d.commandFinish(ctx, chatID, user)
		d.metrics.ObserveUpdate(kindCallback, "ok")
	case strings.HasPrefix(data, "tool:"):
		d.commandTool(ctx, chatID, user, strings.TrimPrefix(data, "tool:"))
		d.metrics.ObserveUpdate(kindCallback, "ok")
	case data == "tools:menu":
		d.commandTools(ctx, chatID)
		d.metrics.ObserveUpdate(kindCallback, "ok")
	default:
		d.logger.Debug("unknown callback payload", "data", data)
		d.metrics.ObserveUpdate(kindCallback, "error")
	}
}

// =============================================================================
// Commands
// =============================================================================

func (d *Dispatcher) handleCommand(ctx context.Context, chatID int64, user, input string) {
	fields := strings.Fields(input)
	command := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Strip the @botname suffix used in group chats.
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	arg := ""
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}

	d.tracker.Record(user, stats.ToolCommands)

	switch command {
	case "start":
		d.commandStart(ctx, chatID, user)
	case "help":
		d.reply(ctx, chatID, helpText)
	case "train":
		d.commandTrain(ctx, chatID, user)
	case "mode":
		d.commandMode(ctx, chatID, user, arg)
	case "change":
		d.commandChange(ctx, chatID, user)
	case "task":
		d.commandTask(ctx, chatID, user)
	case "hint":
		d.commandHint(ctx, chatID, user, arg)
	case "finish":
		d.commandFinish(ctx, chatID, user)
	case "cancel":
		d.commandCancel(ctx, chatID, user)
	case "status":
		d.commandStatus(ctx, chatID, user)
	case "tools":
		d.commandTools(ctx, chatID)
	case "tool":
		d.commandTool(ctx, chatID, user, arg)
	case "progress":
		d.reply(ctx, chatID, d.tracker.RenderProgress(user))
	case "reset":
		d.conversations.Clear(user)
		d.activeTools.Delete(user)
		d.reply(ctx, chatID, "🧹 Conversation history cleared.")
	default:
		d.reply(ctx, chatID, "Unknown command. Try /help.")
	}
	d.metrics.ObserveUpdate(kindCommand, "ok")
}

const helpText = `🤖 *What I can do:*

/tools - pick an AI assistant (analyzer, editor, negotiator...)
/tool <name> - switch to a specific assistant
/train - start a guided skill-training session
/mode <sim|drill|build|case|quiz> - pick a training mode
/change - go back and pick a different training mode
/task - get the next exercise
/hint - get a hint
/finish - wrap up and get your personal program
/cancel - drop the current session
/status - where you are in the session
/progress - your usage stats
/reset - clear our chat history

Outside a session, just write to me and I'll answer as your coach.`

func (d *Dispatcher) commandStart(ctx context.Context, chatID int64, user string) {
	d.tracker.Get(user)
	welcome := "👋 Hi! I'm your personal skill coach.\n\n" +
		"Start a guided training session, or just ask me anything."
	rows := [][]telegram.InlineKeyboardButton{
		{{Text: "🎓 Start training", CallbackData: "trainer:start"}},
		{{Text: "🧰 AI assistants", CallbackData: "tools:menu"}},
	}
	if _, err := d.sender.SendMessage(ctx, chatID, welcome,
		telegram.WithMarkdown(), telegram.WithInlineKeyboard(rows)); err != nil {
		d.logger.Error("failed to send welcome", "error", err)
	}
}

// commandTools shows the AI tool library with a selection keyboard.
func (d *Dispatcher) commandTools(ctx context.Context, chatID int64) {
	rows := make([][]telegram.InlineKeyboardButton, 0, len(aiTools))
	for _, tool := range aiTools {
		rows = append(rows, []telegram.InlineKeyboardButton{{
			Text:         tool.Title,
			CallbackData: "tool:" + tool.Key,
		}})
	}
	if _, err := d.sender.SendMessage(ctx, chatID, renderToolMenu(),
		telegram.WithMarkdown(), telegram.WithInlineKeyboard(rows)); err != nil {
		d.logger.Error("failed to send tool menu", "error", err)
	}
}

// commandTool activates an AI tool for the user's free-form chat.
func (d *Dispatcher) commandTool(ctx context.Context, chatID int64, user, arg string) {
	if arg == "" {
		d.commandTools(ctx, chatID)
		return
	}
	tool, ok := toolByKey(arg)
	if !ok {
		d.reply(ctx, chatID, "I don't know that assistant. /tools shows the library.")
		return
	}
	d.activeTools.Set(user, tool.Key)
	d.reply(ctx, chatID, fmt.Sprintf("✅ %s activated! Write your first request.\n"+
		"Switch any time with /tools.", tool.Title))
}

// activeTool resolves the user's selected tool, falling back to the
// default coach persona.
func (d *Dispatcher) activeTool(user string) Tool {
	if key, ok := d.activeTools.Get(user); ok {
		if tool, found := toolByKey(key); found {
			return tool
		}
	}
	return defaultTool
}

// commandTrain starts a session. A restart wins over an in-progress
// session: the old one is torn down and the interview begins fresh.
func (d *Dispatcher) commandTrain(ctx context.Context, chatID int64, user string) {
	out, err := d.trainer.StartSession(ctx, user)
	if err != nil {
		d.replyInternalError(ctx, chatID, err)
		return
	}
	d.tracker.Record(user, stats.ToolTrainer)
	d.replyOutcome(ctx, chatID, out)
}

func (d *Dispatcher) commandMode(ctx context.Context, chatID int64, user, arg string) {
	if arg == "" {
		d.reply(ctx, chatID, "Usage: /mode <sim|drill|build|case|quiz>")
		return
	}
	out, err := d.trainer.SelectMode(ctx, user, strings.ToLower(arg))
	if err != nil {
		d.replyTrainerError(ctx, chatID, err)
		return
	}
	d.replyOutcome(ctx, chatID, out)
}

// commandChange rewinds a training session back to the mode menu.
func (d *Dispatcher) commandChange(ctx context.Context, chatID int64, user string) {
	out, err := d.trainer.ChangeMode(ctx, user)
	if err != nil {
		d.replyTrainerError(ctx, chatID, err)
		return
	}
	d.replyOutcome(ctx, chatID, out)
}

func (d *Dispatcher) commandTask(ctx context.Context, chatID int64, user string) {
	start := time.Now()
	out, err := d.trainer.RequestTask(ctx, user)
	if err != nil {
		d.replyTrainerError(ctx, chatID, err)
		return
	}
	d.metrics.ObserveLLMCall("task", time.Since(start).Seconds())
	d.replyOutcome(ctx, chatID, out)
}

func (d *Dispatcher) commandHint(ctx context.Context, chatID int64, user, arg string) {
	out, err := d.trainer.RequestHint(ctx, user, arg)
	if err != nil {
		d.replyTrainerError(ctx, chatID, err)
		return
	}
	d.replyOutcome(ctx, chatID, out)
}

func (d *Dispatcher) commandFinish(ctx context.Context, chatID int64, user string) {
	start := time.Now()
	out, err := d.trainer.Finish(ctx, user)
	if err != nil {
		d.replyTrainerError(ctx, chatID, err)
		return
	}
	d.metrics.ObserveLLMCall("plan", time.Since(start).Seconds())
	d.replyOutcome(ctx, chatID, out)
}

func (d *Dispatcher) commandCancel(ctx context.Context, chatID int64, user string) {
	if d.trainer.Cancel(ctx, user) {
		d.reply(ctx, chatID, "Session dropped. /train starts a fresh one whenever you're ready.")
		return
	}
	d.reply(ctx, chatID, "No session to cancel.")
}

func (d *Dispatcher) commandStatus(ctx context.Context, chatID int64, user string) {
	out, err := d.trainer.Status(user)
	if err != nil {
		d.replyTrainerError(ctx, chatID, err)
		return
	}
	d.reply(ctx, chatID, out.HUD)
}

// =============================================================================
// Session text and free-form chat
// =============================================================================

// handleSessionText feeds free text into the user's live session. The
// snapshot came from the trainer under the registry lock; the session
// itself is never touched here.
func (d *Dispatcher) handleSessionText(ctx context.Context, chatID int64, user string, snap session.Snapshot, input string) {
	switch snap.State {
	case session.StateInterview:
		out, err := d.trainer.SubmitAnswer(ctx, user, input)
		if err != nil {
			d.replyTrainerError(ctx, chatID, err)
			return
		}
		d.replyOutcome(ctx, chatID, out)

	case session.StateModeSelection:
		// Accept a bare mode name typed instead of /mode.
		if _, err := session.ParseMode(strings.ToLower(input)); err == nil {
			d.commandMode(ctx, chatID, user, strings.ToLower(input))
			return
		}
		d.reply(ctx, chatID, "Pick a mode to continue: /mode <sim|drill|build|case|quiz>")

	case session.StateTraining:
		d.handleTrainingFeedback(ctx, chatID, snap.CurrentTask, input)

	default:
		d.reply(ctx, chatID, "One moment, your session is mid-transition. Try again.")
	}
	d.metrics.ObserveUpdate(kindMessage, "ok")
}

// handleTrainingFeedback reviews the learner's attempt at the current
// task. No caching: feedback depends on the live task.
func (d *Dispatcher) handleTrainingFeedback(ctx context.Context, chatID int64, task, input string) {
	prompt := fmt.Sprintf("Exercise:\n%s\n\nLearner's attempt:\n%s", task, text.MaskPII(input))

	callCtx, cancel := context.WithTimeout(ctx, d.chatTimeout)
	defer cancel()

	start := time.Now()
	maxTokens := 512
	answer, err := d.client.Chat(callCtx, feedbackSystemPrompt,
		[]llm.Message{{Role: llm.RoleUser, Content: prompt}},
		llm.GenerationParams{MaxTokens: &maxTokens})
	d.metrics.ObserveLLMCall("task", time.Since(start).Seconds())
	if err != nil {
		d.replyInternalError(ctx, chatID, err)
		return
	}
	d.reply(ctx, chatID, strings.TrimSpace(answer))
}

// handleChat answers free-form text outside any session, in the voice
// of the user's active AI tool.
func (d *Dispatcher) handleChat(ctx context.Context, chatID int64, user, input string) {
	d.tracker.Record(user, stats.ToolAI)
	tool := d.activeTool(user)

	// Contact details are masked before the text can reach the history
	// buffer, the response cache, or the model backend.
	input = text.MaskPII(input)

	if cached, ok := d.responses.GetCached(tool.Key, input); ok {
		d.metrics.ObserveCacheLookup(true)
		d.metrics.ObserveUpdate(kindMessage, "ok")
		d.conversations.Append(user, conversation.RoleUser, input)
		d.conversations.Append(user, conversation.RoleAssistant, cached)
		d.reply(ctx, chatID, cached)
		return
	}
	d.metrics.ObserveCacheLookup(false)

	var messages []llm.Message
	for _, turn := range d.conversations.Context(user) {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: input})

	callCtx, cancel := context.WithTimeout(ctx, d.chatTimeout)
	defer cancel()

	start := time.Now()
	maxTokens := 1024
	answer, err := d.client.Chat(callCtx, tool.Prompt, messages,
		llm.GenerationParams{MaxTokens: &maxTokens})
	d.metrics.ObserveLLMCall("chat", time.Since(start).Seconds())
	if err != nil {
		d.metrics.ObserveUpdate(kindMessage, "error")
		d.replyInternalError(ctx, chatID, err)
		return
	}
	answer = strings.TrimSpace(answer)

	d.conversations.Append(user, conversation.RoleUser, input)
	d.conversations.Append(user, conversation.RoleAssistant, answer)
	// Cache only context-free exchanges: a reply shaped by history is
	// wrong for the next user asking the same thing cold.
	if len(messages) == 1 {
		d.responses.Put(tool.Key, input, answer)
	}

	d.metrics.ObserveUpdate(kindMessage, "ok")
	d.reply(ctx, chatID, answer)
}

// =============================================================================
// Replies
// =============================================================================

// replyOutcome sends a trainer outcome: HUD line first, then the body,
// split to fit the transport limit.
func (d *Dispatcher) replyOutcome(ctx context.Context, chatID int64, out *session.Outcome) {
	body := out.Text
	if out.HUD != "" {
		body = out.HUD + "\n\n" + body
	}
	if out.State == session.StateModeSelection && strings.Contains(out.Text, "/mode") {
		rows := make([][]telegram.InlineKeyboardButton, 0, len(session.Modes()))
		for _, m := range session.Modes() {
			rows = append(rows, []telegram.InlineKeyboardButton{{
				Text:         strings.ToUpper(string(m)),
				CallbackData: "mode:" + string(m),
			}})
		}
		parts := text.SplitMessage(body, 0)
		for i, part := range parts {
			opts := []telegram.SendOption{telegram.WithMarkdown()}
			if i == len(parts)-1 {
				opts = append(opts, telegram.WithInlineKeyboard(rows))
			}
			if _, err := d.sender.SendMessage(ctx, chatID, part, opts...); err != nil {
				d.logger.Error("failed to send reply", "error", err)
				return
			}
		}
		return
	}
	d.reply(ctx, chatID, body)
}

// reply sends body split across as many messages as the limit requires.
func (d *Dispatcher) reply(ctx context.Context, chatID int64, body string) {
	for _, part := range text.SplitMessage(body, 0) {
		if _, err := d.sender.SendMessage(ctx, chatID, part, telegram.WithMarkdown()); err != nil {
			d.logger.Error("failed to send reply", "error", err)
			return
		}
	}
}

// replyTrainerError maps trainer sentinels to user-facing messages.
func (d *Dispatcher) replyTrainerError(ctx context.Context, chatID int64, err error) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		d.reply(ctx, chatID, "No session running. /train starts one.")
	case errors.Is(err, session.ErrProviderUnavailable):
		d.reply(ctx, chatID, "🤖 The model is unavailable right now. Your session is untouched, try again shortly.")
	default:
		d.reply(ctx, chatID, fmt.Sprintf("Can't do that right now: %v", err))
	}
}

func (d *Dispatcher) replyInternalError(ctx context.Context, chatID int64, err error) {
	d.logger.Error("update processing failed", "error", err)
	d.reply(ctx, chatID, "🤖 Something went wrong on my side. Try again shortly.")
}
