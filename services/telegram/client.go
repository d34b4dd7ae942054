// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultAPIBaseURL = "https://api.telegram.org"

// outboundRate respects the Bot API's ~30 messages/second global cap.
const outboundRate = 30

// ParseModeMarkdown is the parse_mode sent with formatted replies.
const ParseModeMarkdown = "Markdown"

// Client is a rate-limited Bot API client.
//
// Thread Safety: This type is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	token      string
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different API host. Tests use this
// to target a local fake.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the transport.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a client for token.
func NewClient(token string, opts ...ClientOption) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token must not be empty")
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(outboundRate), outboundRate),
		baseURL:    defaultAPIBaseURL,
		token:      token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewClientFromEnv reads TELEGRAM_BOT_TOKEN (or the mounted secret).
func NewClientFromEnv(opts ...ClientOption) (*Client, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		secretPath := "/run/secrets/telegram_bot_token"
		if content, err := os.ReadFile(secretPath); err == nil {
			token = strings.TrimSpace(string(content))
			slog.Info("Read the Telegram bot token from Podman Secrets")
		}
	}
	if token == "" {
		slog.Error("TELEGRAM_BOT_TOKEN environment variable not set and secret not found")
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is missing")
	}
	return NewClient(token, opts...)
}

// SendOption customizes an outgoing message.
type SendOption func(*sendMessageRequest)

// WithMarkdown sets Markdown parse mode on the message.
func WithMarkdown() SendOption {
	return func(r *sendMessageRequest) { r.ParseMode = ParseModeMarkdown }
}

// WithInlineKeyboard attaches an inline keyboard.
func WithInlineKeyboard(rows [][]InlineKeyboardButton) SendOption {
	return func(r *sendMessageRequest) {
		r.ReplyMarkup = &InlineKeyboardMarkup{InlineKeyboard: rows}
	}
}

// SendMessage delivers one message to chatID.
//
// Description:
//
//	Blocks on the outbound rate limiter before calling the API, so
//	bursts across all chats stay inside the Bot API's global cap. Text
//	longer than the transport limit is the caller's problem; split
//	before sending.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts ...SendOption) (*Message, error) {
	req := sendMessageRequest{ChatID: chatID, Text: text}
	for _, opt := range opts {
		opt(&req)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("outbound limiter wait aborted: %w", err)
	}

	var sent Message
	if err := c.call(ctx, "sendMessage", req, &sent); err != nil {
		return nil, err
	}
	return &sent, nil
}

// AnswerCallbackQuery acknowledges an inline-keyboard press.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, notice string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("outbound limiter wait aborted: %w", err)
	}
	return c.call(ctx, "answerCallbackQuery",
		answerCallbackRequest{CallbackQueryID: callbackID, Text: notice}, nil)
}

// SetWebhook registers url as the update sink, with an optional shared
// secret the API echoes back on every delivery.
func (c *Client) SetWebhook(ctx context.Context, url, secretToken string) error {
	return c.call(ctx, "setWebhook", setWebhookRequest{URL: url, SecretToken: secretToken}, nil)
}

// DeleteWebhook unregisters the update sink.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", struct{}{}, nil)
}

// GetMe fetches the bot's own account, used as a startup liveness probe.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.call(ctx, "getMe", struct{}{}, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// call posts payload to a Bot API method and decodes the envelope.
func (c *Client) call(ctx context.Context, method string, payload any, out any) error {
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("content-type", "application/json")

	slog.Debug("Sending REST request to Telegram", "method", method)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if !envelope.OK {
		slog.Error("Telegram API call failed", "method", method,
			"code", envelope.ErrorCode, "description", envelope.Description)
		return fmt.Errorf("telegram %s failed: %d %s", method, envelope.ErrorCode, envelope.Description)
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}
