package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// groqBaseURL is Groq's OpenAI-compatible endpoint.
const groqBaseURL = "https://api.groq.com/openai/v1"

// defaultGroqModel is used when GROQ_MODEL is unset.
const defaultGroqModel = "llama-3.1-8b-instant"

// GroqClient talks to Groq through its OpenAI-compatible API.
type GroqClient struct {
	client *openai.Client
	model  string
}

// NewGroqClient reads GROQ_API_KEY (or the mounted secret) and GROQ_MODEL
// from the environment.
func NewGroqClient() (*GroqClient, error) {
	apiKey := os.Getenv("GROQ_API_KEY")
	model := os.Getenv("GROQ_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/groq_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the Groq API Key from Podman Secrets")
		} else {
			slog.Error("GROQ_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = defaultGroqModel
		slog.Warn("GROQ_MODEL not set, defaulting to "+defaultGroqModel)
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = groqBaseURL

	slog.Info("Initializing Groq client", "model", model)
	return &GroqClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Generate implements the LLMClient interface
func (g *GroqClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return g.Chat(ctx, "", []Message{{Role: RoleUser, Content: prompt}}, params)
}

// Chat implements the LLMClient interface
func (g *GroqClient) Chat(ctx context.Context, system string, messages []Message, params GenerationParams) (string, error) {
	slog.Debug("Generating text via Groq", "model", g.model, "turns", len(messages))

	var chatMessages []openai.ChatCompletionMessage
	if system != "" {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range messages {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: chatMessages,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("Groq API call failed", "error", err)
		return "", fmt.Errorf("Groq API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("Groq returned no choices or empty content")
		return "", fmt.Errorf("Groq returned no choices")
	}
	slog.Debug("Received response from Groq", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
