// ABOUTME: Completer backed by an OpenAI-compatible chat completions endpoint
// ABOUTME: Maps persona, room context and the user's text onto system and user messages

// Package llm adapts chat completion providers to the agent Completer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = openai.ChatModelGPT4oMini

// ErrNoChoices is returned when the provider answers without any choice.
var ErrNoChoices = errors.New("llm: no choices returned")

// Config selects the provider endpoint and model.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int64
	MaxRetries int
}

// OpenAI implements agent.Completer with the official OpenAI SDK.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int64
}

// NewOpenAI creates a Completer for cfg.
func NewOpenAI(cfg Config) *OpenAI {
	opts := []option.RequestOption{option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{client: &client, model: model, maxTokens: cfg.MaxTokens}
}

// Complete sends one chat completion. The persona becomes the system message;
// room context is prepended to the user's text.
func (o *OpenAI) Complete(ctx context.Context, persona string, history []string, userText string, temperature, topP *float64) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: buildMessages(persona, history, userText),
	}
	if temperature != nil {
		params.Temperature = openai.Float(*temperature)
	}
	if topP != nil {
		params.TopP = openai.Float(*topP)
	}
	if o.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(o.maxTokens)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

func buildMessages(persona string, history []string, userText string) []openai.ChatCompletionMessageParamUnion {
	var msgs []openai.ChatCompletionMessageParamUnion
	if strings.TrimSpace(persona) != "" {
		msgs = append(msgs, openai.SystemMessage(persona))
	}
	if len(history) > 0 {
		msgs = append(msgs, openai.SystemMessage("Recent conversation:\n"+strings.Join(history, "\n")))
	}
	return append(msgs, openai.UserMessage(userText))
}
