// Package structuring wraps an OpenAI-compatible chat completion API used to
// turn transcripts into structured text.
package structuring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
)

// DefaultTemperature is the sampling temperature for summarization and diarization.
const DefaultTemperature float32 = 0.2

// ErrNoChoices is returned when the service answers without any completion.
var ErrNoChoices = errors.New("no response choices")

// Completer produces a completion for a system and user prompt pair.
type Completer interface {
	Complete(ctx context.Context, system, user string, temperature float32) (string, error)
}

// Config configures the chat completion client.
type Config struct {
	APIKey string
	// BaseURL points at any OpenAI-compatible endpoint, e.g. Groq.
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// DefaultConfig returns the default structuring settings.
func DefaultConfig() Config {
	return Config{
		Model:   openai.GPT4oMini,
		Timeout: 120 * time.Second,
	}
}

// OpenAI implements Completer with chat completions.
type OpenAI struct {
	client *openai.Client
	config Config
	logger logging.Logger
}

// NewOpenAI creates a completer. An API key is required.
func NewOpenAI(cfg Config, logger logging.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("structuring: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
		logger: logger.With(logging.F("component", "structuring")),
	}, nil
}

// Complete returns the content of the first completion choice.
func (c *OpenAI) Complete(ctx context.Context, system, user string, temperature float32) (string, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: temperature,
		MaxTokens:   c.config.MaxTokens,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.WithContext(ctx).Warn("Chat completion failed",
			logging.Err(err),
			logging.F("model", c.config.Model),
			logging.F("duration", elapsed))
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion: %w", ErrNoChoices)
	}

	c.logger.WithContext(ctx).Debug("Chat completion received",
		logging.F("model", c.config.Model),
		logging.F("prompt_tokens", resp.Usage.PromptTokens),
		logging.F("completion_tokens", resp.Usage.CompletionTokens),
		logging.F("duration", elapsed))

	return resp.Choices[0].Message.Content, nil
}
