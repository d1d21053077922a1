// Package transcription converts audio bytes to text with an OpenAI-compatible
// speech-to-text API.
package transcription

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
)

// DefaultFilename is the filename hint sent with audio of unknown format.
const DefaultFilename = "audio.m4a"

// Result is a transcription of one recording.
type Result struct {
	Text string
	// Duration of the audio as reported by the service; zero when unknown.
	Duration time.Duration
}

// Transcriber turns audio into text. The filename is a format hint only.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (*Result, error)
}

// Config configures the OpenAI transcriber.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultConfig returns the default transcription settings.
func DefaultConfig() Config {
	return Config{
		Model:   openai.Whisper1,
		Timeout: 120 * time.Second,
	}
}

// OpenAI implements Transcriber against the audio transcriptions endpoint.
type OpenAI struct {
	client *openai.Client
	config Config
	logger logging.Logger
}

// NewOpenAI creates a transcriber. An API key is required.
func NewOpenAI(cfg Config, logger logging.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("transcription: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
		logger: logger.With(logging.F("component", "transcription")),
	}, nil
}

// Transcribe sends the audio to the service and returns its text.
func (t *OpenAI) Transcribe(ctx context.Context, audio []byte, filename string) (*Result, error) {
	if filename == "" {
		filename = DefaultFilename
	}
	if t.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		defer cancel()
	}

	req := openai.AudioRequest{
		Model:    t.config.Model,
		Reader:   bytes.NewReader(audio),
		FilePath: filename,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}

	start := time.Now()
	resp, err := t.client.CreateTranscription(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		t.logger.WithContext(ctx).Warn("Transcription request failed",
			logging.Err(err),
			logging.F("bytes", len(audio)),
			logging.F("duration", elapsed))
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	result := &Result{
		Text:     resp.Text,
		Duration: time.Duration(resp.Duration * float64(time.Second)),
	}

	t.logger.WithContext(ctx).Debug("Audio transcribed",
		logging.F("bytes", len(audio)),
		logging.F("chars", len(result.Text)),
		logging.F("audio_duration", result.Duration),
		logging.F("duration", elapsed))

	return result, nil
}
