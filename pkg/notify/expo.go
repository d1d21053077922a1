// Package notify delivers push notifications to the user's device.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultExpoURL is the Expo push API endpoint.
const DefaultExpoURL = "https://exp.host/--/api/v2/push/send"

// DefaultTimeout bounds a single push request.
const DefaultTimeout = 10 * time.Second

// Message is a single push notification.
type Message struct {
	To      string         `json:"to"`
	Title   string         `json:"title,omitempty"`
	Body    string         `json:"body,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Channel string         `json:"channelId,omitempty"`
	Sound   string         `json:"sound,omitempty"`
}

// Gateway sends push notifications.
type Gateway interface {
	Push(ctx context.Context, msg Message) error
}

// ExpoConfig configures the Expo gateway.
type ExpoConfig struct {
	URL         string
	AccessToken string
	Timeout     time.Duration
}

// ExpoGateway sends notifications through the Expo push service.
type ExpoGateway struct {
	url         string
	accessToken string
	client      *http.Client
}

// NewExpoGateway creates an Expo gateway, applying defaults for unset fields.
func NewExpoGateway(cfg ExpoConfig) *ExpoGateway {
	if cfg.URL == "" {
		cfg.URL = DefaultExpoURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &ExpoGateway{
		url:         cfg.URL,
		accessToken: cfg.AccessToken,
		client:      &http.Client{Timeout: cfg.Timeout},
	}
}

type expoResponse struct {
	Data struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Push sends msg and reports transport, HTTP and ticket errors.
func (g *ExpoGateway) Push(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+g.accessToken)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push gateway returned status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var decoded expoResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode push response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return fmt.Errorf("push rejected: %s: %s", decoded.Errors[0].Code, decoded.Errors[0].Message)
	}
	if decoded.Data.Status == "error" {
		return fmt.Errorf("push ticket error: %s", decoded.Data.Message)
	}
	return nil
}

// NopGateway discards notifications. Used when push delivery is disabled.
type NopGateway struct{}

// Push does nothing.
func (NopGateway) Push(context.Context, Message) error { return nil }
