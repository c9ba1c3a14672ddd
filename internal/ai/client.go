// Package ai integrates the external completion service: a thin HTTP client
// with typed failures, and the dispatcher that turns @-addressed outgoing
// messages into bot responses.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Typed completion failures. Callers distinguish a slow service from a
// broken one from an unreachable one.
var (
	ErrTimeout = errors.New("ai: completion timed out")
	ErrService = errors.New("ai: completion service error")
)

// Turn is one prior exchange passed as completion context. The dispatcher
// sends an empty history; the type exists for callers that thread context.
type Turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// Config holds completion service settings.
type Config struct {
	BaseURL string        // e.g. http://localhost:9090
	APIKey  string        // bearer token, optional
	Timeout time.Duration // per-request deadline
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:9090",
		Timeout: 30 * time.Second,
	}
}

// Client calls the completion service over HTTP.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient creates a completion client.
func NewClient(config Config) *Client {
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

type completionRequest struct {
	Model   string `json:"model"`
	Query   string `json:"query"`
	History []Turn `json:"history,omitempty"`
}

type completionResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Complete sends the query to the service and returns the generated text.
// Deadline expiry maps to ErrTimeout, a non-2xx response to ErrService, and
// transport problems are wrapped as-is.
func (c *Client) Complete(ctx context.Context, model, query string, history []Turn) (string, error) {
	body, err := json.Marshal(completionRequest{Model: model, Query: query, History: history})
	if err != nil {
		return "", fmt.Errorf("ai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("ai: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ai: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrService, resp.StatusCode)
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("ai: decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrService, out.Error)
	}
	return out.Text, nil
}
