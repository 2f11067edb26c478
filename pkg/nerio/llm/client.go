// Package llm implements the model-completion client used for chat turns
// and history summarization. Uses the OpenAI-compatible API format, which
// works with OpenAI, Anthropic proxies, and any compatible endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Message roles in the chat completion format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single message in a model conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage reports the token cost of a completed exchange. Produced by
// the provider and consumed read-only by the history optimizer.
type TokenUsage struct {
	TotalTokens       int
	InputTokens       int
	CachedInputTokens int
	OutputTokens      int
}

// CompletionOptions tune a single completion call.
type CompletionOptions struct {
	// MaxOutputTokens caps the response length. Zero means provider default.
	MaxOutputTokens int

	// Temperature controls sampling randomness.
	Temperature float64
}

// Completion is the parsed result of a completion call.
type Completion struct {
	Content string
	Usage   TokenUsage
}

// Provider is the model-completion contract the conversation layer depends
// on. Implementations must be safe for concurrent use.
type Provider interface {
	Complete(ctx context.Context, messages []ChatMessage, opts CompletionOptions) (*Completion, error)
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientConfig holds provider connection settings.
type ClientConfig struct {
	// BaseURL is the API base (e.g. "https://api.openai.com/v1").
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates requests. Resolved via keyring/env before use.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`

	// TimeoutSeconds bounds a single HTTP call. Default: 120.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// NewClient creates a completions client from config.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "llm"),
	}
}

// ---------- Wire types (OpenAI-compatible) ----------

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		TotalTokens         int `json:"total_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends the conversation to the model and returns the assistant
// reply together with token usage.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage, opts CompletionOptions) (*Completion, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   opts.MaxOutputTokens,
		Temperature: opts.Temperature,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode completion response (status %d): %w", resp.StatusCode, err)
	}

	if parsed.Error != nil {
		return nil, fmt.Errorf("provider error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices")
	}

	usage := TokenUsage{
		TotalTokens:       parsed.Usage.TotalTokens,
		InputTokens:       parsed.Usage.PromptTokens,
		CachedInputTokens: parsed.Usage.PromptTokensDetails.CachedTokens,
		OutputTokens:      parsed.Usage.CompletionTokens,
	}

	c.logger.Debug("completion finished",
		"model", c.model,
		"duration", time.Since(start).String(),
		"total_tokens", usage.TotalTokens,
		"cached_input_tokens", usage.CachedInputTokens,
	)

	return &Completion{
		Content: parsed.Choices[0].Message.Content,
		Usage:   usage,
	}, nil
}
