package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nerio-dev/nerio/pkg/nerio/engine"
)

// ErrDeliveryFailed reports that every delivery attempt was exhausted. The
// command is then recorded as failed; delivery failures are never
// swallowed.
var ErrDeliveryFailed = errors.New("result delivery failed")

// Ack is the orchestrator's acknowledgement of a delivered envelope.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Acknowledger performs one delivery attempt. Implementations carry the
// actual transport (HTTP to the orchestrator's ingest endpoint).
type Acknowledger interface {
	Deliver(ctx context.Context, envelope *Envelope) (*Ack, error)
}

// Options bound the retry behavior.
type Options struct {
	// MaxRetries is the number of retries after the first attempt.
	// Default: 3.
	MaxRetries int `yaml:"max_retries"`

	// TimeoutMs bounds each individual attempt. Default: 30000.
	TimeoutMs int `yaml:"timeout_ms"`
}

// DefaultOptions returns the delivery retry defaults.
func DefaultOptions() Options {
	return Options{MaxRetries: 3, TimeoutMs: 30000}
}

// Client delivers command results and errors upstream with retry.
type Client struct {
	ack    Acknowledger
	opts   Options
	logger *slog.Logger

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a delivery client.
func NewClient(ack Acknowledger, opts Options, logger *slog.Logger) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultOptions().MaxRetries
	}
	if opts.TimeoutMs <= 0 {
		opts.TimeoutMs = DefaultOptions().TimeoutMs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		ack:    ack,
		opts:   opts,
		logger: logger.With("component", "delivery"),
		sleep:  sleepCtx,
	}
}

// SendResult builds the envelope for a command outcome and delivers it. If
// envelope construction fails unexpectedly, a best-effort plain-text
// failure envelope is delivered instead of dropping the response.
func (c *Client) SendResult(ctx context.Context, syncID string, outcome *engine.Outcome) error {
	envelope, err := buildEnvelope(syncID, outcome)
	if err != nil {
		c.logger.Error("envelope construction failed", "sync_id", syncID, "error", err)
		name := ""
		if outcome != nil {
			name = outcome.CommandName
		}
		envelope = failureEnvelope(syncID, name)
	}

	if err := c.deliver(ctx, envelope); err != nil {
		return err
	}

	c.logger.Info("command result delivered", "sync_id", syncID, "command", envelope.CommandName)
	return nil
}

// SendError delivers an error envelope for the given correlation id.
func (c *Client) SendError(ctx context.Context, syncID, message string) error {
	envelope := &Envelope{
		CommandSyncID: syncID,
		CommandName:   "Error",
		DataType:      DataText,
		IsSuccess:     false,
		TextResult: &TextResult{
			Response: message,
			TextType: ClassifyText(message),
		},
	}

	if err := c.deliver(ctx, envelope); err != nil {
		return err
	}

	c.logger.Info("command error delivered", "sync_id", syncID)
	return nil
}

// deliver attempts the envelope up to MaxRetries+1 times. Each attempt runs
// under its own timeout; a non-success acknowledgement counts as a failed
// attempt. Inter-attempt delay is 1000ms doubled per retry.
func (c *Client) deliver(ctx context.Context, envelope *Envelope) error {
	var lastErr error

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		lastErr = c.attempt(ctx, envelope)
		if lastErr == nil {
			return nil
		}
		if attempt == c.opts.MaxRetries {
			break
		}

		delay := retryDelay(attempt + 1)
		c.logger.Warn("delivery attempt failed, retrying",
			"sync_id", envelope.CommandSyncID,
			"attempt", attempt+1,
			"max_retries", c.opts.MaxRetries,
			"delay", delay.String(),
			"error", lastErr,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
	}

	return fmt.Errorf("%w after %d retries: %v", ErrDeliveryFailed, c.opts.MaxRetries, lastErr)
}

func (c *Client) attempt(ctx context.Context, envelope *Envelope) error {
	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(c.opts.TimeoutMs)*time.Millisecond)
	defer cancel()

	ack, err := c.ack.Deliver(attemptCtx, envelope)
	if err != nil {
		return err
	}
	if !ack.Success {
		return fmt.Errorf("orchestrator rejected result: %s", ack.Message)
	}
	return nil
}

// retryDelay is the delay before retry n (1-based): 1000ms × 2^(n-1).
func retryDelay(n int) time.Duration {
	return time.Duration(1000*(1<<(n-1))) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
