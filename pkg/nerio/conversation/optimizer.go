package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nerio-dev/nerio/pkg/nerio/llm"
)

// DefaultMaxTokens is the conversation token ceiling before compaction.
const DefaultMaxTokens = 10000

// ErrEmptySummary reports that the model produced a blank summary during
// history compaction. The optimization pass is aborted; conversation state
// is left untouched.
var ErrEmptySummary = errors.New("history summary is empty")

// summaryInstruction asks the model for a first-person recap of the turns
// being folded away.
const summaryInstruction = "You are nearing your memory limit. Summarize the following messages from your own perspective, focusing on key points, user requests, and relevant context, so you can carry on the conversation seamlessly. Keep the recap concise and in your own notes-style format."

// OptimizeResult reports how many leading messages the caller should drop
// and the summary that replaces them.
type OptimizeResult struct {
	// RemovedCount includes the persona message; callers drop
	// RemovedCount-1 entries when trimming the cached session.
	RemovedCount int

	Summary string
}

// Optimizer keeps a conversation's token cost under a ceiling by
// summarizing the oldest turns through the model itself.
type Optimizer struct {
	// mu guards maxTokens, which config frames may replace at runtime.
	mu        sync.RWMutex
	maxTokens int

	tokenizer llm.Tokenizer
	provider  llm.Provider
	logger    *slog.Logger
}

// NewOptimizer creates an optimizer with the given token ceiling. A
// non-positive maxTokens falls back to DefaultMaxTokens.
func NewOptimizer(maxTokens int, tokenizer llm.Tokenizer, provider llm.Provider, logger *slog.Logger) *Optimizer {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{
		maxTokens: maxTokens,
		tokenizer: tokenizer,
		provider:  provider,
		logger:    logger.With("component", "optimizer"),
	}
}

// SetMaxTokens replaces the token ceiling for subsequent turns. Non-positive
// values are ignored.
func (o *Optimizer) SetMaxTokens(maxTokens int) {
	if maxTokens <= 0 {
		return
	}
	o.mu.Lock()
	o.maxTokens = maxTokens
	o.mu.Unlock()
}

func (o *Optimizer) budget() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.maxTokens
}

// ShouldOptimize reports whether the conversation has outgrown its budget.
// Cached input tokens are half-weighted since they cost far less to replay.
func (o *Optimizer) ShouldOptimize(usage llm.TokenUsage) bool {
	return usage.TotalTokens-usage.CachedInputTokens/2 > o.budget()
}

// Optimize selects the oldest messages to fold away and summarizes them in
// a single model exchange. The removal count is always zero or odd: the
// persona message at index 0 plus whole user/assistant pairs, so no
// unpaired message is ever stranded. The caller's message slice is not
// modified. Errors from the tokenizer or the model propagate unchanged.
func (o *Optimizer) Optimize(ctx context.Context, currentTokenCount int, messages []llm.ChatMessage, persona *llm.ChatMessage) (*OptimizeResult, error) {
	target := o.budget() / 2
	removeCount := 0

	o.logger.Info("starting history optimization",
		"current_tokens", currentTokenCount,
		"target_tokens", target,
		"messages", len(messages),
	)
	if len(messages) > 0 && len(messages)%2 == 0 {
		o.logger.Warn("even message count, persona message may be missing")
	}

	for _, message := range messages {
		// Stop on an odd count so the persona message plus whole
		// user/assistant pairs are removed together.
		if currentTokenCount < target && removeCount%2 == 1 {
			break
		}
		currentTokenCount -= o.tokenizer.CountTokens(message.Content)
		removeCount++
	}
	if removeCount > 0 && removeCount%2 == 0 {
		removeCount--
	}

	end := 1 + removeCount
	if end > len(messages) {
		end = len(messages)
	}
	var toRemove []llm.ChatMessage
	if end > 1 {
		toRemove = messages[1:end]
	}

	summary, err := o.summarize(ctx, toRemove, persona)
	if err != nil {
		return nil, err
	}

	o.logger.Info("history optimization complete",
		"removed", removeCount,
		"remaining_tokens", currentTokenCount,
	)

	return &OptimizeResult{
		RemovedCount: removeCount,
		Summary:      summary,
	}, nil
}

// summarize issues one model exchange over the messages being removed. A
// blank response is fatal: compaction must never silently no-op.
func (o *Optimizer) summarize(ctx context.Context, messages []llm.ChatMessage, persona *llm.ChatMessage) (string, error) {
	var sb strings.Builder
	sb.WriteString(summaryInstruction)
	for _, message := range messages {
		sb.WriteString("\n")
		sb.WriteString(message.Content)
	}

	var prompt []llm.ChatMessage
	if persona != nil {
		prompt = append(prompt, *persona)
	}
	prompt = append(prompt, llm.ChatMessage{Role: llm.RoleUser, Content: sb.String()})

	completion, err := o.provider.Complete(ctx, prompt, llm.CompletionOptions{
		MaxOutputTokens: o.budget() / 4,
	})
	if err != nil {
		return "", fmt.Errorf("summarize history: %w", err)
	}

	if strings.TrimSpace(completion.Content) == "" {
		o.logger.Warn("summary response is empty")
		return "", ErrEmptySummary
	}

	return completion.Content, nil
}
