package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerio-dev/nerio/pkg/nerio/llm"
)

// ErrEmptyResponse reports that the model returned no assistant content for
// a chat turn.
var ErrEmptyResponse = errors.New("no assistant response received")

// ChatService runs complete chat turns: it serializes per-instance
// mutations, loads session history, calls the model, persists the exchange
// and compacts history when the token budget is exceeded.
type ChatService struct {
	store      *Store
	semaphores *SemaphoreRegistry
	provider   llm.Provider
	optimizer  *Optimizer
	logger     *slog.Logger

	// personaMu guards persona, which config frames may replace at runtime.
	personaMu sync.RWMutex
	persona   string

	// summaries holds per-session recaps produced by the optimizer, folded
	// into the persona message on subsequent turns.
	summariesMu sync.RWMutex
	summaries   map[string]string
}

// NewChatService wires the conversation stack together. persona is the
// base system message defining assistant behavior.
func NewChatService(store *Store, semaphores *SemaphoreRegistry, provider llm.Provider, optimizer *Optimizer, persona string, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		store:      store,
		semaphores: semaphores,
		provider:   provider,
		optimizer:  optimizer,
		persona:    persona,
		logger:     logger.With("component", "chat"),
		summaries:  make(map[string]string),
	}
}

// Chat processes one user message for the given instance and session and
// returns the assistant's reply. All conversation mutation for the instance
// happens under its semaphore.
func (s *ChatService) Chat(ctx context.Context, instanceID, sessionID, message string) (string, error) {
	sem := s.semaphores.GetOrCreate(instanceID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire instance semaphore: %w", err)
	}
	defer sem.Release(1)

	session, err := s.store.GetOrCreate(ctx, sessionID, instanceID, true)
	if err != nil {
		return "", err
	}

	personaMessage := llm.ChatMessage{Role: llm.RoleSystem, Content: s.personaFor(sessionID)}

	history := make([]llm.ChatMessage, 0, len(session.Messages)+2)
	history = append(history, personaMessage)
	for _, m := range session.Messages {
		history = append(history, m.ChatMessage())
	}
	history = append(history, llm.ChatMessage{Role: llm.RoleUser, Content: message})

	completion, err := s.provider.Complete(ctx, history, llm.CompletionOptions{})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if strings.TrimSpace(completion.Content) == "" {
		return "", ErrEmptyResponse
	}

	usage := completion.Usage
	s.logger.Info("chat turn complete",
		"instance_id", instanceID,
		"session_id", sessionID,
		"total_tokens", usage.TotalTokens,
		"input_tokens", usage.InputTokens,
		"cached_input_tokens", usage.CachedInputTokens,
		"output_tokens", usage.OutputTokens,
	)

	now := time.Now().UTC()
	exchange := []*Message{
		{
			ID:         uuid.NewString(),
			SessionID:  sessionID,
			InstanceID: instanceID,
			Content:    message,
			IsUser:     true,
			Type:       MessageText,
			CreatedAt:  now,
		},
		{
			ID:         uuid.NewString(),
			SessionID:  sessionID,
			InstanceID: instanceID,
			Content:    completion.Content,
			IsUser:     false,
			Type:       MessageText,
			CreatedAt:  now.Add(time.Millisecond),
		},
	}

	if err := s.store.AddExchange(ctx, sessionID, instanceID, exchange); err != nil {
		return "", err
	}

	if s.optimizer.ShouldOptimize(usage) {
		s.compact(ctx, sessionID, usage.TotalTokens, history, completion.Content, personaMessage)
	}

	return completion.Content, nil
}

// compact runs one optimization pass after a completed exchange. A failed
// pass is logged and skipped; the conversation carries on uncompacted.
func (s *ChatService) compact(ctx context.Context, sessionID string, totalTokens int, history []llm.ChatMessage, reply string, persona llm.ChatMessage) {
	all := append(append([]llm.ChatMessage{}, history...), llm.ChatMessage{Role: llm.RoleAssistant, Content: reply})

	result, err := s.optimizer.Optimize(ctx, totalTokens, all, &persona)
	if err != nil {
		s.logger.Error("history optimization failed", "session_id", sessionID, "error", err)
		return
	}

	// RemovedCount includes the persona message, which never lives in the
	// cache; the cached history keeps the remaining RemovedCount-1 newest
	// messages.
	s.store.TrimMessages(sessionID, result.RemovedCount-1)
	s.addSummary(sessionID, result.Summary)
}

// SetPersona replaces the base system message for subsequent turns.
// Per-session recaps from earlier compactions are kept.
func (s *ChatService) SetPersona(persona string) {
	s.personaMu.Lock()
	s.persona = persona
	s.personaMu.Unlock()
}

// personaFor returns the persona message content for a session, with any
// folded-in recap from earlier compactions.
func (s *ChatService) personaFor(sessionID string) string {
	s.personaMu.RLock()
	persona := s.persona
	s.personaMu.RUnlock()

	s.summariesMu.RLock()
	summary := s.summaries[sessionID]
	s.summariesMu.RUnlock()

	if summary == "" {
		return persona
	}
	return persona + "\n\nRecap of the conversation so far:\n" + summary
}

func (s *ChatService) addSummary(sessionID, summary string) {
	s.summariesMu.Lock()
	s.summaries[sessionID] = summary
	s.summariesMu.Unlock()
}
