package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nerio-dev/nerio/pkg/nerio/conversation"
)

// Builtin is the default command engine: a ping command for connectivity
// checks and a chat command that drives the conversation stack.
type Builtin struct {
	chat   *conversation.ChatService
	logger *slog.Logger
}

// NewBuiltin creates the builtin engine.
func NewBuiltin(chat *conversation.ChatService, logger *slog.Logger) *Builtin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builtin{
		chat:   chat,
		logger: logger.With("component", "engine"),
	}
}

// Execute runs a command line of the form "name [args...]". Unknown
// command names fall through to chat, treating the whole line as a prompt.
func (e *Builtin) Execute(ctx context.Context, scope *Scope, command string) (*Outcome, error) {
	name, rest, _ := strings.Cut(strings.TrimSpace(command), " ")

	switch strings.ToLower(name) {
	case "ping":
		return &Outcome{
			CommandName: "ping",
			Kind:        ResultText,
			IsSuccess:   true,
			Text:        "pong",
		}, nil

	case "chat":
		return e.runChat(ctx, scope, rest)

	default:
		// The whole line is the prompt.
		return e.runChat(ctx, scope, strings.TrimSpace(command))
	}
}

func (e *Builtin) runChat(ctx context.Context, scope *Scope, prompt string) (*Outcome, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("chat: empty prompt")
	}

	reply, err := e.chat.Chat(ctx, scope.InstanceID, scope.SessionID, prompt)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	return &Outcome{
		CommandName: "chat",
		Kind:        ResultText,
		IsSuccess:   true,
		Text:        reply,
	}, nil
}

// Commands lists the builtin command metadata.
func (e *Builtin) Commands() []CommandInfo {
	return []CommandInfo{
		{Name: "ping", Description: "Connectivity check", Syntax: "ping", Module: "core"},
		{Name: "chat", Description: "Send a message to the assistant", Syntax: "chat <message>", Module: "conversation"},
	}
}

var _ Engine = (*Builtin)(nil)
