// Package engine defines the command-engine contract the agent executes
// inbound commands against, plus a small builtin engine. Real command
// engines are injected; the agent never loads them dynamically.
package engine

import (
	"context"
)

// ResultKind tags the outcome payload variant.
type ResultKind string

const (
	ResultText  ResultKind = "Text"
	ResultGraph ResultKind = "Graph"
)

// GraphPayload is a structured chart result.
type GraphPayload struct {
	Message string
	Note    string
	XAxis   string
	YAxis   string
	Data    string
	Units   []string
}

// Outcome is the structured result of executing one command.
type Outcome struct {
	CommandName string
	Kind        ResultKind
	IsSuccess   bool

	// Text carries the payload when Kind is ResultText.
	Text string

	// Graph carries the payload when Kind is ResultGraph.
	Graph *GraphPayload
}

// Scope binds a command execution to its conversation context.
type Scope struct {
	InstanceID string
	SessionID  string
	Parameters map[string]string
}

// Engine executes a command string within a scope and returns a structured
// outcome. Implementations must be safe for concurrent use; each inbound
// command runs on its own goroutine.
type Engine interface {
	Execute(ctx context.Context, scope *Scope, command string) (*Outcome, error)

	// Commands lists the metadata of every command the engine understands.
	Commands() []CommandInfo
}

// CommandInfo describes one engine command for the metadata frame.
type CommandInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Syntax      string `json:"syntax"`
	Module      string `json:"module"`
}
