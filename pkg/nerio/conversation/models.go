// Package conversation manages multi-turn conversational state: sessions
// and messages backed by a durable store with a cache layer, per-instance
// serialization of mutations, and token-budget-driven history compaction.
package conversation

import (
	"context"
	"time"

	"github.com/nerio-dev/nerio/pkg/nerio/llm"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageGraph MessageType = "graph"
)

// Message is a single persisted conversation turn. Messages are immutable
// after creation; they are deleted only via session removal or retention
// pruning.
type Message struct {
	// ID is globally unique. Collisions against already-persisted messages
	// are detected and regenerated before writing, never dropped.
	ID string

	SessionID  string
	InstanceID string
	Content    string

	// IsUser is true for user turns, false for assistant turns.
	IsUser bool

	Type      MessageType
	CreatedAt time.Time
}

// Clone returns an independent copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// ChatMessage projects the persisted message into the transient model-call
// shape. The projection is never persisted itself.
func (m *Message) ChatMessage() llm.ChatMessage {
	role := llm.RoleAssistant
	if m.IsUser {
		role = llm.RoleUser
	}
	return llm.ChatMessage{Role: role, Content: m.Content}
}

// Session is one conversation thread owned by exactly one instance.
// Messages are ordered by creation time ascending; that ordering survives
// cache and store round trips.
type Session struct {
	InstanceID    string
	SessionID     string
	Name          string
	CreatedAt     time.Time
	LastUpdatedAt time.Time
	Messages      []*Message

	// messagesLoaded records whether Messages reflects the full durable
	// history, so a cached session with a genuinely empty history is not
	// refetched on every read.
	messagesLoaded bool
}

// Clone returns a deep copy. Every session handed out of the cache goes
// through here so a caller mutating the result can never be observed by a
// concurrent reader.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = make([]*Message, len(s.Messages))
	for i, m := range s.Messages {
		c.Messages[i] = m.Clone()
	}
	return &c
}

// SessionRepository is the narrow durable-store contract for sessions.
// Implementations may be slow and fallible; every method must be safe to
// call from multiple concurrent flows. A missing session is reported as
// (nil, nil) or (false, nil), never as an error.
type SessionRepository interface {
	// Get fetches a session without its messages.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// GetWithMessages fetches a session with messages ordered by CreatedAt.
	GetWithMessages(ctx context.Context, sessionID string) (*Session, error)

	// List returns the instance's sessions without messages.
	List(ctx context.Context, instanceID string) ([]*Session, error)

	// Add inserts a new session row.
	Add(ctx context.Context, session *Session) error

	// Rename updates the session name and LastUpdatedAt. Returns false when
	// the session does not exist.
	Rename(ctx context.Context, sessionID, name string, updatedAt time.Time) (bool, error)

	// Remove deletes the session and cascades its messages. Returns false
	// when the session does not exist.
	Remove(ctx context.Context, sessionID string) (bool, error)
}

// MessageRepository is the narrow durable-store contract for messages.
type MessageRepository interface {
	// ExistingIDs reports which of the given message ids are already
	// persisted, for collision detection.
	ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error)

	// AppendExchange atomically persists the messages and bumps the owning
	// session's LastUpdatedAt. All-or-nothing: a failure leaves neither the
	// messages nor the timestamp written.
	AppendExchange(ctx context.Context, sessionID string, messages []*Message, updatedAt time.Time) error

	// DeleteOlderThan removes messages created before the cutoff. Used only
	// by the explicit retention job.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
