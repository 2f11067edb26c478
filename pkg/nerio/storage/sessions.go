package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerio-dev/nerio/pkg/nerio/conversation"
)

// timeFormat is RFC 3339 with sub-second precision, sortable as text.
const timeFormat = time.RFC3339Nano

// SessionStore implements conversation.SessionRepository on SQLite.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a session repository over the given database.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Get fetches a session without messages. Returns (nil, nil) when absent.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*conversation.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, instance_id, name, created_at, last_updated_at FROM sessions WHERE id = ?`,
		sessionID)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return session, nil
}

// GetWithMessages fetches a session and its messages ordered by creation
// time ascending. Returns (nil, nil) when absent.
func (s *SessionStore) GetWithMessages(ctx context.Context, sessionID string) (*conversation.Session, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil || session == nil {
		return session, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, instance_id, content, is_user, type, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		session.Messages = append(session.Messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session messages: %w", err)
	}
	return session, nil
}

// List returns the instance's sessions without messages.
func (s *SessionStore) List(ctx context.Context, instanceID string) ([]*conversation.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, instance_id, name, created_at, last_updated_at
		 FROM sessions WHERE instance_id = ? ORDER BY last_updated_at DESC`,
		instanceID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*conversation.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Add inserts a new session row.
func (s *SessionStore) Add(ctx context.Context, session *conversation.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, instance_id, name, created_at, last_updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.SessionID,
		session.InstanceID,
		session.Name,
		session.CreatedAt.UTC().Format(timeFormat),
		session.LastUpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Rename updates the session name and bumps its last activity timestamp.
// Returns false when the session does not exist.
func (s *SessionStore) Rename(ctx context.Context, sessionID, name string, updatedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name = ?, last_updated_at = ? WHERE id = ?`,
		name, updatedAt.UTC().Format(timeFormat), sessionID)
	if err != nil {
		return false, fmt.Errorf("rename session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rename session rows affected: %w", err)
	}
	return n > 0, nil
}

// Remove deletes the session; its messages cascade.
func (s *SessionStore) Remove(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session rows affected: %w", err)
	}
	return n > 0, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*conversation.Message, error) {
	var (
		message   conversation.Message
		isUser    int
		msgType   string
		createdAt string
	)
	if err := row.Scan(&message.ID, &message.SessionID, &message.InstanceID, &message.Content, &isUser, &msgType, &createdAt); err != nil {
		return nil, err
	}

	message.IsUser = isUser != 0
	message.Type = conversation.MessageType(msgType)

	var err error
	if message.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("parse message created_at: %w", err)
	}
	return &message, nil
}

func scanSession(row rowScanner) (*conversation.Session, error) {
	var (
		session              conversation.Session
		createdAt, updatedAt string
	)
	if err := row.Scan(&session.SessionID, &session.InstanceID, &session.Name, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if session.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("parse session created_at: %w", err)
	}
	if session.LastUpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("parse session last_updated_at: %w", err)
	}
	return &session, nil
}
