package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nerio-dev/nerio/pkg/nerio/conversation"
)

// MessageStore implements conversation.MessageRepository on SQLite.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a message repository over the given database.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// ExistingIDs reports which of the given ids are already persisted.
func (s *MessageStore) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	if len(ids) == 0 {
		return map[string]struct{}{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM messages WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query existing message ids: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan message id: %w", err)
		}
		existing[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message ids: %w", err)
	}
	return existing, nil
}

// AppendExchange persists the messages and bumps the session's
// last_updated_at in one transaction.
func (s *MessageStore) AppendExchange(ctx context.Context, sessionID string, messages []*conversation.Message, updatedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin exchange transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (id, session_id, instance_id, content, is_user, type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range messages {
		isUser := 0
		if m.IsUser {
			isUser = 1
		}
		if _, err := stmt.ExecContext(ctx,
			m.ID, m.SessionID, m.InstanceID, m.Content, isUser, string(m.Type),
			m.CreatedAt.UTC().Format(timeFormat),
		); err != nil {
			return fmt.Errorf("insert message %q: %w", m.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_updated_at = ? WHERE id = ?`,
		updatedAt.UTC().Format(timeFormat), sessionID,
	); err != nil {
		return fmt.Errorf("touch session %q: %w", sessionID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit exchange: %w", err)
	}
	return nil
}

// DeleteOlderThan removes messages created before the cutoff.
func (s *MessageStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE created_at < ?`,
		cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("delete old messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old messages rows affected: %w", err)
	}
	return n, nil
}

var _ conversation.MessageRepository = (*MessageStore)(nil)
var _ conversation.SessionRepository = (*SessionStore)(nil)
