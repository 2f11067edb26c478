package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Store is the single source of truth for session and message reads and
// writes. Reads go through the cache; writes go to the durable store and
// then update or invalidate the cache.
type Store struct {
	cache    *Cache
	sessions SessionRepository
	messages MessageRepository
	logger   *slog.Logger
}

// NewStore wires the cache and repositories together.
func NewStore(cache *Cache, sessions SessionRepository, messages MessageRepository, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cache:    cache,
		sessions: sessions,
		messages: messages,
		logger:   logger.With("component", "store"),
	}
}

// Cache keys are namespaced so session entries and per-instance session
// listings never collide.
func sessionKey(sessionID string) string   { return "session::" + sessionID }
func sessionsKey(instanceID string) string { return "sessions::" + instanceID }

// GetSession returns the session, or (nil, nil) when it does not exist.
// Cached copies without messages are promoted with a single durable-store
// fetch when the caller asks for messages; a stale "no messages" copy is
// never served in that case. The returned session is always an independent
// copy.
func (s *Store) GetSession(ctx context.Context, sessionID string, includeMessages bool) (*Session, error) {
	key := sessionKey(sessionID)

	if cached, ok := s.cache.Get(key); ok {
		session := cached.(*Session)
		if session.messagesLoaded || !includeMessages {
			return session.Clone(), nil
		}
		return s.fetchAndCache(ctx, sessionID, true)
	}

	return s.fetchAndCache(ctx, sessionID, includeMessages)
}

func (s *Store) fetchAndCache(ctx context.Context, sessionID string, includeMessages bool) (*Session, error) {
	var (
		session *Session
		err     error
	)
	if includeMessages {
		session, err = s.sessions.GetWithMessages(ctx, sessionID)
	} else {
		session, err = s.sessions.Get(ctx, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch session %q: %w", sessionID, err)
	}
	if session == nil {
		return nil, nil
	}
	session.messagesLoaded = includeMessages

	s.cache.Set(sessionKey(sessionID), session)
	return session.Clone(), nil
}

// GetOrCreate returns the session, creating a durable row on first
// reference to an unknown id. The implicit create is idempotent: calling
// again with the same id returns the existing session.
func (s *Store) GetOrCreate(ctx context.Context, sessionID, instanceID string, includeMessages bool) (*Session, error) {
	key := sessionKey(sessionID)

	if cached, ok := s.cache.Get(key); ok {
		session := cached.(*Session)
		if session.messagesLoaded || !includeMessages {
			return session.Clone(), nil
		}
		return s.fetchAndCache(ctx, sessionID, true)
	}

	value, err := s.cache.GetOrCreate(key, func() (any, error) {
		var (
			session *Session
			err     error
		)
		if includeMessages {
			session, err = s.sessions.GetWithMessages(ctx, sessionID)
		} else {
			session, err = s.sessions.Get(ctx, sessionID)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch session %q: %w", sessionID, err)
		}
		if session != nil {
			session.messagesLoaded = includeMessages
			return session, nil
		}

		now := time.Now().UTC()
		// A freshly created session has no history, so the empty message
		// slice is already complete.
		session = &Session{
			InstanceID:     instanceID,
			SessionID:      sessionID,
			Name:           "Session-" + sessionID,
			CreatedAt:      now,
			LastUpdatedAt:  now,
			messagesLoaded: true,
		}
		if err := s.sessions.Add(ctx, session); err != nil {
			return nil, fmt.Errorf("create session %q: %w", sessionID, err)
		}

		s.logger.Info("created session on first reference",
			"session_id", sessionID,
			"instance_id", instanceID,
		)
		s.cache.Delete(sessionsKey(instanceID))
		return session, nil
	})
	if err != nil {
		return nil, err
	}

	return value.(*Session).Clone(), nil
}

// AddExchange persists a completed user/assistant exchange. Message id
// collisions against already-persisted messages are regenerated in place so
// the caller's slice, the cache, and the store stay consistent. The cached
// session is updated and the instance's session listing invalidated.
func (s *Store) AddExchange(ctx context.Context, sessionID, instanceID string, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}

	if err := s.regenerateCollidingIDs(ctx, messages); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.messages.AppendExchange(ctx, sessionID, messages, now); err != nil {
		return fmt.Errorf("persist exchange for session %q: %w", sessionID, err)
	}

	key := sessionKey(sessionID)
	if cached, ok := s.cache.Get(key); ok {
		session := cached.(*Session).Clone()
		for _, m := range messages {
			session.Messages = append(session.Messages, m.Clone())
		}
		session.LastUpdatedAt = now
		s.cache.Set(key, session)
	}

	s.cache.Delete(sessionsKey(instanceID))

	s.logger.Debug("added chat exchange",
		"session_id", sessionID,
		"messages", len(messages),
	)
	return nil
}

// regenerateCollidingIDs replaces any message id already present in the
// durable store with a fresh one. Collisions are healed silently from the
// user's point of view and logged as warnings.
func (s *Store) regenerateCollidingIDs(ctx context.Context, messages []*Message) error {
	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}

	existing, err := s.messages.ExistingIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("check message id collisions: %w", err)
	}

	for _, m := range messages {
		if _, collides := existing[m.ID]; !collides {
			continue
		}
		oldID := m.ID
		m.ID = uuid.NewString()
		s.logger.Warn("message id collision, regenerated",
			"old_id", oldID,
			"new_id", m.ID,
			"session_id", m.SessionID,
		)
	}
	return nil
}

// TrimMessages prunes the cached session's history down to its newest keep
// messages, dropping the oldest ones. A no-op when the history is already
// at or under keep. Cache-only: durable history is pruned solely by the
// explicit retention job.
func (s *Store) TrimMessages(sessionID string, keep int) {
	if keep < 0 {
		keep = 0
	}

	key := sessionKey(sessionID)
	cached, ok := s.cache.Get(key)
	if !ok {
		return
	}

	session := cached.(*Session).Clone()
	drop := len(session.Messages) - keep
	if drop <= 0 {
		return
	}
	session.Messages = session.Messages[drop:]
	s.cache.Set(key, session)

	s.logger.Debug("trimmed cached messages",
		"session_id", sessionID,
		"dropped", drop,
		"kept", len(session.Messages),
	)
}

// ListSessions returns the instance's sessions, newest activity first,
// messages omitted.
func (s *Store) ListSessions(ctx context.Context, instanceID string) ([]*Session, error) {
	value, err := s.cache.GetOrCreate(sessionsKey(instanceID), func() (any, error) {
		sessions, err := s.sessions.List(ctx, instanceID)
		if err != nil {
			return nil, fmt.Errorf("list sessions for instance %q: %w", instanceID, err)
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].LastUpdatedAt.After(sessions[j].LastUpdatedAt)
		})
		return sessions, nil
	})
	if err != nil {
		return nil, err
	}

	cached := value.([]*Session)
	out := make([]*Session, len(cached))
	for i, session := range cached {
		out[i] = session.Clone()
	}
	return out, nil
}

// UpdateSession renames a session. Returns false without error when the
// session does not exist.
func (s *Store) UpdateSession(ctx context.Context, sessionID, instanceID, name string) (bool, error) {
	ok, err := s.sessions.Rename(ctx, sessionID, name, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("rename session %q: %w", sessionID, err)
	}
	if !ok {
		s.logger.Warn("rename of unknown session ignored", "session_id", sessionID)
		return false, nil
	}

	s.cache.Delete(sessionKey(sessionID))
	s.cache.Delete(sessionsKey(instanceID))
	return true, nil
}

// RemoveSession deletes a session and its messages. Returns false without
// error when the session does not exist.
func (s *Store) RemoveSession(ctx context.Context, sessionID, instanceID string) (bool, error) {
	ok, err := s.sessions.Remove(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("remove session %q: %w", sessionID, err)
	}
	if !ok {
		s.logger.Warn("removal of unknown session ignored", "session_id", sessionID)
		return false, nil
	}

	s.cache.Delete(sessionKey(sessionID))
	s.cache.Delete(sessionsKey(instanceID))
	return true, nil
}
