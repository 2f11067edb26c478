package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nerio-dev/nerio/pkg/nerio/channel"
	"github.com/nerio-dev/nerio/pkg/nerio/conversation"
	"github.com/nerio-dev/nerio/pkg/nerio/engine"
)

// ---------- Frame payloads ----------

type sessionRef struct {
	SessionID  string `json:"sessionId"`
	InstanceID string `json:"instanceId"`
}

type updateSessionRequest struct {
	SessionID  string `json:"sessionId"`
	InstanceID string `json:"instanceId"`
	Name       string `json:"name"`
}

type getLogsRequest struct {
	Limit int `json:"limit"`
}

type updateConfigRequest struct {
	Name      *string `json:"name,omitempty"`
	Persona   *string `json:"persona,omitempty"`
	MaxTokens *int    `json:"maxTokens,omitempty"`
}

type messageView struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"isUser"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

type sessionView struct {
	SessionID     string        `json:"sessionId"`
	InstanceID    string        `json:"instanceId"`
	Name          string        `json:"name"`
	CreatedAt     time.Time     `json:"createdAt"`
	LastUpdatedAt time.Time     `json:"lastUpdatedAt"`
	Messages      []messageView `json:"messages,omitempty"`
}

type configView struct {
	InstanceID string `json:"instanceId"`
	Name       string `json:"name"`
	Persona    string `json:"persona"`
	Model      string `json:"model"`
	MaxTokens  int    `json:"maxTokens"`
}

type themeView struct {
	Name    string          `json:"name"`
	Content json.RawMessage `json:"content"`
}

func sessionToView(s *conversation.Session, includeMessages bool) sessionView {
	view := sessionView{
		SessionID:     s.SessionID,
		InstanceID:    s.InstanceID,
		Name:          s.Name,
		CreatedAt:     s.CreatedAt,
		LastUpdatedAt: s.LastUpdatedAt,
	}
	if includeMessages {
		view.Messages = make([]messageView, 0, len(s.Messages))
		for _, m := range s.Messages {
			view.Messages = append(view.Messages, messageView{
				ID:        m.ID,
				Content:   m.Content,
				IsUser:    m.IsUser,
				Type:      string(m.Type),
				CreatedAt: m.CreatedAt,
			})
		}
	}
	return view
}

// ---------- Command execution ----------

// handleCommand runs one inbound command end to end: tracker bookkeeping,
// engine execution, result delivery. The response frame stays empty; the
// result travels over the delivery path with the same correlation id.
func (a *Agent) handleCommand(ctx context.Context, _ string, payload json.RawMessage) (any, error) {
	var msg channel.CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrInvalidRequest, err)
	}

	// Keepalive acknowledgements arrive as command frames carrying the
	// sentinel id; they never execute and never touch the tracker.
	if msg.CommandSyncID == channel.KeepaliveSyncID {
		a.logger.Debug("keepalive sentinel received")
		return nil, nil
	}

	if msg.CommandSyncID == "" || strings.TrimSpace(msg.Command) == "" {
		return nil, fmt.Errorf("%w: missing command or sync id", channel.ErrInvalidRequest)
	}

	if err := a.tracker.Begin(msg.CommandSyncID); err != nil {
		return nil, err
	}

	instanceID := msg.InstanceID
	if instanceID == "" {
		instanceID = a.currentConfig().InstanceID
	}
	scope := &engine.Scope{
		InstanceID: instanceID,
		SessionID:  msg.SessionID,
		Parameters: msg.Parameters,
	}

	start := time.Now()
	outcome, err := a.engine.Execute(ctx, scope, msg.Command)
	if err == nil && outcome == nil {
		err = fmt.Errorf("engine returned no outcome for command %q", msg.Command)
	}
	if err != nil {
		a.logger.Error("command execution failed",
			"sync_id", msg.CommandSyncID,
			"command", msg.Command,
			"error", err,
		)
		if sendErr := a.delivery.SendError(ctx, msg.CommandSyncID, channel.UserFacingMessage(err)); sendErr != nil {
			a.logger.Error("error delivery failed", "sync_id", msg.CommandSyncID, "error", sendErr)
		}
		a.tracker.Complete(msg.CommandSyncID, false)
		return nil, nil
	}

	success := outcome.IsSuccess
	if deliverErr := a.delivery.SendResult(ctx, msg.CommandSyncID, outcome); deliverErr != nil {
		a.logger.Error("result delivery failed", "sync_id", msg.CommandSyncID, "error", deliverErr)
		success = false
	}
	a.tracker.Complete(msg.CommandSyncID, success)

	a.logger.Info("command processed",
		"sync_id", msg.CommandSyncID,
		"command", outcome.CommandName,
		"success", success,
		"duration", time.Since(start).String(),
	)
	return nil, nil
}

// ---------- Session frames ----------

func (a *Agent) handleGetSession(ctx context.Context, _ string, payload json.RawMessage) (any, error) {
	var req sessionRef
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrInvalidRequest, err)
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", channel.ErrInvalidRequest)
	}

	session, err := a.store.GetSession(ctx, req.SessionID, true)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: unknown session %s", channel.ErrInvalidRequest, req.SessionID)
	}
	return sessionToView(session, true), nil
}

func (a *Agent) handleGetSessions(ctx context.Context, _ string, payload json.RawMessage) (any, error) {
	var req sessionRef
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", channel.ErrInvalidRequest, err)
		}
	}
	instanceID := req.InstanceID
	if instanceID == "" {
		instanceID = a.currentConfig().InstanceID
	}

	sessions, err := a.store.ListSessions(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionToView(s, false))
	}
	return views, nil
}

func (a *Agent) handleUpdateSession(ctx context.Context, _ string, payload json.RawMessage) (any, error) {
	var req updateSessionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrInvalidRequest, err)
	}
	if req.SessionID == "" || strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: missing session id or name", channel.ErrInvalidRequest)
	}

	found, err := a.store.UpdateSession(ctx, req.SessionID, req.InstanceID, req.Name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: unknown session %s", channel.ErrInvalidRequest, req.SessionID)
	}
	return map[string]string{"sessionId": req.SessionID, "name": req.Name}, nil
}

func (a *Agent) handleRemoveSession(ctx context.Context, _ string, payload json.RawMessage) (any, error) {
	var req sessionRef
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrInvalidRequest, err)
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", channel.ErrInvalidRequest)
	}

	found, err := a.store.RemoveSession(ctx, req.SessionID, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: unknown session %s", channel.ErrInvalidRequest, req.SessionID)
	}
	return map[string]string{"sessionId": req.SessionID}, nil
}

// ---------- Config frames ----------

func (a *Agent) handleGetConfig(_ context.Context, _ string, _ json.RawMessage) (any, error) {
	cfg := a.currentConfig()
	return configView{
		InstanceID: cfg.InstanceID,
		Name:       cfg.Name,
		Persona:    cfg.Persona,
		Model:      cfg.LLM.Model,
		MaxTokens:  cfg.Chat.MaxTokens,
	}, nil
}

// handleUpdateConfig applies the whitelisted mutable fields. Connection
// settings and secrets are never remotely updatable.
func (a *Agent) handleUpdateConfig(_ context.Context, _ string, payload json.RawMessage) (any, error) {
	var req updateConfigRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrInvalidRequest, err)
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return nil, fmt.Errorf("%w: maxTokens must be positive", channel.ErrInvalidRequest)
	}

	a.cfgMu.Lock()
	if req.Name != nil {
		a.cfg.Name = *req.Name
	}
	if req.Persona != nil {
		a.cfg.Persona = *req.Persona
	}
	if req.MaxTokens != nil {
		a.cfg.Chat.MaxTokens = *req.MaxTokens
	}
	snapshot := *a.cfg
	a.cfgMu.Unlock()

	// The conversation stack copied these at construction; push the new
	// values through so the update changes behavior, not just the echo.
	if req.Persona != nil {
		a.chat.SetPersona(*req.Persona)
	}
	if req.MaxTokens != nil {
		a.optimizer.SetMaxTokens(*req.MaxTokens)
	}

	if a.configPath != "" {
		if err := SaveConfig(&snapshot, a.configPath); err != nil {
			a.logger.Warn("persisting config update failed", "error", err)
		}
	}

	a.logger.Info("config updated")
	return configView{
		InstanceID: snapshot.InstanceID,
		Name:       snapshot.Name,
		Persona:    snapshot.Persona,
		Model:      snapshot.LLM.Model,
		MaxTokens:  snapshot.Chat.MaxTokens,
	}, nil
}

// ---------- Introspection frames ----------

func (a *Agent) handleGetLogs(_ context.Context, _ string, payload json.RawMessage) (any, error) {
	var req getLogsRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", channel.ErrInvalidRequest, err)
		}
	}
	if a.logs == nil {
		return []LogEntry{}, nil
	}
	return a.logs.Recent(req.Limit), nil
}

// handleGetThemes serves the UI theme files from the themes directory. A
// missing directory is an empty list, not an error.
func (a *Agent) handleGetThemes(_ context.Context, _ string, _ json.RawMessage) (any, error) {
	dir := a.currentConfig().ThemesDir

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []themeView{}, nil
		}
		return nil, fmt.Errorf("read themes dir: %w", err)
	}

	themes := make([]themeView, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			a.logger.Warn("skipping unreadable theme", "file", entry.Name(), "error", err)
			continue
		}
		if !json.Valid(data) {
			a.logger.Warn("skipping invalid theme", "file", entry.Name())
			continue
		}
		themes = append(themes, themeView{
			Name:    strings.TrimSuffix(entry.Name(), ".json"),
			Content: json.RawMessage(data),
		})
	}
	return themes, nil
}

func (a *Agent) handleCommandsMeta(_ context.Context, _ string, _ json.RawMessage) (any, error) {
	return a.engine.Commands(), nil
}

func (a *Agent) currentConfig() Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return *a.cfg
}
