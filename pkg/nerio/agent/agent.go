package agent

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nerio-dev/nerio/pkg/nerio/channel"
	"github.com/nerio-dev/nerio/pkg/nerio/conversation"
	"github.com/nerio-dev/nerio/pkg/nerio/delivery"
	"github.com/nerio-dev/nerio/pkg/nerio/engine"
	"github.com/nerio-dev/nerio/pkg/nerio/llm"
	"github.com/nerio-dev/nerio/pkg/nerio/storage"
)

// Agent is the composition root: one running assistant instance connected
// to its orchestrator.
type Agent struct {
	logger *slog.Logger
	logs   *LogBuffer

	// cfgMu guards cfg for the config frames; everything else reads its
	// settings once at construction.
	cfgMu      sync.RWMutex
	cfg        *Config
	configPath string

	db        *sql.DB
	store     *conversation.Store
	chat      *conversation.ChatService
	optimizer *conversation.Optimizer
	engine    engine.Engine
	delivery  *delivery.Client
	tracker   *channel.Tracker
	channel   *channel.Channel
	retention *storage.RetentionJob
}

// New builds a fully wired agent from config. configPath may be empty; then
// config updates are kept in memory only. logs may be nil when log frames
// are not needed.
func New(cfg *Config, configPath string, logs *LogBuffer, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := storage.OpenDatabase(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sessions := storage.NewSessionStore(db)
	messages := storage.NewMessageStore(db)

	cache := conversation.NewCache(time.Duration(cfg.Chat.CacheTTLDays) * 24 * time.Hour)
	store := conversation.NewStore(cache, sessions, messages, logger)

	provider := llm.NewClient(cfg.LLM, logger)
	optimizer := conversation.NewOptimizer(cfg.Chat.MaxTokens, llm.NewEstimatingTokenizer(), provider, logger)
	semaphores := conversation.NewSemaphoreRegistry()
	chat := conversation.NewChatService(store, semaphores, provider, optimizer, cfg.Persona, logger)

	eng := engine.NewBuiltin(chat, logger)

	ack := delivery.NewHTTPAcknowledger(cfg.Hub.ResultURL, cfg.Hub.APIKey)
	deliveryClient := delivery.NewClient(ack, cfg.Delivery, logger)

	transport := channel.NewWSTransport(cfg.Hub.URL, cfg.Hub.APIKey)
	ch := channel.New(transport, time.Duration(cfg.Hub.KeepaliveSeconds)*time.Second, logger)

	tracker := channel.NewTracker()
	ch.OnClosed(tracker.Clear)

	retention := storage.NewRetentionJob(cfg.Retention, messages, logger)

	a := &Agent{
		logger:     logger.With("component", "agent"),
		logs:       logs,
		cfg:        cfg,
		configPath: configPath,
		db:         db,
		store:      store,
		chat:       chat,
		optimizer:  optimizer,
		engine:     eng,
		delivery:   deliveryClient,
		tracker:    tracker,
		channel:    ch,
		retention:  retention,
	}

	if err := a.registerHandlers(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return a, nil
}

// Start connects the channel and launches the retention job.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.channel.Start(ctx); err != nil {
		return fmt.Errorf("start channel: %w", err)
	}
	if err := a.retention.Start(ctx); err != nil {
		a.logger.Error("retention job failed to start", "error", err)
	}

	a.logger.Info("agent started", "instance_id", a.cfg.InstanceID)
	return nil
}

// Stop shuts everything down: channel first so no new work arrives, then
// the retention job, then the database.
func (a *Agent) Stop() {
	if err := a.channel.Stop(); err != nil {
		a.logger.Warn("channel stop", "error", err)
	}
	a.retention.Stop()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("database close", "error", err)
	}

	a.logger.Info("agent stopped",
		"commands_processed", a.tracker.TotalProcessed(),
		"succeeded", a.tracker.Succeeded(),
		"failed", a.tracker.Failed(),
	)
}

// Channel exposes the channel for state inspection.
func (a *Agent) Channel() *channel.Channel {
	return a.channel
}

// Tracker exposes the command tracker for state inspection.
func (a *Agent) Tracker() *channel.Tracker {
	return a.tracker
}

func (a *Agent) registerHandlers() error {
	handlers := map[channel.RequestType]channel.Handler{
		channel.RequestCommand:       a.handleCommand,
		channel.RequestGetLogs:       a.handleGetLogs,
		channel.RequestGetSession:    a.handleGetSession,
		channel.RequestGetSessions:   a.handleGetSessions,
		channel.RequestUpdateSession: a.handleUpdateSession,
		channel.RequestRemoveSession: a.handleRemoveSession,
		channel.RequestGetConfig:     a.handleGetConfig,
		channel.RequestUpdateConfig:  a.handleUpdateConfig,
		channel.RequestGetThemes:     a.handleGetThemes,
		channel.RequestCommandsMeta:  a.handleCommandsMeta,
	}
	for t, h := range handlers {
		if err := a.channel.Handle(t, h); err != nil {
			return fmt.Errorf("register handler: %w", err)
		}
	}
	return nil
}
