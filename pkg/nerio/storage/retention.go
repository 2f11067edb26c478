package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerio-dev/nerio/pkg/nerio/conversation"
)

// RetentionConfig controls durable message pruning. Cache trimming never
// deletes from the store; this job is the only destructive history path.
type RetentionConfig struct {
	// Enabled turns durable pruning on. Default: off, history is kept
	// forever.
	Enabled bool `yaml:"enabled"`

	// MaxAgeDays is the age past which messages are deleted.
	MaxAgeDays int `yaml:"max_age_days"`

	// Schedule is a cron expression for when pruning runs.
	// Default: "0 3 * * *" (daily at 03:00).
	Schedule string `yaml:"schedule"`
}

// DefaultRetentionConfig returns the retention defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Enabled:    false,
		MaxAgeDays: 90,
		Schedule:   "0 3 * * *",
	}
}

// RetentionJob prunes old messages from the durable store on a schedule.
type RetentionJob struct {
	config   RetentionConfig
	messages conversation.MessageRepository
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewRetentionJob creates the pruning job.
func NewRetentionJob(cfg RetentionConfig, messages conversation.MessageRepository, logger *slog.Logger) *RetentionJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionJob{
		config:   cfg,
		messages: messages,
		logger:   logger.With("component", "retention"),
	}
}

// Start schedules the job. No-op when retention is disabled.
func (j *RetentionJob) Start(ctx context.Context) error {
	if !j.config.Enabled {
		j.logger.Info("retention disabled, durable history kept forever")
		return nil
	}

	schedule := j.config.Schedule
	if schedule == "" {
		schedule = "0 3 * * *"
	}

	j.cron = cron.New()
	if _, err := j.cron.AddFunc(schedule, func() { j.prune(ctx) }); err != nil {
		return err
	}
	j.cron.Start()

	j.logger.Info("retention started",
		"schedule", schedule,
		"max_age_days", j.config.MaxAgeDays,
	)
	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (j *RetentionJob) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

func (j *RetentionJob) prune(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -j.config.MaxAgeDays)

	removed, err := j.messages.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("retention prune failed", "error", err)
		return
	}
	if removed > 0 {
		j.logger.Info("retention prune complete", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	}
}
