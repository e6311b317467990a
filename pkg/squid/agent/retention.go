package agent

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionJob prunes old messages and audit entries on a cron schedule.
// Only the daemon runs it; one-shot CLI sessions never touch history.
type RetentionJob struct {
	cfg    RetentionConfig
	store  *LedgerStore
	audit  *AuditLogger
	cron   *cron.Cron
	logger *slog.Logger
}

func NewRetentionJob(cfg RetentionConfig, store *LedgerStore, audit *AuditLogger, logger *slog.Logger) *RetentionJob {
	return &RetentionJob{
		cfg:    cfg,
		store:  store,
		audit:  audit,
		logger: logger.With("component", "retention"),
	}
}

// Start registers the pruning job and starts the scheduler. Disabled
// retention is a no-op.
func (j *RetentionJob) Start() error {
	if !j.cfg.Enabled {
		return nil
	}
	if j.cfg.Days <= 0 {
		return fmt.Errorf("retention enabled but days is %d", j.cfg.Days)
	}
	j.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := j.cron.AddFunc(j.cfg.Schedule, j.run); err != nil {
		return fmt.Errorf("register retention schedule %q: %w", j.cfg.Schedule, err)
	}
	j.cron.Start()
	j.logger.Info("retention scheduled", "schedule", j.cfg.Schedule, "days", j.cfg.Days)
	return nil
}

// Stop halts the scheduler, waiting for a running prune to finish.
func (j *RetentionJob) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

func (j *RetentionJob) run() {
	cutoff := time.Now().AddDate(0, 0, -j.cfg.Days)
	msgs, err := j.store.PruneBefore(cutoff)
	if err != nil {
		j.logger.Error("history prune failed", "error", err)
	}
	entries, err := j.audit.Prune(cutoff)
	if err != nil {
		j.logger.Error("audit prune failed", "error", err)
	}
	j.logger.Info("retention pass complete", "messages_deleted", msgs, "audit_deleted", entries)
}
