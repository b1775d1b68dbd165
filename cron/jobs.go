package cron

import (
	"context"
	"time"

	robfig "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// PreRecordSweeper removes pre-records left behind by interrupted reconciliations.
type PreRecordSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// WorkflowSweeper forgets finished registration workflows.
type WorkflowSweeper interface {
	Sweep(olderThan time.Duration) int
}

// JobConfig schedules the periodic maintenance jobs.
type JobConfig struct {
	JanitorSchedule   string
	WorkflowRetention time.Duration
}

// StartJobs schedules the pre-record janitor and the workflow sweep. The returned
// scheduler is already running; Stop it on shutdown.
func StartJobs(cfg JobConfig, janitor PreRecordSweeper, workflows WorkflowSweeper, logger *zap.Logger) (*robfig.Cron, error) {
	c := robfig.New(robfig.WithLocation(time.UTC))

	if _, err := c.AddFunc(cfg.JanitorSchedule, func() { runJanitor(janitor, logger) }); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc("@every 10m", func() { runWorkflowSweep(workflows, cfg.WorkflowRetention, logger) }); err != nil {
		return nil, err
	}

	c.Start()
	return c, nil
}

func runJanitor(janitor PreRecordSweeper, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	removed, err := janitor.Sweep(ctx)
	if err != nil {
		logger.Error("scheduled pre-record sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		logger.Info("scheduled pre-record sweep", zap.Int("removed", removed))
	}
}

func runWorkflowSweep(workflows WorkflowSweeper, retention time.Duration, logger *zap.Logger) {
	if removed := workflows.Sweep(retention); removed > 0 {
		logger.Info("registration workflows swept", zap.Int("removed", removed))
	}
}
