package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// ScanFunc is one periodic sweep, such as activating due auctions or
// flagging overdue payments.
type ScanFunc func(ctx context.Context) (domain.ScanResult, error)

// Job is a named sweep run on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      ScanFunc
}

// Orchestrator manages the worker goroutines: every scheduled sweep plus the
// cold-storage archive cron.
type Orchestrator struct {
	jobs        []Job
	archiver    *Archiver
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator. archiver may be nil when no cold
// storage is configured. Jobs with a non-positive interval are skipped.
func NewOrchestrator(jobs []Job, archiver *Archiver, archiveCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:        jobs,
		archiver:    archiver,
		archiveCron: archiveCron,
		logger:      logger,
	}
}

// Run starts every job as a concurrent goroutine using an errgroup. A job
// error is logged and the loop carries on; only the archive cron can stop the
// group, when its expression is invalid.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("scheduler starting",
		slog.Int("jobs", len(o.jobs)),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	for _, job := range o.jobs {
		if job.Interval <= 0 || job.Run == nil {
			o.logger.Warn("scheduler job disabled", slog.String("job", job.Name))
			continue
		}
		g.Go(func() error {
			o.runLoop(ctx, job)
			return nil
		})
	}

	if o.archiver != nil && o.archiveCron != "" {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("scheduler stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("scheduler stopped cleanly")
	return nil
}

// runLoop runs job once immediately, then on every tick.
func (o *Orchestrator) runLoop(ctx context.Context, job Job) {
	o.runOnce(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runOnce(ctx, job)
		}
	}
}

func (o *Orchestrator) runOnce(ctx context.Context, job Job) {
	start := time.Now()
	res, err := job.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.logger.Error("scheduled job failed",
			slog.String("job", job.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	if res.Scanned == 0 {
		return
	}
	o.logger.Info("scheduled job finished",
		slog.String("job", job.Name),
		slog.Int("scanned", res.Scanned),
		slog.Int("processed", res.Processed),
		slog.Int("failed", res.Failed),
		slog.Duration("took", time.Since(start)),
	)
}
