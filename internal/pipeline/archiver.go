package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// Archiver exports each closed day of auctions, ledger movements and audit
// entries to cold storage.
type Archiver struct {
	exporter domain.Archiver
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(exporter domain.Archiver, logger *slog.Logger) *Archiver {
	return &Archiver{exporter: exporter, logger: logger, now: time.Now}
}

// ArchiveReport counts the rows exported by one run.
type ArchiveReport struct {
	From     time.Time
	To       time.Time
	Auctions int64
	Ledger   int64
	Audit    int64
}

// Run exports the previous UTC day, [midnight-24h, midnight).
func (a *Archiver) Run(ctx context.Context) (ArchiveReport, error) {
	to := a.now().UTC().Truncate(24 * time.Hour)
	return a.RunWindow(ctx, to.Add(-24*time.Hour), to)
}

// RunWindow exports everything created in [from, to).
func (a *Archiver) RunWindow(ctx context.Context, from, to time.Time) (ArchiveReport, error) {
	rep := ArchiveReport{From: from, To: to}
	a.logger.Info("starting archive run", slog.Time("from", from), slog.Time("to", to))

	var err error
	if rep.Auctions, err = a.exporter.ExportAuctions(ctx, from, to); err != nil {
		return rep, fmt.Errorf("archiving auctions %v-%v: %w", from, to, err)
	}
	if rep.Ledger, err = a.exporter.ExportLedger(ctx, from, to); err != nil {
		return rep, fmt.Errorf("archiving ledger %v-%v: %w", from, to, err)
	}
	if rep.Audit, err = a.exporter.ExportAudit(ctx, from, to); err != nil {
		return rep, fmt.Errorf("archiving audit %v-%v: %w", from, to, err)
	}

	a.logger.Info("archive run complete",
		slog.Int64("auctions", rep.Auctions),
		slog.Int64("ledger", rep.Ledger),
		slog.Int64("audit", rep.Audit),
	)
	return rep, nil
}

// RunCron runs the archiver on a cron schedule until the context is cancelled.
// Example: "0 3 * * *" runs at 03:00 UTC every day.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := ParseSchedule(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.Next(a.now())
		if err != nil {
			return err
		}
		wait := time.Until(next)
		a.logger.Debug("archiver sleeping until next run",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
