package bot

import (
	"context"
	"fmt"
	"time"

	"momentum-trader-go/internal/models"
	"momentum-trader-go/internal/schedule"

	"go.uber.org/zap"
)

const (
	// triggerRetryDelay is how long a loop waits before re-reading settings
	// when its trigger time is missing or malformed.
	triggerRetryDelay = 60 * time.Second

	// postFireDelay keeps a loop from re-evaluating the same trigger minute
	// immediately after a job fires.
	postFireDelay = 120 * time.Second

	// executionGrace lets a restart (or a trigger-time change) shortly after
	// an execution trigger still fire that trigger once.
	executionGrace = 10 * time.Minute
)

// sleepCtx blocks for d or until ctx is cancelled. It reports whether the
// full duration elapsed.
func (b *Bot) sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// jobSpec binds a persisted checkpoint name to the settings field holding
// its trigger time and the action it fires.
type jobSpec struct {
	name    string
	grace   time.Duration
	trigger func(*models.Settings) string
	run     func(context.Context) error
}

// RunDataUpdateLoop drives the daily bar update at the configured time.
func (b *Bot) RunDataUpdateLoop(ctx context.Context) {
	b.runJobLoop(ctx, jobSpec{
		name:    models.JobDataUpdate,
		trigger: func(s *models.Settings) string { return s.DataUpdateTime },
		run: func(ctx context.Context) error {
			_, err := b.RunDataUpdate(ctx)
			return err
		},
	})
}

// RunSODExecutionLoop drives start-of-day order execution. Exits are
// processed before new entries.
func (b *Bot) RunSODExecutionLoop(ctx context.Context) {
	b.runJobLoop(ctx, jobSpec{
		name:    models.JobSODExecution,
		grace:   executionGrace,
		trigger: func(s *models.Settings) string { return s.OrderExecutionTime },
		run: func(ctx context.Context) error {
			_, err := b.RunOrderExecution(ctx)
			return err
		},
	})
}

// RunEODExecutionLoop drives the end-of-day buy pass for symbols flagged
// during the morning scan.
func (b *Bot) RunEODExecutionLoop(ctx context.Context) {
	b.runJobLoop(ctx, jobSpec{
		name:    models.JobEODExecution,
		grace:   executionGrace,
		trigger: func(s *models.Settings) string { return s.EODExecutionTime },
		run: func(ctx context.Context) error {
			_, err := b.RunEODExecution(ctx)
			return err
		},
	})
}

// runJobLoop is the shared scheduler skeleton. Each iteration re-reads the
// trigger time from settings so UI changes take effect without a restart,
// sleeps until the next weekday occurrence, fires the job, and records a
// checkpoint so a restart on the same day does not fire twice. Job errors
// are logged and never terminate the loop.
func (b *Bot) runJobLoop(ctx context.Context, spec jobSpec) {
	log := b.logger.With(zap.String("job", spec.name))
	log.Info("Scheduler loop started")

	for ctx.Err() == nil {
		settings, err := b.store.GetSettings()
		if err != nil {
			log.Error("Failed to load settings", zap.Error(err))
			if !b.sleepCtx(ctx, triggerRetryDelay) {
				break
			}
			continue
		}

		trigger := spec.trigger(settings)
		if trigger == "" {
			log.Debug("No trigger time configured, waiting")
			if !b.sleepCtx(ctx, triggerRetryDelay) {
				break
			}
			continue
		}

		checkpoint, err := b.store.GetCheckpoint(spec.name)
		if err != nil {
			log.Error("Failed to load checkpoint", zap.Error(err))
			if !b.sleepCtx(ctx, triggerRetryDelay) {
				break
			}
			continue
		}

		now := b.now()
		grace := b.effectiveGrace(spec, checkpoint, trigger, now)

		delay, err := schedule.NextWakeDelay(trigger, now, grace)
		if err != nil {
			log.Error("Invalid trigger time", zap.String("trigger", trigger), zap.Error(err))
			if !b.sleepCtx(ctx, triggerRetryDelay) {
				break
			}
			continue
		}

		log.Info("Sleeping until next trigger",
			zap.String("trigger", trigger),
			zap.Duration("delay", delay))
		if !b.sleepCtx(ctx, delay) {
			break
		}

		// Settings and checkpoint may have changed during a long sleep;
		// re-read the checkpoint and decide on the date the trigger
		// actually fires.
		today := b.now().In(schedule.MarketTZ()).Format(schedule.DateLayout)
		checkpoint, err = b.store.GetCheckpoint(spec.name)
		if err != nil {
			log.Error("Failed to reload checkpoint", zap.Error(err))
			if !b.sleepCtx(ctx, triggerRetryDelay) {
				break
			}
			continue
		}
		if alreadyRanToday(checkpoint, trigger, today) {
			log.Info("Already executed today, skipping", zap.String("date", today))
			if !b.sleepCtx(ctx, postFireDelay) {
				break
			}
			continue
		}

		log.Info("Trigger reached, running job", zap.String("date", today))
		if err := spec.run(ctx); err != nil {
			log.Error("Job run failed", zap.Error(err))
		} else if err := b.store.SaveCheckpoint(spec.name, today, trigger); err != nil {
			log.Error("Failed to save checkpoint", zap.Error(err))
		}

		if !b.sleepCtx(ctx, postFireDelay) {
			break
		}
	}

	log.Info("Scheduler loop stopped")
}

// effectiveGrace decides the grace window for the next wake computation.
// A trigger-time change re-arms the job for the day and always grants
// grace, even to zero-grace jobs and even when today's run already
// happened under the old time -- but only when a previous trigger time is
// known; a fresh checkpoint must not retroactively fire an old time.
// Absent a change, a job that fired today gets no grace so the loop
// targets tomorrow instead of instantly re-firing.
func (b *Bot) effectiveGrace(spec jobSpec, cp *models.SchedulerCheckpoint, trigger string, now time.Time) time.Duration {
	if cp.LastTriggerTime != "" && cp.LastTriggerTime != trigger {
		b.logger.Info("Trigger time changed since last run",
			zap.String("job", spec.name),
			zap.String("previous", cp.LastTriggerTime),
			zap.String("current", trigger))
		if spec.grace < executionGrace {
			return executionGrace
		}
		return spec.grace
	}
	today := now.In(schedule.MarketTZ()).Format(schedule.DateLayout)
	if cp.LastExecutionDate == today {
		return 0
	}
	return spec.grace
}

// alreadyRanToday reports whether the job fired today under the same
// trigger time. A same-day run under a different trigger does not count:
// moving the trigger re-arms the job for the day.
func alreadyRanToday(cp *models.SchedulerCheckpoint, trigger, today string) bool {
	return cp.LastExecutionDate == today && cp.LastTriggerTime == trigger
}

// RunScanLoop re-evaluates entry criteria for all active tickers at the
// configured interval while the scanner is enabled. It stops when ctx is
// cancelled.
func (b *Bot) RunScanLoop(ctx context.Context) {
	b.logger.Info("Scan loop started")
	for ctx.Err() == nil {
		settings, err := b.store.GetSettings()
		if err != nil {
			b.logger.Error("Scan loop failed to load settings", zap.Error(err))
			if !b.sleepCtx(ctx, triggerRetryDelay) {
				break
			}
			continue
		}

		interval := time.Duration(settings.ScanIntervalMin) * time.Minute
		if interval <= 0 {
			interval = 30 * time.Minute
		}

		if _, err := b.RunScan(ctx); err != nil {
			b.logger.Error("Scan pass failed", zap.Error(err))
		}
		if err := b.CheckExitTriggers(ctx); err != nil {
			b.logger.Error("Exit trigger check failed", zap.Error(err))
		}

		if !b.sleepCtx(ctx, interval) {
			break
		}
	}
	b.logger.Info("Scan loop stopped")
}

// StartScanner launches the scan loop if it is not already running.
func (b *Bot) StartScanner(parent context.Context) error {
	b.scanMu.Lock()
	defer b.scanMu.Unlock()
	if b.scanRunning {
		return fmt.Errorf("scanner already running")
	}
	ctx, cancel := context.WithCancel(parent)
	b.scanCancel = cancel
	b.scanRunning = true
	go func() {
		b.RunScanLoop(ctx)
		b.scanMu.Lock()
		b.scanRunning = false
		b.scanMu.Unlock()
	}()
	b.hub.Broadcast("scanner_started", nil)
	return nil
}

// StopScanner cancels a running scan loop. Stopping an idle scanner is a
// no-op.
func (b *Bot) StopScanner() {
	b.scanMu.Lock()
	defer b.scanMu.Unlock()
	if !b.scanRunning || b.scanCancel == nil {
		return
	}
	b.scanCancel()
	b.scanCancel = nil
	b.hub.Broadcast("scanner_stopped", nil)
}

// ScannerRunning reports whether the scan loop is active.
func (b *Bot) ScannerRunning() bool {
	b.scanMu.Lock()
	defer b.scanMu.Unlock()
	return b.scanRunning
}
