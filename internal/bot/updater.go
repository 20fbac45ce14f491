package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"momentum-trader-go/internal/models"
	"momentum-trader-go/internal/schedule"
	"momentum-trader-go/internal/store"

	"go.uber.org/zap"
)

const (
	// rateLimitSleep paces historical-data requests so the gateway's
	// upstream limits are respected.
	rateLimitSleep = 500 * time.Millisecond

	// progressEvery is how many symbols pass between progress broadcasts.
	progressEvery = 10
)

// UpdateOutcome summarizes one bar update pass.
type UpdateOutcome struct {
	Total   int    `json:"total"`
	Skipped int    `json:"skipped"`
	Errors  int    `json:"errors"`
	Status  string `json:"status"`
}

// RunDataUpdate fetches the missing daily bars for every active ticker.
//
// Safe to invoke concurrently: the persisted update status acts as a
// single-flight guard, and a second caller observing "running" no-ops
// immediately rather than queueing. Per-symbol fetch errors are counted
// and never abort the pass; only a pre-loop failure (connectivity, store)
// marks the whole run failed.
func (b *Bot) RunDataUpdate(ctx context.Context) (*UpdateOutcome, error) {
	status, err := b.store.GetUpdateStatus()
	if err != nil {
		return nil, err
	}
	if status.Status == models.UpdateRunning {
		b.logger.Info("Data update already in progress, skipping")
		return nil, nil
	}

	if err := b.ensureConnected(); err != nil {
		reason := fmt.Sprintf("broker not connected: %v", err)
		b.logger.Error("Data update aborted", zap.String("reason", reason))
		if ferr := b.store.FinishDataUpdate(models.UpdateFailed, reason); ferr != nil {
			b.logger.Error("Failed to record update status", zap.Error(ferr))
		}
		b.hub.Broadcast("data_update_complete", map[string]interface{}{
			"status": models.UpdateFailed,
			"error":  reason,
		})
		return nil, fmt.Errorf("data update: %s", reason)
	}

	tickers, err := b.store.ActiveTickers()
	if err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		b.logger.Info("No active tickers, skipping data update")
		return nil, nil
	}

	// Atomic transition into running; exactly one of two racing callers
	// wins, the loser treats it as a clean no-op.
	if err := b.store.BeginDataUpdate(); err != nil {
		if errors.Is(err, store.ErrAlreadyRunning) {
			b.logger.Info("Data update already in progress, skipping")
			return nil, nil
		}
		return nil, err
	}

	total := len(tickers)
	b.logger.Info("Starting data update", zap.Int("tickers", total))
	b.hub.Broadcast("data_update_started", map[string]interface{}{"total": total})

	outcome := &UpdateOutcome{Total: total}
	lastCompleted := schedule.LastCompletedTradingDay(b.now())

	done := 0
	for _, symbol := range tickers {
		if ctx.Err() != nil {
			return b.failUpdate(outcome, ctx.Err().Error())
		}

		latest, err := b.store.LatestBarDate(symbol)
		if err != nil {
			return b.failUpdate(outcome, err.Error())
		}

		window := schedule.FetchWindow(latest, lastCompleted)
		if window == "" {
			outcome.Skipped++
			done++
			b.broadcastProgress(done, total, symbol)
			continue
		}

		if err := b.fetchAndStoreBars(symbol, window); err != nil {
			outcome.Errors++
			b.logger.Error("Error fetching bars", zap.String("symbol", symbol), zap.Error(err))
		}
		done++
		b.broadcastProgress(done, total, symbol)

		if !b.sleepCtx(ctx, rateLimitSleep) {
			return b.failUpdate(outcome, ctx.Err().Error())
		}
	}

	outcome.Status = models.UpdateSuccess
	if err := b.store.FinishDataUpdate(models.UpdateSuccess, ""); err != nil {
		b.logger.Error("Failed to record update status", zap.Error(err))
	}
	b.logger.Info("Data update complete",
		zap.Int("total", outcome.Total),
		zap.Int("skipped", outcome.Skipped),
		zap.Int("errors", outcome.Errors))
	b.hub.Broadcast("data_update_complete", map[string]interface{}{
		"status":  models.UpdateSuccess,
		"total":   outcome.Total,
		"skipped": outcome.Skipped,
		"errors":  outcome.Errors,
	})
	return outcome, nil
}

func (b *Bot) failUpdate(outcome *UpdateOutcome, reason string) (*UpdateOutcome, error) {
	outcome.Status = models.UpdateFailed
	if err := b.store.FinishDataUpdate(models.UpdateFailed, reason); err != nil {
		b.logger.Error("Failed to record update status", zap.Error(err))
	}
	b.hub.Broadcast("data_update_complete", map[string]interface{}{
		"status": models.UpdateFailed,
		"error":  reason,
	})
	return outcome, fmt.Errorf("data update failed: %s", reason)
}

func (b *Bot) fetchAndStoreBars(symbol, window string) error {
	raw, err := b.broker.FetchHistoricalBars(symbol, window)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	bars := make([]models.DailyBar, 0, len(raw))
	for _, r := range raw {
		bars = append(bars, models.DailyBar{
			Symbol:      symbol,
			TradingDate: r.Date,
			Open:        r.Open,
			High:        r.High,
			Low:         r.Low,
			Close:       r.Close,
			Volume:      r.Volume,
		})
	}
	return b.store.SaveDailyBars(bars)
}

func (b *Bot) broadcastProgress(done, total int, symbol string) {
	if done%progressEvery != 0 {
		return
	}
	b.hub.Broadcast("data_update_progress", map[string]interface{}{
		"done":           done,
		"total":          total,
		"current_symbol": symbol,
	})
}
