package bot

import (
	"context"
	"fmt"
	"time"

	"momentum-trader-go/internal/broker"
	"momentum-trader-go/internal/models"
	"momentum-trader-go/internal/schedule"

	"go.uber.org/zap"
)

// Reasons recorded when a Group B candidate is skipped at the start-of-day
// re-verification.
const (
	SkipCriteriaFailed = "CRITERIA_FAILED"
	SkipGapUpExcessive = "GAP_UP_EXCESSIVE"
	SkipNoScannerData  = "NO_SCANNER"
)

// maxGapUpRatio rejects Group B buys that gapped up more than 10% above
// their scan price overnight.
const maxGapUpRatio = 1.10

// ExecutedOrder is one buy or sell performed during an execution pass.
type ExecutedOrder struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Status   string  `json:"status"`
}

// ExecutionSummary is the result of one execution pass, kept in memory for
// the status endpoint.
type ExecutionSummary struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Buys       []ExecutedOrder `json:"buys"`
	Exits      []ExecutedOrder `json:"exits"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
}

// resolveEntryPrice turns an entry method into an order price and type.
// market_open is always a market order; without a live quote the previous
// close stands in as the sizing estimate.
func resolveEntryPrice(method string, prevClose, livePrice, premiumPct float64, logger *zap.Logger) (price float64, orderType string) {
	switch method {
	case models.EntryMarketOpen:
		if livePrice > 0 {
			return livePrice, broker.OrderTypeMarket
		}
		logger.Warn("No live price for market_open entry, sizing at prev_close",
			zap.Float64("prev_close", prevClose))
		return prevClose, broker.OrderTypeMarket
	case models.EntryLimitPremium:
		return prevClose * (1 + premiumPct/100), broker.OrderTypeLimit
	default: // prev_close
		return prevClose, broker.OrderTypeLimit
	}
}

// RunOrderExecution performs the start-of-day pass: pending exits first so
// their freed slots are available to new entries, then the buy list. Per
// symbol failures are recorded in the summary and never abort the pass; a
// failed phase marks the summary failed and is returned as an error. The
// pass is a no-op while auto-execution is disabled, manual runs included.
func (b *Bot) RunOrderExecution(ctx context.Context) (*ExecutionSummary, error) {
	settings, err := b.store.GetSettings()
	if err != nil {
		return nil, err
	}
	if !settings.AutoExecute {
		b.logger.Info("Auto-execute disabled, skipping order execution")
		return nil, nil
	}

	summary := &ExecutionSummary{StartedAt: b.now()}
	if err := b.ensureConnected(); err != nil && !settings.PaperTrading {
		return b.failExecution(summary, fmt.Errorf("broker not connected: %w", err))
	}

	b.logger.Info("Starting order execution",
		zap.Bool("paper_trading", settings.PaperTrading),
		zap.Bool("ab_test", settings.ABTestEnabled))
	b.hub.Broadcast("orders_executing", map[string]interface{}{"phase": "start"})

	summary.Exits, err = b.executeExits(ctx, settings)
	if err != nil {
		return b.failExecution(summary, err)
	}
	summary.Buys, err = b.executeBuys(ctx, settings)
	if err != nil {
		return b.failExecution(summary, err)
	}

	summary.Status = "success"
	summary.FinishedAt = b.now()
	b.setLastExecution(summary)
	b.logger.Info("Order execution complete",
		zap.Int("buys", len(summary.Buys)),
		zap.Int("exits", len(summary.Exits)))
	b.hub.Broadcast("orders_executed", map[string]interface{}{
		"buys":  summary.Buys,
		"exits": summary.Exits,
	})
	return summary, nil
}

// RunEODExecution buys the Group A candidates flagged during the day's
// scans. It runs shortly before the close so the entry price is as near to
// the daily close as the gateway allows.
func (b *Bot) RunEODExecution(ctx context.Context) (*ExecutionSummary, error) {
	settings, err := b.store.GetSettings()
	if err != nil {
		return nil, err
	}
	if !settings.AutoExecute {
		b.logger.Info("Auto-execute disabled, skipping EOD execution")
		return nil, nil
	}
	if !settings.ABTestEnabled {
		b.logger.Info("A/B test disabled, skipping EOD execution")
		return nil, nil
	}

	summary := &ExecutionSummary{StartedAt: b.now()}
	if err := b.ensureConnected(); err != nil && !settings.PaperTrading {
		return b.failExecution(summary, fmt.Errorf("broker not connected: %w", err))
	}

	candidates, err := b.store.EODBuyCandidates()
	if err != nil {
		return b.failExecution(summary, fmt.Errorf("list eod candidates: %w", err))
	}
	b.logger.Info("Starting EOD execution", zap.Int("candidates", len(candidates)))

	symbols := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		symbols = append(symbols, cand.Symbol)
	}
	prices := b.fetchLivePrices(symbols)

	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		// EOD entries chase the close, so they are always market orders.
		cand.EntryMethod = models.EntryMarketOpen
		order, ok := b.buyCandidate(ctx, settings, &cand, prices[cand.Symbol])
		if !ok {
			continue
		}
		summary.Buys = append(summary.Buys, *order)
		if err := b.store.ClearEODBuyPending(cand.Symbol, cand.ScanDate); err != nil {
			b.logger.Error("Failed to clear EOD pending flag",
				zap.String("symbol", cand.Symbol), zap.Error(err))
		}
	}

	summary.Status = "success"
	summary.FinishedAt = b.now()
	b.setLastExecution(summary)
	b.logger.Info("EOD execution complete", zap.Int("buys", len(summary.Buys)))
	b.hub.Broadcast("orders_executed", map[string]interface{}{
		"buys":  summary.Buys,
		"exits": []ExecutedOrder{},
	})
	return summary, nil
}

// failExecution records a failed pass so the status endpoint and socket
// clients see it, then returns the error to the caller.
func (b *Bot) failExecution(summary *ExecutionSummary, err error) (*ExecutionSummary, error) {
	summary.Status = "failed"
	summary.Error = err.Error()
	summary.FinishedAt = b.now()
	b.setLastExecution(summary)
	b.logger.Error("Execution pass failed", zap.Error(err))
	b.hub.Broadcast("orders_executed", map[string]interface{}{
		"status": "failed",
		"error":  summary.Error,
	})
	return summary, err
}

// fetchLivePrices quotes all symbols in a single round-trip. On failure it
// returns an empty map so callers apply their own missing-quote rules.
func (b *Bot) fetchLivePrices(symbols []string) map[string]float64 {
	if len(symbols) == 0 {
		return map[string]float64{}
	}
	prices, err := b.broker.FetchPrices(symbols)
	if err != nil || prices == nil {
		b.logger.Warn("Batch quote failed", zap.Error(err))
		return map[string]float64{}
	}
	return prices
}

// executeExits sells every position flagged pending_exit, quoting the whole
// batch at once. A position without a usable live price is left open and
// pending so the next pass retries it.
func (b *Bot) executeExits(ctx context.Context, settings *models.Settings) ([]ExecutedOrder, error) {
	positions, err := b.store.PendingExitPositions()
	if err != nil {
		return nil, fmt.Errorf("list pending exits: %w", err)
	}
	if len(positions) == 0 {
		return nil, nil
	}

	symbols := make([]string, 0, len(positions))
	for _, pos := range positions {
		symbols = append(symbols, pos.Symbol)
	}
	prices := b.fetchLivePrices(symbols)

	var executed []ExecutedOrder
	today := b.now().In(schedule.MarketTZ()).Format(schedule.DateLayout)

	for _, pos := range positions {
		if ctx.Err() != nil {
			break
		}

		livePrice := prices[pos.Symbol]
		if livePrice <= 0 {
			b.logger.Warn("No live price for exit, leaving position open",
				zap.String("symbol", pos.Symbol))
			continue
		}

		exitPrice := livePrice
		if !settings.PaperTrading {
			handle, err := b.broker.PlaceMarketOrder(pos.Symbol, pos.Quantity, broker.SideSell)
			if err != nil {
				b.logger.Error("Exit order failed",
					zap.String("symbol", pos.Symbol), zap.Error(err))
				continue
			}
			if fill := broker.AwaitFill(ctx, b.broker, handle, b.fillTimeout, b.logger); fill > 0 {
				exitPrice = fill
			} else {
				b.logger.Warn("Exit fill unconfirmed, accounting at live price",
					zap.String("symbol", pos.Symbol),
					zap.Float64("live_price", livePrice))
			}
		}

		proceeds := exitPrice * float64(pos.Quantity)
		pnl := proceeds - pos.CostBasis
		pnlPct := 0.0
		if pos.CostBasis > 0 {
			pnlPct = pnl / pos.CostBasis * 100
		}

		err = b.store.CloseTradeAndPosition(pos.TradeID, pos.Symbol, today,
			exitPrice, proceeds, pnl, pnlPct, pos.ExitReason, pos.StopLoss)
		if err != nil {
			b.logger.Error("Failed to close trade",
				zap.String("symbol", pos.Symbol), zap.Error(err))
			continue
		}
		if err := b.store.SetPortfolioFlag(pos.Symbol, false); err != nil {
			b.logger.Warn("Failed to clear portfolio flag",
				zap.String("symbol", pos.Symbol), zap.Error(err))
		}

		b.logger.Info("Position closed",
			zap.String("symbol", pos.Symbol),
			zap.Float64("exit_price", exitPrice),
			zap.Float64("pnl", pnl),
			zap.String("reason", pos.ExitReason))
		executed = append(executed, ExecutedOrder{
			Symbol:   pos.Symbol,
			Side:     broker.SideSell,
			Quantity: pos.Quantity,
			Price:    exitPrice,
			Status:   "closed",
		})
	}
	return executed, nil
}

// entryStrategy selects and vets the buy candidates for one execution
// pass. Swapping the strategy changes which candidates are bought and how
// they are re-checked, never the exit-then-buy contract around it.
type entryStrategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// ScanDate returns the scan session the strategy buys from.
	ScanDate(now time.Time) string

	// Candidates returns the buy list for a scan date.
	Candidates(scanDate string) ([]models.ScanResult, error)

	// Approve gives the strategy a final veto per candidate at buy time.
	Approve(cand *models.ScanResult, scanDate string, livePrice float64) bool
}

// allQualifiedStrategy buys every candidate from today's scan at start of
// day.
type allQualifiedStrategy struct{ bot *Bot }

func (s *allQualifiedStrategy) Name() string { return "all_qualified" }

func (s *allQualifiedStrategy) ScanDate(now time.Time) string {
	return now.In(schedule.MarketTZ()).Format(schedule.DateLayout)
}

func (s *allQualifiedStrategy) Candidates(scanDate string) ([]models.ScanResult, error) {
	return s.bot.store.ScanResults(scanDate)
}

func (s *allQualifiedStrategy) Approve(*models.ScanResult, string, float64) bool { return true }

// groupBStrategy buys cohort B from the prior session's scan at start of
// day, each candidate re-verified against fresh data with the overnight
// gap-up guard. A candidate that survives re-verification enters at the
// open. Cohort A is handled by the end-of-day pass instead.
type groupBStrategy struct{ bot *Bot }

func (s *groupBStrategy) Name() string { return "group_b_reverify" }

func (s *groupBStrategy) ScanDate(now time.Time) string {
	return now.In(schedule.MarketTZ()).AddDate(0, 0, -1).Format(schedule.DateLayout)
}

func (s *groupBStrategy) Candidates(scanDate string) ([]models.ScanResult, error) {
	return s.bot.store.GroupBCandidates(scanDate)
}

func (s *groupBStrategy) Approve(cand *models.ScanResult, scanDate string, livePrice float64) bool {
	if !s.bot.verifyGroupB(cand, scanDate, livePrice) {
		return false
	}
	cand.EntryMethod = models.EntryMarketOpen
	return true
}

func (b *Bot) entryStrategyFor(settings *models.Settings) entryStrategy {
	if settings.ABTestEnabled {
		return &groupBStrategy{bot: b}
	}
	return &allQualifiedStrategy{bot: b}
}

// executeBuys enters the day's candidates as chosen by the entry strategy,
// quoting the whole eligible batch at once.
func (b *Bot) executeBuys(ctx context.Context, settings *models.Settings) ([]ExecutedOrder, error) {
	strategy := b.entryStrategyFor(settings)
	scanDate := strategy.ScanDate(b.now())
	results, err := strategy.Candidates(scanDate)
	if err != nil {
		return nil, fmt.Errorf("load buy candidates (%s): %w", strategy.Name(), err)
	}

	var candidates []*models.ScanResult
	var symbols []string
	for i := range results {
		cand := &results[i]
		if !cand.Qualified || cand.Override || cand.InPortfolio {
			continue
		}
		candidates = append(candidates, cand)
		symbols = append(symbols, cand.Symbol)
	}
	if len(candidates) == 0 {
		b.logger.Info("No buy candidates",
			zap.String("strategy", strategy.Name()),
			zap.String("scan_date", scanDate))
		return nil, nil
	}
	prices := b.fetchLivePrices(symbols)

	var executed []ExecutedOrder
	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		if !strategy.Approve(cand, scanDate, prices[cand.Symbol]) {
			continue
		}
		order, ok := b.buyCandidate(ctx, settings, cand, prices[cand.Symbol])
		if !ok {
			continue
		}
		executed = append(executed, *order)
	}
	return executed, nil
}

// verifyGroupB re-runs the qualification for a Group B candidate on the
// morning of the buy. Overnight gap-ups above maxGapUpRatio are rejected.
func (b *Bot) verifyGroupB(cand *models.ScanResult, scanDate string, livePrice float64) bool {
	qualified, err := b.RescanSymbol(cand.Symbol, livePrice)
	if err != nil {
		b.logger.Warn("Cannot re-verify candidate",
			zap.String("symbol", cand.Symbol), zap.Error(err))
		b.markSkip(cand.Symbol, scanDate, SkipNoScannerData)
		return false
	}
	if !qualified {
		b.markSkip(cand.Symbol, scanDate, SkipCriteriaFailed)
		return false
	}

	if livePrice > 0 && cand.Price > 0 && livePrice > cand.Price*maxGapUpRatio {
		b.logger.Info("Gap-up beyond limit, skipping",
			zap.String("symbol", cand.Symbol),
			zap.Float64("scan_price", cand.Price),
			zap.Float64("live_price", livePrice))
		b.markSkip(cand.Symbol, scanDate, SkipGapUpExcessive)
		return false
	}
	return true
}

func (b *Bot) markSkip(symbol, scanDate, reason string) {
	if err := b.store.MarkSODSkip(symbol, scanDate, reason); err != nil {
		b.logger.Error("Failed to record skip reason",
			zap.String("symbol", symbol), zap.Error(err))
	}
}

// buyCandidate sizes, places and records one entry. It returns false when
// the candidate was skipped or the order could not be completed.
func (b *Bot) buyCandidate(ctx context.Context, settings *models.Settings, cand *models.ScanResult, livePrice float64) (*ExecutedOrder, bool) {
	open, err := b.store.OpenPositions()
	if err != nil {
		b.logger.Error("Failed to count open positions", zap.Error(err))
		return nil, false
	}
	if len(open) >= settings.MaxPositions {
		b.logger.Info("Max positions reached, skipping buy",
			zap.String("symbol", cand.Symbol),
			zap.Int("max", settings.MaxPositions))
		return nil, false
	}

	method := cand.EntryMethod
	if method == "" {
		method = settings.DefaultEntryMethod
	}

	price, orderType := resolveEntryPrice(method, cand.Price, livePrice, settings.LimitPremiumPct, b.logger)
	if price <= 0 {
		b.logger.Warn("No usable entry price, skipping",
			zap.String("symbol", cand.Symbol), zap.String("method", method))
		return nil, false
	}

	quantity := int(settings.PositionSizeUSD / price)
	if quantity < 1 {
		quantity = 1
	}

	submittedPrice := price
	fillPrice := price
	if !settings.PaperTrading {
		var handle *broker.OrderHandle
		if orderType == broker.OrderTypeMarket {
			handle, err = b.broker.PlaceMarketOrder(cand.Symbol, quantity, broker.SideBuy)
		} else {
			handle, err = b.broker.PlaceLimitOrder(cand.Symbol, quantity, broker.SideBuy, price)
		}
		if err != nil {
			b.logger.Error("Buy order failed",
				zap.String("symbol", cand.Symbol), zap.Error(err))
			return nil, false
		}
		if fill := broker.AwaitFill(ctx, b.broker, handle, b.fillTimeout, b.logger); fill > 0 {
			fillPrice = fill
		} else {
			b.logger.Warn("Fill unconfirmed, accounting at submitted price",
				zap.String("symbol", cand.Symbol),
				zap.Float64("submitted", submittedPrice))
		}
	}

	stopLoss := fillPrice * (1 - settings.StopLossPct/100)
	costBasis := fillPrice * float64(quantity)
	entryDate := b.now().In(schedule.MarketTZ()).Format(schedule.DateLayout)

	trade := &models.Trade{
		Symbol:         cand.Symbol,
		EntryDate:      entryDate,
		EntryPrice:     fillPrice,
		SubmittedPrice: submittedPrice,
		Quantity:       quantity,
		CostBasis:      costBasis,
		StopLoss:       stopLoss,
	}
	tradeID, err := b.store.CreateTrade(trade)
	if err != nil {
		b.logger.Error("Failed to record trade",
			zap.String("symbol", cand.Symbol), zap.Error(err))
		return nil, false
	}

	pos := &models.Position{
		Symbol:         cand.Symbol,
		EntryDate:      entryDate,
		EntryPrice:     fillPrice,
		SubmittedPrice: submittedPrice,
		Quantity:       quantity,
		StopLoss:       stopLoss,
		CostBasis:      costBasis,
		TradeID:        tradeID,
	}
	if err := b.store.SavePosition(pos); err != nil {
		b.logger.Error("Failed to record position",
			zap.String("symbol", cand.Symbol), zap.Error(err))
		return nil, false
	}
	if err := b.store.SetPortfolioFlag(cand.Symbol, true); err != nil {
		b.logger.Warn("Failed to set portfolio flag",
			zap.String("symbol", cand.Symbol), zap.Error(err))
	}

	b.logger.Info("Position opened",
		zap.String("symbol", cand.Symbol),
		zap.Int("quantity", quantity),
		zap.Float64("fill_price", fillPrice),
		zap.Float64("stop_loss", stopLoss),
		zap.String("method", method))
	return &ExecutedOrder{
		Symbol:   cand.Symbol,
		Side:     broker.SideBuy,
		Quantity: quantity,
		Price:    fillPrice,
		Status:   "filled",
	}, true
}
