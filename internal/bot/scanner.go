package bot

import (
	"context"
	"fmt"
	"hash/fnv"

	"momentum-trader-go/internal/models"
	"momentum-trader-go/internal/schedule"

	"go.uber.org/zap"
)

const (
	// week52Bars approximates one trading year of daily bars.
	week52Bars = 250

	// minScanBars is the history needed to evaluate every criterion: 200
	// bars for the long average plus 22 to compare it against a month ago.
	minScanBars = 222

	// indexSymbol is the market-health proxy. No candidate qualifies while
	// the index trades below its 50-day average.
	indexSymbol = "SPY"

	// volumeSurgeRatio is the minimum ratio of current volume to the
	// 50-day average for the volume criterion.
	volumeSurgeRatio = 1.5
)

// ScanOutcome summarizes one scan pass.
type ScanOutcome struct {
	Total     int    `json:"total"`
	Qualified int    `json:"qualified"`
	ScanDate  string `json:"scan_date"`
}

// movingAverage returns the mean close of the n bars ending endOffset bars
// before the last one. Zero when not enough history.
func movingAverage(bars []models.DailyBar, n, endOffset int) float64 {
	end := len(bars) - endOffset
	start := end - n
	if start < 0 || n == 0 {
		return 0
	}
	sum := 0.0
	for _, bar := range bars[start:end] {
		sum += bar.Close
	}
	return sum / float64(n)
}

func avgVolume(bars []models.DailyBar, n int) int64 {
	start := len(bars) - n
	if start < 0 {
		return 0
	}
	var sum int64
	for _, bar := range bars[start:] {
		sum += bar.Volume
	}
	return sum / int64(n)
}

// evaluateCriteria runs the eight momentum checks against a bar history and
// the current price. The caller guarantees len(bars) >= minScanBars.
func evaluateCriteria(bars []models.DailyBar, price float64) *models.ScanResult {
	window := bars
	if len(window) > week52Bars {
		window = window[len(window)-week52Bars:]
	}
	high52 := window[0].High
	low52 := window[0].Low
	for _, bar := range window[1:] {
		if bar.High > high52 {
			high52 = bar.High
		}
		if bar.Low < low52 {
			low52 = bar.Low
		}
	}

	ma50 := movingAverage(bars, 50, 0)
	ma150 := movingAverage(bars, 150, 0)
	ma200 := movingAverage(bars, 200, 0)
	ma200MonthAgo := movingAverage(bars, 200, 22)
	avgVol50 := avgVolume(bars, 50)
	volume := bars[len(bars)-1].Volume

	result := &models.ScanResult{
		Price:         price,
		Week52High:    high52,
		Week52Low:     low52,
		MA50:          ma50,
		MA150:         ma150,
		MA200:         ma200,
		MA200MonthAgo: ma200MonthAgo,
		Volume:        volume,
		AvgVolume50:   avgVol50,
	}

	result.Criteria1 = price > ma150 && price > ma200
	result.Criteria2 = ma150 > ma200
	result.Criteria3 = ma200 > ma200MonthAgo
	result.Criteria4 = ma50 > ma150 && ma50 > ma200
	result.Criteria5 = price > ma50
	result.Criteria6 = low52 > 0 && price >= low52*1.3
	result.Criteria7 = high52 > 0 && price >= high52*0.95
	result.Criteria8 = avgVol50 > 0 && float64(volume) >= float64(avgVol50)*volumeSurgeRatio

	result.Qualified = result.Criteria1 && result.Criteria2 && result.Criteria3 &&
		result.Criteria4 && result.Criteria5 && result.Criteria6 &&
		result.Criteria7 && result.Criteria8
	return result
}

// checkIndexHealth updates the cached market-health flag: the index must
// trade above its 50-day average. Missing index history is treated as
// healthy so a fresh install is not permanently blocked from scanning.
func (b *Bot) checkIndexHealth(livePrices map[string]float64) bool {
	bars, err := b.store.DailyBars(indexSymbol, week52Bars)
	if err != nil || len(bars) < 50 {
		b.logger.Warn("Insufficient index history, assuming healthy market",
			zap.String("symbol", indexSymbol), zap.Int("bars", len(bars)))
		b.setSpyQualified(true)
		return true
	}

	price := livePrices[indexSymbol]
	if price <= 0 {
		price = bars[len(bars)-1].Close
	}
	healthy := price > movingAverage(bars, 50, 0)
	if !healthy {
		b.logger.Warn("Index below 50-day average, market unhealthy",
			zap.String("symbol", indexSymbol), zap.Float64("price", price))
	}
	b.setSpyQualified(healthy)
	return healthy
}

func (b *Bot) setSpyQualified(v bool) {
	b.mu.Lock()
	b.spyQualified = v
	b.mu.Unlock()
}

// MarketHealthy reports the result of the last index health check.
func (b *Bot) MarketHealthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spyQualified
}

// RunScan evaluates every active ticker against the entry criteria and
// persists one result per symbol for today. Symbols without enough history
// are stored as unqualified so the UI can show why they were passed over.
func (b *Bot) RunScan(ctx context.Context) (*ScanOutcome, error) {
	tickers, err := b.store.ActiveTickers()
	if err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		b.logger.Info("No active tickers, skipping scan")
		return nil, nil
	}

	scanDate := b.now().In(schedule.MarketTZ()).Format(schedule.DateLayout)
	outcome := &ScanOutcome{Total: len(tickers), ScanDate: scanDate}

	livePrices, err := b.broker.FetchPrices(append([]string{indexSymbol}, tickers...))
	if err != nil {
		b.logger.Warn("Live prices unavailable, scanning on last close", zap.Error(err))
		livePrices = map[string]float64{}
	}
	marketHealthy := b.checkIndexHealth(livePrices)

	settings, err := b.store.GetSettings()
	if err != nil {
		return nil, err
	}

	openPositions, err := b.store.OpenPositions()
	if err != nil {
		return nil, err
	}
	held := make(map[string]bool, len(openPositions))
	for _, pos := range openPositions {
		held[pos.Symbol] = true
	}

	for _, symbol := range tickers {
		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}

		result, err := b.scanSymbol(symbol, livePrices[symbol])
		if err != nil {
			b.logger.Error("Scan failed for symbol",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		result.ScanDate = scanDate
		result.Symbol = symbol
		result.InPortfolio = held[symbol]
		if !marketHealthy {
			result.Qualified = false
		}
		if result.Qualified {
			result.Action = "BUY"
			outcome.Qualified++
			if settings.ABTestEnabled {
				result.ABGroup = assignABGroup(symbol)
			}
		}

		if err := b.store.SaveScanResult(result); err != nil {
			b.logger.Error("Failed to save scan result",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if result.Qualified && result.ABGroup == models.GroupA && !result.InPortfolio {
			if err := b.store.MarkEODBuyPending(symbol, scanDate); err != nil {
				b.logger.Error("Failed to flag EOD buy",
					zap.String("symbol", symbol), zap.Error(err))
			}
		}
	}

	b.logger.Info("Scan complete",
		zap.String("scan_date", scanDate),
		zap.Int("total", outcome.Total),
		zap.Int("qualified", outcome.Qualified))
	b.hub.Broadcast("scan_complete", outcome)
	return outcome, nil
}

// scanSymbol evaluates one symbol. A symbol with too little history yields
// an unqualified result rather than an error.
func (b *Bot) scanSymbol(symbol string, livePrice float64) (*models.ScanResult, error) {
	bars, err := b.store.DailyBars(symbol, week52Bars)
	if err != nil {
		return nil, err
	}
	if len(bars) < minScanBars {
		return &models.ScanResult{
			Price:  livePrice,
			Action: "INSUFFICIENT_DATA",
		}, nil
	}

	price := livePrice
	if price <= 0 {
		price = bars[len(bars)-1].Close
	}
	return evaluateCriteria(bars, price), nil
}

// RescanSymbol re-evaluates one symbol on demand at the given live price,
// falling back to the last close when no quote is supplied. It returns
// whether the symbol currently qualifies; insufficient history is an error
// because the caller needs a definitive verdict.
func (b *Bot) RescanSymbol(symbol string, livePrice float64) (bool, error) {
	bars, err := b.store.DailyBars(symbol, week52Bars)
	if err != nil {
		return false, err
	}
	if len(bars) < minScanBars {
		return false, fmt.Errorf("insufficient history for %s: %d bars", symbol, len(bars))
	}

	price := livePrice
	if price <= 0 {
		price = bars[len(bars)-1].Close
	}
	result := evaluateCriteria(bars, price)
	return result.Qualified && b.checkIndexHealth(nil), nil
}

// assignABGroup deterministically buckets a symbol into cohort A or B so
// repeated scans keep a symbol in the same cohort.
func assignABGroup(symbol string) string {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	if h.Sum32()%2 == 0 {
		return models.GroupA
	}
	return models.GroupB
}

// CheckExitTriggers flags open positions whose live price breached the stop
// loss or closed below the 50-day average. Flagged positions are sold at
// the next execution pass, not immediately.
func (b *Bot) CheckExitTriggers(ctx context.Context) error {
	positions, err := b.store.OpenPositions()
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}

	symbols := make([]string, 0, len(positions))
	for _, pos := range positions {
		symbols = append(symbols, pos.Symbol)
	}
	prices, err := b.broker.FetchPrices(symbols)
	if err != nil {
		return fmt.Errorf("exit check: %w", err)
	}

	for _, pos := range positions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if pos.PendingExit {
			continue
		}
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 {
			continue
		}

		reason := ""
		switch {
		case price <= pos.StopLoss:
			reason = models.ExitStopLoss
		default:
			bars, err := b.store.DailyBars(pos.Symbol, week52Bars)
			if err == nil && len(bars) >= 50 {
				if ma50 := movingAverage(bars, 50, 0); ma50 > 0 && price < ma50 {
					reason = models.ExitTrendBreak
				}
			}
		}
		if reason == "" {
			continue
		}

		if err := b.store.FlagPendingExit(pos.Symbol, reason); err != nil {
			b.logger.Error("Failed to flag exit",
				zap.String("symbol", pos.Symbol), zap.Error(err))
			continue
		}
		b.logger.Info("Exit trigger",
			zap.String("symbol", pos.Symbol),
			zap.Float64("price", price),
			zap.Float64("stop_loss", pos.StopLoss),
			zap.String("reason", reason))
		b.hub.Broadcast("exit_triggered", map[string]interface{}{
			"symbol": pos.Symbol,
			"price":  price,
			"reason": reason,
		})
	}
	return nil
}
