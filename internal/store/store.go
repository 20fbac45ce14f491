package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"momentum-trader-go/internal/models"
	"momentum-trader-go/internal/schedule"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAlreadyRunning is returned by BeginDataUpdate when another run holds
// the single-flight guard. Callers treat it as a clean no-op.
var ErrAlreadyRunning = errors.New("data update already running")

// ErrPositionExists is returned when saving a position for a symbol that
// already has an open one.
var ErrPositionExists = errors.New("open position already exists for symbol")

// Store wraps the database with the operations the bot needs. All
// multi-write mutations happen inside a transaction so a crash cannot
// leave positions and trades disagreeing about open/closed state.
type Store struct {
	db *gorm.DB
}

// New creates a Store over an already-migrated gorm DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for the HTTP layer's read-only queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// --- Tickers -------------------------------------------------------------

// AddTicker inserts a ticker or re-activates a previously removed one.
func (s *Store) AddTicker(symbol, name, sector string) error {
	ticker := models.Ticker{Symbol: symbol, Name: name, Sector: sector, Active: true}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"active", "name", "sector"}),
	}).Create(&ticker).Error
	if err != nil {
		return fmt.Errorf("failed to add ticker %s: %w", symbol, err)
	}
	return nil
}

// RemoveTicker soft-deletes a ticker by deactivating it. Bars and trade
// history referencing the symbol are kept.
func (s *Store) RemoveTicker(symbol string) error {
	result := s.db.Model(&models.Ticker{}).Where("symbol = ?", symbol).Update("active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to remove ticker %s: %w", symbol, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("ticker %s not found", symbol)
	}
	return nil
}

// ActiveTickers returns the active universe in deterministic symbol order,
// which fixes the processing order of every update pass.
func (s *Store) ActiveTickers() ([]string, error) {
	var symbols []string
	err := s.db.Model(&models.Ticker{}).
		Where("active = ?", true).
		Order("symbol asc").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active tickers: %w", err)
	}
	return symbols, nil
}

// AllTickers returns every ticker row, active or not.
func (s *Store) AllTickers() ([]models.Ticker, error) {
	var tickers []models.Ticker
	if err := s.db.Order("symbol asc").Find(&tickers).Error; err != nil {
		return nil, fmt.Errorf("failed to list tickers: %w", err)
	}
	return tickers, nil
}

// --- Daily bars ----------------------------------------------------------

// SaveDailyBars upserts bars by (symbol, trading_date). A re-fetch of the
// same date overwrites the stored values.
func (s *Store) SaveDailyBars(bars []models.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "trading_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
	}).Create(&bars).Error
	if err != nil {
		return fmt.Errorf("failed to save daily bars: %w", err)
	}
	return nil
}

// LatestBarDate returns the most recent stored trading date for a symbol,
// or nil when the symbol has no history.
func (s *Store) LatestBarDate(symbol string) (*time.Time, error) {
	var bar models.DailyBar
	err := s.db.Where("symbol = ?", symbol).Order("trading_date desc").First(&bar).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest bar date for %s: %w", symbol, err)
	}
	parsed, err := time.Parse(schedule.DateLayout, bar.TradingDate)
	if err != nil {
		return nil, fmt.Errorf("corrupt trading date %q for %s: %w", bar.TradingDate, symbol, err)
	}
	return &parsed, nil
}

// DailyBars returns up to limit most recent bars for a symbol in
// chronological order (oldest first).
func (s *Store) DailyBars(symbol string, limit int) ([]models.DailyBar, error) {
	var bars []models.DailyBar
	err := s.db.Where("symbol = ?", symbol).
		Order("trading_date desc").
		Limit(limit).
		Find(&bars).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get bars for %s: %w", symbol, err)
	}
	// Reverse to chronological order.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// --- Scan results --------------------------------------------------------

// SaveScanResult upserts one qualification outcome by (scan_date, symbol).
func (s *Store) SaveScanResult(result *models.ScanResult) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scan_date"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"price", "week_52_high", "week_52_low", "ma_50", "ma_150", "ma_200",
			"ma_200_1m_ago", "volume", "avg_volume_50",
			"criteria_1", "criteria_2", "criteria_3", "criteria_4",
			"criteria_5", "criteria_6", "criteria_7", "criteria_8",
			"qualified", "action", "in_portfolio", "ab_group",
		}),
	}).Create(result).Error
	if err != nil {
		return fmt.Errorf("failed to save scan result for %s: %w", result.Symbol, err)
	}
	return nil
}

// ScanResults returns all results for a scan date, sorted by symbol.
func (s *Store) ScanResults(scanDate string) ([]models.ScanResult, error) {
	var results []models.ScanResult
	err := s.db.Where("scan_date = ?", scanDate).Order("symbol asc").Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get scan results for %s: %w", scanDate, err)
	}
	return results, nil
}

// LatestScanResults returns the results of the most recent scan date, or
// nothing when no scan has run yet.
func (s *Store) LatestScanResults() ([]models.ScanResult, error) {
	// max() over an empty table yields NULL, which a plain string cannot
	// receive.
	var latest sql.NullString
	err := s.db.Model(&models.ScanResult{}).
		Select("max(scan_date)").
		Scan(&latest).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find latest scan date: %w", err)
	}
	if !latest.Valid || latest.String == "" {
		return nil, nil
	}
	return s.ScanResults(latest.String)
}

// SetScanOverride flips the user veto flag on the latest result for symbol.
func (s *Store) SetScanOverride(symbol string, override bool) error {
	return s.updateLatestScan(symbol, "override", override)
}

// SetScanEntryMethod sets the per-candidate entry method.
func (s *Store) SetScanEntryMethod(symbol, method string) error {
	return s.updateLatestScan(symbol, "entry_method", method)
}

// SetPortfolioFlag marks whether a symbol is currently held, so the next
// scan-results read already carries the flag.
func (s *Store) SetPortfolioFlag(symbol string, inPortfolio bool) error {
	err := s.db.Model(&models.ScanResult{}).
		Where("symbol = ?", symbol).
		Update("in_portfolio", inPortfolio).Error
	if err != nil {
		return fmt.Errorf("failed to set portfolio flag for %s: %w", symbol, err)
	}
	return nil
}

func (s *Store) updateLatestScan(symbol, column string, value interface{}) error {
	var latest models.ScanResult
	err := s.db.Where("symbol = ?", symbol).Order("scan_date desc").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("no scan result for %s", symbol)
	}
	if err != nil {
		return fmt.Errorf("failed to find scan result for %s: %w", symbol, err)
	}
	if err := s.db.Model(&latest).Update(column, value).Error; err != nil {
		return fmt.Errorf("failed to update %s for %s: %w", column, symbol, err)
	}
	return nil
}

// GroupBCandidates returns the qualified, non-overridden Group B results
// from a given scan date (the prior session, under A/B testing).
func (s *Store) GroupBCandidates(scanDate string) ([]models.ScanResult, error) {
	var results []models.ScanResult
	err := s.db.Where("scan_date = ? AND ab_group = ? AND qualified = ? AND override = ?",
		scanDate, models.GroupB, true, false).
		Order("symbol asc").
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get group B candidates: %w", err)
	}
	return results, nil
}

// EODBuyCandidates returns Group A results still awaiting their end-of-day
// buy pass.
func (s *Store) EODBuyCandidates() ([]models.ScanResult, error) {
	var results []models.ScanResult
	err := s.db.Where("eod_buy_pending = ? AND override = ?", true, false).
		Order("symbol asc").
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get EOD buy candidates: %w", err)
	}
	return results, nil
}

// MarkEODBuyPending tags a Group A candidate for the EOD pass.
func (s *Store) MarkEODBuyPending(symbol, scanDate string) error {
	return s.updateScanFlag(symbol, scanDate, map[string]interface{}{"eod_buy_pending": true})
}

// ClearEODBuyPending clears the tag once the candidate was bought.
func (s *Store) ClearEODBuyPending(symbol, scanDate string) error {
	return s.updateScanFlag(symbol, scanDate, map[string]interface{}{"eod_buy_pending": false})
}

// MarkSODSkip records why a Group B candidate was rejected at the
// start-of-day re-verification.
func (s *Store) MarkSODSkip(symbol, scanDate, reason string) error {
	return s.updateScanFlag(symbol, scanDate, map[string]interface{}{"sod_skip_reason": reason})
}

func (s *Store) updateScanFlag(symbol, scanDate string, values map[string]interface{}) error {
	err := s.db.Model(&models.ScanResult{}).
		Where("symbol = ? AND scan_date = ?", symbol, scanDate).
		Updates(values).Error
	if err != nil {
		return fmt.Errorf("failed to update scan flags for %s: %w", symbol, err)
	}
	return nil
}

// --- Positions -----------------------------------------------------------

// SavePosition inserts a new open position. At most one open position may
// exist per symbol.
func (s *Store) SavePosition(pos *models.Position) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&models.Position{}).
			Where("symbol = ? AND status = ?", pos.Symbol, models.PositionOpen).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("failed to check open positions for %s: %w", pos.Symbol, err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrPositionExists, pos.Symbol)
		}
		pos.Status = models.PositionOpen
		if err := tx.Create(pos).Error; err != nil {
			return fmt.Errorf("failed to save position for %s: %w", pos.Symbol, err)
		}
		return nil
	})
}

// OpenPositions returns all open positions sorted by symbol.
func (s *Store) OpenPositions() ([]models.Position, error) {
	var positions []models.Position
	err := s.db.Where("status = ?", models.PositionOpen).Order("symbol asc").Find(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}
	return positions, nil
}

// PendingExitPositions returns open positions flagged for liquidation.
func (s *Store) PendingExitPositions() ([]models.Position, error) {
	var positions []models.Position
	err := s.db.Where("status = ? AND pending_exit = ?", models.PositionOpen, true).
		Order("symbol asc").
		Find(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending exits: %w", err)
	}
	return positions, nil
}

// FlagPendingExit marks an open position for the next execution pass.
func (s *Store) FlagPendingExit(symbol, reason string) error {
	result := s.db.Model(&models.Position{}).
		Where("symbol = ? AND status = ?", symbol, models.PositionOpen).
		Updates(map[string]interface{}{"pending_exit": true, "exit_reason": reason})
	if result.Error != nil {
		return fmt.Errorf("failed to flag pending exit for %s: %w", symbol, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no open position for %s", symbol)
	}
	return nil
}

// --- Trades --------------------------------------------------------------

// CreateTrade inserts a new open trade and returns its ID.
func (s *Store) CreateTrade(trade *models.Trade) (uint, error) {
	trade.Status = models.TradeOpen
	if err := s.db.Create(trade).Error; err != nil {
		return 0, fmt.Errorf("failed to create trade for %s: %w", trade.Symbol, err)
	}
	return trade.ID, nil
}

// Trades returns trades, optionally filtered by status, most recent first.
func (s *Store) Trades(status string, limit int) ([]models.Trade, error) {
	query := s.db.Order("id desc").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var trades []models.Trade
	if err := query.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

// CloseTradeAndPosition closes a trade and its position in one transaction.
// The position's stop loss is frozen onto the trade row so a later reopen
// restores the original risk parameter.
func (s *Store) CloseTradeAndPosition(tradeID uint, symbol, exitDate string,
	exitPrice, proceeds, pnl, pnlPct float64, exitReason string, stopLoss float64) error {

	return s.db.Transaction(func(tx *gorm.DB) error {
		if tradeID != 0 {
			err := tx.Model(&models.Trade{}).Where("id = ?", tradeID).Updates(map[string]interface{}{
				"status":      models.TradeClosed,
				"exit_date":   exitDate,
				"exit_price":  exitPrice,
				"proceeds":    proceeds,
				"pnl":         pnl,
				"pnl_pct":     pnlPct,
				"exit_reason": exitReason,
				"stop_loss":   stopLoss,
			}).Error
			if err != nil {
				return fmt.Errorf("failed to close trade %d: %w", tradeID, err)
			}
		}

		err := tx.Model(&models.Position{}).
			Where("symbol = ? AND status = ?", symbol, models.PositionOpen).
			Updates(map[string]interface{}{
				"status":       models.PositionClosed,
				"pending_exit": false,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to close position for %s: %w", symbol, err)
		}
		return nil
	})
}

// ReopenTrade reverts a mistakenly-closed trade: the exit fields are
// cleared and the position is reinserted with the stop loss that was frozen
// on the trade at close time. Both writes share one transaction.
func (s *Store) ReopenTrade(tradeID uint) (*models.Position, error) {
	var pos *models.Position
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var trade models.Trade
		if err := tx.First(&trade, tradeID).Error; err != nil {
			return fmt.Errorf("trade %d not found: %w", tradeID, err)
		}
		if trade.Status != models.TradeClosed {
			return fmt.Errorf("trade %d is not closed", tradeID)
		}

		var count int64
		err := tx.Model(&models.Position{}).
			Where("symbol = ? AND status = ?", trade.Symbol, models.PositionOpen).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrPositionExists, trade.Symbol)
		}

		err = tx.Model(&trade).Updates(map[string]interface{}{
			"status":      models.TradeOpen,
			"exit_date":   "",
			"exit_price":  0,
			"proceeds":    0,
			"pnl":         0,
			"pnl_pct":     0,
			"exit_reason": "",
		}).Error
		if err != nil {
			return fmt.Errorf("failed to reopen trade %d: %w", tradeID, err)
		}

		pos = &models.Position{
			Symbol:         trade.Symbol,
			EntryDate:      trade.EntryDate,
			EntryPrice:     trade.EntryPrice,
			SubmittedPrice: trade.SubmittedPrice,
			Quantity:       trade.Quantity,
			StopLoss:       trade.StopLoss, // frozen at close, not the config default
			CostBasis:      trade.CostBasis,
			Status:         models.PositionOpen,
			TradeID:        trade.ID,
		}
		if err := tx.Create(pos).Error; err != nil {
			return fmt.Errorf("failed to reinsert position for %s: %w", trade.Symbol, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// --- Settings ------------------------------------------------------------

// GetSettings returns the singleton settings row.
func (s *Store) GetSettings() (*models.Settings, error) {
	var settings models.Settings
	if err := s.db.First(&settings).Error; err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return &settings, nil
}

// UpdateSettings persists the full settings row.
func (s *Store) UpdateSettings(settings *models.Settings) error {
	if err := s.db.Save(settings).Error; err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	return nil
}

// --- Update status (single-flight guard) ---------------------------------

// GetUpdateStatus returns the singleton update-status row.
func (s *Store) GetUpdateStatus() (*models.UpdateStatus, error) {
	var status models.UpdateStatus
	if err := s.db.First(&status).Error; err != nil {
		return nil, fmt.Errorf("failed to load update status: %w", err)
	}
	return &status, nil
}

// BeginDataUpdate atomically transitions the update status into "running".
// The conditional write makes the read-then-set race-free: of two
// near-simultaneous callers exactly one sees RowsAffected == 1, the other
// gets ErrAlreadyRunning.
func (s *Store) BeginDataUpdate() error {
	result := s.db.Model(&models.UpdateStatus{}).
		Where("status <> ?", models.UpdateRunning).
		Updates(map[string]interface{}{"status": models.UpdateRunning, "last_error": ""})
	if result.Error != nil {
		return fmt.Errorf("failed to begin data update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyRunning
	}
	return nil
}

// FinishDataUpdate records the terminal state of a run. A success clears
// any prior error.
func (s *Store) FinishDataUpdate(status, errMsg string) error {
	now := time.Now()
	err := s.db.Model(&models.UpdateStatus{}).
		Where("1 = 1").
		Updates(map[string]interface{}{
			"status":     status,
			"last_error": errMsg,
			"last_run":   &now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to finish data update: %w", err)
	}
	return nil
}

// --- Scheduler checkpoints -----------------------------------------------

// GetCheckpoint returns the persisted checkpoint for a job, creating an
// empty one on first access so a fresh state is explicit rather than an
// error.
func (s *Store) GetCheckpoint(job string) (*models.SchedulerCheckpoint, error) {
	var cp models.SchedulerCheckpoint
	err := s.db.Where(models.SchedulerCheckpoint{Job: job}).FirstOrCreate(&cp).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint for %s: %w", job, err)
	}
	return &cp, nil
}

// SaveCheckpoint records that a job fired on a date with a trigger time in
// effect.
func (s *Store) SaveCheckpoint(job, executionDate, triggerTime string) error {
	err := s.db.Model(&models.SchedulerCheckpoint{}).
		Where("job = ?", job).
		Updates(map[string]interface{}{
			"last_execution_date": executionDate,
			"last_trigger_time":   triggerTime,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", job, err)
	}
	return nil
}
