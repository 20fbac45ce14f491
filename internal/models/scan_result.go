package models

import "gorm.io/gorm"

// Entry methods for resolving a buy price at execution time.
const (
	EntryMarketOpen   = "market_open"
	EntryPrevClose    = "prev_close"
	EntryLimitPremium = "limit_premium"
)

// A/B cohort tags. Group A buys at end of day, Group B at start of the
// next day after a fresh re-verification.
const (
	GroupA = "A"
	GroupB = "B"
)

// ScanResult is the outcome of one qualification pass for one symbol.
// Criteria1..8 mirror the eight momentum checks so the UI can show which
// one failed.
type ScanResult struct {
	gorm.Model
	ScanDate      string  `gorm:"uniqueIndex:idx_scan_symbol_date" json:"scan_date"` // YYYY-MM-DD
	Symbol        string  `gorm:"uniqueIndex:idx_scan_symbol_date" json:"symbol"`
	Price         float64 `json:"price"`
	Week52High    float64 `gorm:"column:week_52_high" json:"week_52_high"`
	Week52Low     float64 `gorm:"column:week_52_low" json:"week_52_low"`
	MA50          float64 `gorm:"column:ma_50" json:"ma_50"`
	MA150         float64 `gorm:"column:ma_150" json:"ma_150"`
	MA200         float64 `gorm:"column:ma_200" json:"ma_200"`
	MA200MonthAgo float64 `gorm:"column:ma_200_1m_ago" json:"ma_200_1m_ago"`
	Volume        int64   `json:"volume"`
	AvgVolume50   int64   `gorm:"column:avg_volume_50" json:"avg_volume_50"`
	Criteria1     bool    `gorm:"column:criteria_1" json:"criteria_1"`
	Criteria2     bool    `gorm:"column:criteria_2" json:"criteria_2"`
	Criteria3     bool    `gorm:"column:criteria_3" json:"criteria_3"`
	Criteria4     bool    `gorm:"column:criteria_4" json:"criteria_4"`
	Criteria5     bool    `gorm:"column:criteria_5" json:"criteria_5"`
	Criteria6     bool    `gorm:"column:criteria_6" json:"criteria_6"`
	Criteria7     bool    `gorm:"column:criteria_7" json:"criteria_7"`
	Criteria8     bool    `gorm:"column:criteria_8" json:"criteria_8"`
	Qualified     bool    `json:"qualified"`
	Action        string  `json:"action"`

	// User / execution state layered on top of the raw scan.
	Override      bool   `json:"override"`                                      // user vetoed this candidate
	EntryMethod   string `json:"entry_method"`                                  // empty = use configured default
	InPortfolio   bool   `json:"in_portfolio"`                                  // symbol currently held
	ABGroup       string `gorm:"column:ab_group" json:"ab_group"`               // "A" | "B" | "" when A/B is off
	EODBuyPending bool   `gorm:"column:eod_buy_pending" json:"eod_buy_pending"` // Group A awaiting the EOD pass
	SODSkipReason string `gorm:"column:sod_skip_reason" json:"sod_skip_reason"` // why a Group B buy was skipped
}
