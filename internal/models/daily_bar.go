package models

import "gorm.io/gorm"

// DailyBar is one completed regular-hours session for a symbol.
// Unique per (symbol, trading_date); a later fetch for the same date
// overwrites the stored values (upsert semantics).
type DailyBar struct {
	gorm.Model
	Symbol      string  `gorm:"uniqueIndex:idx_bar_symbol_date" json:"symbol"`
	TradingDate string  `gorm:"uniqueIndex:idx_bar_symbol_date" json:"trading_date"` // YYYY-MM-DD
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      int64   `json:"volume"`
}
