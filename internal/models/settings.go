package models

import "gorm.io/gorm"

// Settings is the single runtime-tunable configuration row. Unlike the
// static config file, these values are re-read by the scheduler loops every
// iteration so a change from the UI takes effect without a restart.
type Settings struct {
	gorm.Model
	AutoExecute        bool    `gorm:"default:false" json:"auto_execute"`
	PaperTrading       bool    `gorm:"default:true" json:"paper_trading"`
	MaxPositions       int     `gorm:"default:16" json:"max_positions"`
	PositionSizeUSD    float64 `gorm:"column:position_size_usd;default:10000" json:"position_size_usd"`
	StopLossPct        float64 `gorm:"default:8" json:"stop_loss_pct"`
	DefaultEntryMethod string  `gorm:"default:prev_close" json:"default_entry_method"`
	LimitPremiumPct    float64 `gorm:"default:1" json:"limit_premium_pct"`
	DataUpdateTime     string  `json:"data_update_time"`     // HH:MM exchange-local
	OrderExecutionTime string  `json:"order_execution_time"` // HH:MM exchange-local
	EODExecutionTime   string  `json:"eod_execution_time"`   // HH:MM exchange-local
	ABTestEnabled      bool    `gorm:"default:false" json:"ab_test_enabled"`
	ScanIntervalMin    int     `gorm:"default:30" json:"scan_interval_minutes"`
}
