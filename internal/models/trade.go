package models

import "gorm.io/gorm"

// Trade statuses.
const (
	TradeOpen   = "OPEN"
	TradeClosed = "CLOSED"
)

// Trade is the full lifecycle record of one position, retained after close.
// StopLoss is frozen onto the row when the trade closes so that reopening a
// mistakenly-closed trade restores the original risk parameter rather than
// whatever the config default has drifted to since.
type Trade struct {
	gorm.Model
	Symbol         string  `gorm:"index" json:"symbol"`
	EntryDate      string  `json:"entry_date"` // YYYY-MM-DD
	EntryPrice     float64 `json:"entry_price"`
	SubmittedPrice float64 `json:"submitted_price"`
	Quantity       int     `json:"quantity"`
	CostBasis      float64 `json:"cost_basis"`
	StopLoss       float64 `json:"stop_loss"`
	Status         string  `gorm:"default:OPEN" json:"status"`
	ExitDate       string  `json:"exit_date"`
	ExitPrice      float64 `json:"exit_price"`
	Proceeds       float64 `json:"proceeds"`
	PnL            float64 `gorm:"column:pnl" json:"pnl"`
	PnLPct         float64 `gorm:"column:pnl_pct" json:"pnl_pct"`
	ExitReason     string  `json:"exit_reason"`
}
