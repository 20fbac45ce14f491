package models

import "gorm.io/gorm"

// Position statuses.
const (
	PositionOpen   = "OPEN"
	PositionClosed = "CLOSED"
)

// Exit reasons set by the position monitor (or a manual close).
const (
	ExitStopLoss    = "STOP_LOSS"
	ExitTrendBreak  = "TREND_BREAK"
	ExitManualClose = "MANUAL_CLOSE"
)

// Position is an open holding. At most one OPEN row exists per symbol;
// that invariant is enforced by the store, not the schema, because closed
// rows for the same symbol are kept.
//
// EntryPrice is the realized broker fill; SubmittedPrice is what the order
// asked for. Both are recorded so P&L audits can separate slippage from
// strategy performance.
type Position struct {
	gorm.Model
	Symbol         string  `gorm:"index" json:"symbol"`
	EntryDate      string  `json:"entry_date"` // YYYY-MM-DD
	EntryPrice     float64 `json:"entry_price"`
	SubmittedPrice float64 `json:"submitted_price"`
	Quantity       int     `json:"quantity"`
	StopLoss       float64 `json:"stop_loss"`
	CostBasis      float64 `json:"cost_basis"`
	Status         string  `gorm:"default:OPEN" json:"status"`
	PendingExit    bool    `json:"pending_exit"`
	ExitReason     string  `json:"exit_reason"`
	TradeID        uint    `json:"trade_id"`
}
