package schedule

import (
	"fmt"
	"time"
)

const (
	// BootstrapDuration is the full lookback fetched for a symbol with no
	// stored history, and the hard cap for very stale symbols.
	BootstrapDuration = "1 Y"

	// maxFetchDays is the day-count equivalent of the bootstrap window.
	maxFetchDays = 365

	// gapBufferDays absorbs weekends and market holidays so a single fetch
	// reliably covers the true gap.
	gapBufferDays = 5
)

// LastCompletedTradingDay returns the most recent session whose daily bar
// is final, in exchange-local time. The exchange only publishes a bar for a
// session after its regular-hours close, so a same-day in-progress bar must
// never be treated as stored history:
//
//	weekday  -> yesterday
//	Saturday -> Friday
//	Sunday   -> Friday
func LastCompletedTradingDay(now time.Time) time.Time {
	now = now.In(marketTZ)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, marketTZ)
	switch today.Weekday() {
	case time.Saturday:
		return today.AddDate(0, 0, -1)
	case time.Sunday:
		return today.AddDate(0, 0, -2)
	default:
		return today.AddDate(0, 0, -1)
	}
}

// daysBetween counts calendar days from a to b, robust to DST-shortened or
// -lengthened days in the market zone.
func daysBetween(a, b time.Time) int {
	au := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bu := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bu.Sub(au).Hours() / 24)
}

// FetchWindow computes the broker duration string covering the gap between
// the last stored bar and the last completed trading day.
//
// It returns "" when the symbol is already current (no fetch needed),
// BootstrapDuration when there is no stored history at all or the padded
// gap reaches the cap, and "N D" otherwise where N includes the
// weekend/holiday buffer.
func FetchWindow(lastStored *time.Time, lastCompleted time.Time) string {
	if lastStored == nil {
		return BootstrapDuration
	}

	gapDays := daysBetween(*lastStored, lastCompleted)
	if gapDays <= 0 {
		return ""
	}

	fetchDays := gapDays + gapBufferDays
	if fetchDays >= maxFetchDays {
		return BootstrapDuration
	}
	return fmt.Sprintf("%d D", fetchDays)
}
