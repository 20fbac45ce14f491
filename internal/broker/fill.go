package broker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// fillPollInterval is how often the poller asks the gateway for order state.
const fillPollInterval = time.Second

// terminalNoFill are the statuses that end polling with no fill price.
var terminalNoFill = map[string]bool{
	StatusCancelled:    true,
	StatusAPICancelled: true,
	StatusInactive:     true,
	StatusError:        true,
}

// AwaitFill polls an order until it fills, reaches a cancellation-class
// status, the timeout expires, or ctx is cancelled. It returns the realized
// average fill price, or 0 when no fill was confirmed.
//
// 0 is a sentinel, not an error: a limit order may still fill after we stop
// waiting, and the caller records the submitted price instead of blocking
// indefinitely.
func AwaitFill(ctx context.Context, b Broker, handle *OrderHandle, timeout time.Duration, logger *zap.Logger) float64 {
	l := logger.With(zap.String("order_id", handle.OrderID), zap.String("symbol", handle.Symbol))

	// Some gateways report the fill synchronously on placement.
	if handle.Status == StatusFilled && handle.AvgFillPrice > 0 {
		return handle.AvgFillPrice
	}
	if terminalNoFill[handle.Status] {
		l.Warn("Order ended without a fill", zap.String("status", handle.Status))
		return 0
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(fillPollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			l.Warn("Fill poll cancelled", zap.String("status", handle.Status))
			return 0
		case <-ticker.C:
		}

		latest, err := b.OrderStatus(handle.OrderID)
		if err != nil {
			l.Warn("Fill poll request failed", zap.Error(err))
			continue
		}
		handle.Status = latest.Status
		handle.Filled = latest.Filled
		handle.AvgFillPrice = latest.AvgFillPrice

		if latest.Status == StatusFilled && latest.AvgFillPrice > 0 {
			l.Info("Order filled", zap.Float64("avg_fill_price", latest.AvgFillPrice))
			return latest.AvgFillPrice
		}

		if terminalNoFill[latest.Status] {
			l.Warn("Order ended without a fill", zap.String("status", latest.Status))
			return 0
		}
	}

	l.Warn("Fill not confirmed within timeout", zap.Duration("timeout", timeout), zap.String("status", handle.Status))
	return 0
}
