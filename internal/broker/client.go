package broker

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"momentum-trader-go/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Order sides and types.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeMarket = "MKT"
	OrderTypeLimit  = "LMT"
)

// Order lifecycle statuses reported by the gateway. Placement returns
// immediately with a pending handle; the status and average fill price are
// updated asynchronously and must be polled.
const (
	StatusSubmitted    = "Submitted"
	StatusPreSubmitted = "PreSubmitted"
	StatusFilled       = "Filled"
	StatusCancelled    = "Cancelled"
	StatusAPICancelled = "ApiCancelled"
	StatusInactive     = "Inactive"
	StatusError        = "Error"
)

// Bar is one daily OHLCV bar as returned by the gateway.
type Bar struct {
	Date   string  `json:"date"` // YYYY-MM-DD
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// OrderHandle is the ephemeral view of an order at the broker. It is never
// persisted; the realized fill price is folded into the trade record once
// the fill poller resolves it.
type OrderHandle struct {
	OrderID      string  `json:"order_id"`
	Symbol       string  `json:"symbol"`
	Status       string  `json:"status"`
	Filled       int     `json:"filled"`
	AvgFillPrice float64 `json:"avg_fill_price"`
	LimitPrice   float64 `json:"limit_price,omitempty"`
}

// Broker is the capability surface the bot consumes. The production
// implementation is the REST Client below; tests substitute a mock.
type Broker interface {
	Connect() error
	IsConnected() bool
	FetchHistoricalBars(symbol, duration string) ([]Bar, error)
	FetchPrice(symbol string) (float64, error)
	FetchPrices(symbols []string) (map[string]float64, error)
	PlaceMarketOrder(symbol string, quantity int, side string) (*OrderHandle, error)
	PlaceLimitOrder(symbol string, quantity int, side string, limitPrice float64) (*OrderHandle, error)
	OrderStatus(orderID string) (*OrderHandle, error)
}

// Client talks to the brokerage gateway's local REST bridge.
//
// Connection state is a single owned value behind IsConnected: it is only
// mutated here, synced from what the gateway actually reports, so the
// update runner and the scanner can never disagree about connectivity.
type Client struct {
	client    *resty.Client
	accountID string
	logger    *zap.Logger
	limiter   *rate.Limiter

	mu        sync.Mutex
	connected bool
}

// ensure Client implements the interface
var _ Broker = (*Client)(nil)

// NewClient creates a new gateway REST client.
func NewClient(cfg *config.Gateway, logger *zap.Logger) *Client {
	client := resty.New().SetBaseURL(cfg.BaseURL)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		client:    client,
		accountID: cfg.AccountID,
		logger:    logger,
		limiter:   limiter,
	}
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

type sessionResponse struct {
	Session       string `json:"session"`
	Authenticated bool   `json:"authenticated"`
	Connected     bool   `json:"connected"`
}

// Connect establishes (or re-validates) the gateway session.
func (c *Client) Connect() error {
	req := c.client.R().SetResult(&sessionResponse{})

	resp, err := c.doRequest(context.Background(), "POST", "/session/connect", req)
	if err != nil {
		c.setConnected(false)
		return fmt.Errorf("failed to connect to gateway: %w", err)
	}

	session := resp.Result().(*sessionResponse)
	if !session.Connected {
		c.setConnected(false)
		return fmt.Errorf("gateway session not connected (authenticated=%v)", session.Authenticated)
	}

	c.setConnected(true)
	c.logger.Info("Connected to brokerage gateway", zap.String("account", c.accountID))
	return nil
}

// IsConnected reports the last known session state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// FetchHistoricalBars fetches daily bars for a symbol over the given
// gateway duration window (e.g. "15 D", "1 Y").
func (c *Client) FetchHistoricalBars(symbol, duration string) ([]Bar, error) {
	var bars []Bar

	req := c.client.R().
		SetResult(&bars).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"duration": duration,
			"bar_size": "1 day",
		})

	_, err := c.doRequest(context.Background(), "GET", "/history/bars", req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bars for %s: %w", symbol, err)
	}

	c.logger.Debug("Fetched historical bars",
		zap.String("symbol", symbol),
		zap.String("duration", duration),
		zap.Int("count", len(bars)))
	return bars, nil
}

type snapshotEntry struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
}

// FetchPrice returns the live price for one symbol, or an error when the
// gateway has no valid quote.
func (c *Client) FetchPrice(symbol string) (float64, error) {
	prices, err := c.FetchPrices([]string{symbol})
	if err != nil {
		return 0, err
	}
	price, ok := prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no live price for %s", symbol)
	}
	return price, nil
}

// FetchPrices returns live prices for many symbols in one round-trip.
// Symbols without a usable quote (zero, NaN or Inf from halted or illiquid
// names) are simply absent from the result.
func (c *Client) FetchPrices(symbols []string) (map[string]float64, error) {
	var snapshot []snapshotEntry

	req := c.client.R().
		SetResult(&snapshot).
		SetQueryParam("symbols", strings.Join(symbols, ","))

	_, err := c.doRequest(context.Background(), "GET", "/marketdata/snapshot", req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}

	prices := make(map[string]float64, len(snapshot))
	for _, entry := range snapshot {
		if entry.Last > 0 && !math.IsNaN(entry.Last) && !math.IsInf(entry.Last, 0) {
			prices[entry.Symbol] = entry.Last
		}
	}

	c.logger.Debug("Fetched live prices",
		zap.Int("requested", len(symbols)),
		zap.Int("received", len(prices)))
	return prices, nil
}

type orderRequest struct {
	AccountID  string  `json:"account_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	OrderType  string  `json:"order_type"`
	Quantity   int     `json:"quantity"`
	LimitPrice float64 `json:"limit_price,omitempty"`
}

// PlaceMarketOrder submits a market order and returns the pending handle.
func (c *Client) PlaceMarketOrder(symbol string, quantity int, side string) (*OrderHandle, error) {
	return c.placeOrder(orderRequest{
		AccountID: c.accountID,
		Symbol:    symbol,
		Side:      side,
		OrderType: OrderTypeMarket,
		Quantity:  quantity,
	})
}

// PlaceLimitOrder submits a limit order and returns the pending handle.
func (c *Client) PlaceLimitOrder(symbol string, quantity int, side string, limitPrice float64) (*OrderHandle, error) {
	return c.placeOrder(orderRequest{
		AccountID:  c.accountID,
		Symbol:     symbol,
		Side:       side,
		OrderType:  OrderTypeLimit,
		Quantity:   quantity,
		LimitPrice: math.Round(limitPrice*100) / 100,
	})
}

func (c *Client) placeOrder(order orderRequest) (*OrderHandle, error) {
	req := c.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(order).
		SetResult(&OrderHandle{})

	resp, err := c.doRequest(context.Background(), "POST", "/orders", req)
	if err != nil {
		c.logger.Error("Failed to place order",
			zap.String("symbol", order.Symbol),
			zap.String("side", order.Side),
			zap.Error(err))
		return nil, fmt.Errorf("failed to place %s %s order: %w", order.OrderType, order.Side, err)
	}

	handle := resp.Result().(*OrderHandle)
	c.logger.Info("Order placed",
		zap.String("order_id", handle.OrderID),
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.String("type", order.OrderType),
		zap.Int("quantity", order.Quantity),
		zap.String("status", handle.Status))
	return handle, nil
}

// OrderStatus fetches the current state of a previously placed order. Each
// call is one gateway round-trip; the fill poller drives this repeatedly
// because fill confirmations arrive asynchronously.
func (c *Client) OrderStatus(orderID string) (*OrderHandle, error) {
	req := c.client.R().SetResult(&OrderHandle{})

	resp, err := c.doRequest(context.Background(), "GET", "/orders/"+orderID, req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %s: %w", orderID, err)
	}

	return resp.Result().(*OrderHandle), nil
}
