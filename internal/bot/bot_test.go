package bot

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"momentum-trader-go/internal/broker"
	"momentum-trader-go/internal/config"
	"momentum-trader-go/internal/database"
	"momentum-trader-go/internal/models"
	"momentum-trader-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MockBroker is a mock implementation of the broker.Broker interface.
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Connect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockBroker) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockBroker) FetchHistoricalBars(symbol, duration string) ([]broker.Bar, error) {
	args := m.Called(symbol, duration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]broker.Bar), args.Error(1)
}

func (m *MockBroker) FetchPrice(symbol string) (float64, error) {
	args := m.Called(symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockBroker) FetchPrices(symbols []string) (map[string]float64, error) {
	args := m.Called(symbols)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]float64), args.Error(1)
}

func (m *MockBroker) PlaceMarketOrder(symbol string, quantity int, side string) (*broker.OrderHandle, error) {
	args := m.Called(symbol, quantity, side)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broker.OrderHandle), args.Error(1)
}

func (m *MockBroker) PlaceLimitOrder(symbol string, quantity int, side string, limitPrice float64) (*broker.OrderHandle, error) {
	args := m.Called(symbol, quantity, side, limitPrice)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broker.OrderHandle), args.Error(1)
}

func (m *MockBroker) OrderStatus(orderID string) (*broker.OrderHandle, error) {
	args := m.Called(orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broker.OrderHandle), args.Error(1)
}

// recordingHub captures broadcasts for assertions on event ordering.
type recordingHub struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHub) Broadcast(eventType string, data interface{}) {
	h.mu.Lock()
	h.events = append(h.events, eventType)
	h.mu.Unlock()
}

func (h *recordingHub) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	copy(out, h.events)
	return out
}

// setupBot creates a bot over a fresh in-memory DB, a mock broker and a
// recording hub, with the clock pinned to a weekday.
func setupBot(t *testing.T) (*Bot, *MockBroker, *recordingHub, *store.Store) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	// Each pool connection to an in-memory sqlite gets its own database, so
	// pin the pool to one.
	sqlDB, err := db.DB()
	assert.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	assert.NoError(t, database.AutoMigrate(db))

	st := store.New(db)
	settings, err := st.GetSettings()
	assert.NoError(t, err)
	settings.AutoExecute = true
	assert.NoError(t, st.UpdateSettings(settings))

	mockBroker := new(MockBroker)
	hub := &recordingHub{}
	cfg := &config.Config{Gateway: config.Gateway{FillTimeoutSec: 1}}

	b := New(zap.NewNop(), cfg, st, mockBroker, hub)
	// Tuesday 2024-06-18 10:00 UTC, a regular trading day.
	b.now = func() time.Time {
		return time.Date(2024, 6, 18, 10, 0, 0, 0, time.UTC)
	}
	return b, mockBroker, hub, st
}

// seedBars inserts a flat-then-rising history long enough for every
// criterion to be computable. The final close is finalClose and the final
// bar's volume is finalVolume.
func seedBars(t *testing.T, st *store.Store, symbol string, count int, finalClose float64, finalVolume int64) {
	bars := make([]models.DailyBar, 0, count)
	base := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		// A steady uptrend keeps every moving average below the last price.
		price := finalClose * (0.5 + 0.5*float64(i+1)/float64(count))
		volume := int64(1000)
		if i == count-1 {
			price = finalClose
			volume = finalVolume
		}
		bars = append(bars, models.DailyBar{
			Symbol:      symbol,
			TradingDate: base.AddDate(0, 0, i).Format("2006-01-02"),
			Open:        price,
			High:        price * 1.01,
			Low:         price * 0.99,
			Close:       price,
			Volume:      volume,
		})
	}
	assert.NoError(t, st.SaveDailyBars(bars))
}

// seedQualifiedScan inserts a qualified scan result for today.
func seedQualifiedScan(t *testing.T, b *Bot, st *store.Store, symbol string, price float64) *models.ScanResult {
	result := &models.ScanResult{
		ScanDate:  b.now().Format("2006-01-02"),
		Symbol:    symbol,
		Price:     price,
		Qualified: true,
		Action:    "BUY",
	}
	assert.NoError(t, st.SaveScanResult(result))
	return result
}

func handleFor(symbol string, status string, fillPrice float64) *broker.OrderHandle {
	return &broker.OrderHandle{
		OrderID:      fmt.Sprintf("ord-%s", symbol),
		Symbol:       symbol,
		Status:       status,
		AvgFillPrice: fillPrice,
	}
}
