package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"momentum-trader-go/internal/bot"
	"momentum-trader-go/internal/broker"
	"momentum-trader-go/internal/config"
	"momentum-trader-go/internal/database"
	"momentum-trader-go/internal/models"
	"momentum-trader-go/internal/store"
	"momentum-trader-go/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// stubBroker satisfies broker.Broker for endpoints that never reach it.
type stubBroker struct{}

func (stubBroker) Connect() error    { return nil }
func (stubBroker) IsConnected() bool { return false }
func (stubBroker) FetchHistoricalBars(string, string) ([]broker.Bar, error) {
	return nil, nil
}
func (stubBroker) FetchPrice(string) (float64, error) { return 0, nil }
func (stubBroker) FetchPrices([]string) (map[string]float64, error) {
	return nil, nil
}
func (stubBroker) PlaceMarketOrder(string, int, string) (*broker.OrderHandle, error) {
	return nil, nil
}
func (stubBroker) PlaceLimitOrder(string, int, string, float64) (*broker.OrderHandle, error) {
	return nil, nil
}
func (stubBroker) OrderStatus(string) (*broker.OrderHandle, error) { return nil, nil }

func setupServer(t *testing.T) (*gin.Engine, *store.Store) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	// Each pool connection to an in-memory sqlite gets its own database, so
	// pin the pool to one.
	sqlDB, err := db.DB()
	assert.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	assert.NoError(t, database.AutoMigrate(db))

	logger := zap.NewNop()
	st := store.New(db)
	hub := ws.NewHub(logger)
	b := bot.New(logger, &config.Config{}, st, stubBroker{}, hub)

	return New(logger, st, b, hub).Router(), st
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		assert.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	router, _ := setupServer(t)

	w := doJSON(t, router, http.MethodGet, "/api/status", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["broker_connected"])
	assert.Equal(t, false, resp["scanner_running"])
	assert.Equal(t, float64(0), resp["open_positions"])
}

func TestTickerEndpoints(t *testing.T) {
	router, st := setupServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/tickers",
		map[string]string{"symbol": "AAPL", "name": "Apple", "sector": "Tech"})
	assert.Equal(t, http.StatusCreated, w.Code)

	// Missing symbol is rejected by binding.
	w = doJSON(t, router, http.MethodPost, "/api/tickers", map[string]string{"name": "Nameless"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/tickers", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "AAPL")

	w = doJSON(t, router, http.MethodDelete, "/api/tickers/AAPL", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	active, err := st.ActiveTickers()
	assert.NoError(t, err)
	assert.Empty(t, active)
}

func TestManualExecutionHonorsAutoExecute(t *testing.T) {
	// Default settings leave auto_execute off, so a manual run reports
	// skipped instead of placing orders.
	router, _ := setupServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/execute/run", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["skipped"])
}

func TestConfigPartialUpdate(t *testing.T) {
	router, st := setupServer(t)

	w := doJSON(t, router, http.MethodPut, "/api/config",
		map[string]interface{}{"max_positions": 5})
	assert.Equal(t, http.StatusOK, w.Code)

	settings, err := st.GetSettings()
	assert.NoError(t, err)
	assert.Equal(t, 5, settings.MaxPositions)
	// Untouched fields keep their values.
	assert.Equal(t, models.EntryPrevClose, settings.DefaultEntryMethod)
}

func TestEntryMethodValidation(t *testing.T) {
	router, st := setupServer(t)
	assert.NoError(t, st.SaveScanResult(&models.ScanResult{
		ScanDate: "2024-06-18", Symbol: "AAPL", Qualified: true,
	}))

	w := doJSON(t, router, http.MethodPost, "/api/scan/AAPL/entry-method",
		map[string]string{"method": "yolo"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/scan/AAPL/entry-method",
		map[string]string{"method": models.EntryLimitPremium})
	assert.Equal(t, http.StatusOK, w.Code)

	results, err := st.LatestScanResults()
	assert.NoError(t, err)
	assert.Equal(t, models.EntryLimitPremium, results[0].EntryMethod)
}

func TestClosePositionFlagsPendingExit(t *testing.T) {
	router, st := setupServer(t)
	assert.NoError(t, st.SavePosition(&models.Position{Symbol: "AAPL", Quantity: 10}))

	w := doJSON(t, router, http.MethodPost, "/api/positions/AAPL/close", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	pending, err := st.PendingExitPositions()
	assert.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, models.ExitManualClose, pending[0].ExitReason)

	// No such position.
	w = doJSON(t, router, http.MethodPost, "/api/positions/GHOST/close", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReopenTradeEndpoint(t *testing.T) {
	router, st := setupServer(t)
	tradeID, err := st.CreateTrade(&models.Trade{Symbol: "AAPL", Quantity: 10, StopLoss: 46})
	assert.NoError(t, err)
	assert.NoError(t, st.CloseTradeAndPosition(tradeID, "AAPL", "2024-06-17", 50, 500, 40, 8, models.ExitManualClose, 46))

	w := doJSON(t, router, http.MethodPost, "/api/trades/abc/reopen", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/trades/1/reopen", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	open, err := st.OpenPositions()
	assert.NoError(t, err)
	assert.Len(t, open, 1)
	assert.Equal(t, 46.0, open[0].StopLoss)

	// The trade is open again, so a second reopen is rejected.
	w = doJSON(t, router, http.MethodPost, "/api/trades/1/reopen", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTradesQuery(t *testing.T) {
	router, st := setupServer(t)
	_, err := st.CreateTrade(&models.Trade{Symbol: "AAPL", Quantity: 10})
	assert.NoError(t, err)
	tradeID, err := st.CreateTrade(&models.Trade{Symbol: "MSFT", Quantity: 5})
	assert.NoError(t, err)
	assert.NoError(t, st.CloseTradeAndPosition(tradeID, "MSFT", "2024-06-17", 10, 50, 0, 0, models.ExitStopLoss, 9))

	w := doJSON(t, router, http.MethodGet, "/api/trades?status=CLOSED", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "MSFT")
	assert.NotContains(t, w.Body.String(), "AAPL")

	w = doJSON(t, router, http.MethodGet, "/api/trades?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
