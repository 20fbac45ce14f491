package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"momentum-trader-go/internal/bot"
	"momentum-trader-go/internal/models"
	"momentum-trader-go/internal/store"
	"momentum-trader-go/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server exposes the REST and websocket API over the bot and its store.
type Server struct {
	logger *zap.Logger
	store  *store.Store
	bot    *bot.Bot
	hub    *ws.Hub
}

// New creates a Server.
func New(logger *zap.Logger, st *store.Store, b *bot.Bot, hub *ws.Hub) *Server {
	return &Server{
		logger: logger.Named("server"),
		store:  st,
		bot:    b,
		hub:    hub,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.GET("/status", s.getStatus)

		tickers := api.Group("/tickers")
		{
			tickers.GET("", s.getTickers)
			tickers.POST("", s.addTicker)
			tickers.DELETE("/:symbol", s.removeTicker)
		}

		scan := api.Group("/scan")
		{
			scan.GET("/results", s.getScanResults)
			scan.POST("/run", s.runScan)
			scan.POST("/start", s.startScanner)
			scan.POST("/stop", s.stopScanner)
			scan.POST("/:symbol/override", s.setOverride)
			scan.POST("/:symbol/entry-method", s.setEntryMethod)
		}

		positions := api.Group("/positions")
		{
			positions.GET("", s.getPositions)
			positions.POST("/:symbol/close", s.closePosition)
		}

		trades := api.Group("/trades")
		{
			trades.GET("", s.getTrades)
			trades.POST("/:id/reopen", s.reopenTrade)
		}

		api.GET("/config", s.getConfig)
		api.PUT("/config", s.updateConfig)

		api.POST("/update/run", s.runDataUpdate)
		api.POST("/execute/run", s.runExecution)
		api.POST("/execute/eod", s.runEODExecution)
	}

	router.GET("/ws", func(c *gin.Context) {
		s.hub.Handle(c.Writer, c.Request)
	})

	return router
}

// GET /api/status
func (s *Server) getStatus(c *gin.Context) {
	updateStatus, err := s.store.GetUpdateStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	open, err := s.store.OpenPositions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"broker_connected": s.bot.BrokerConnected(),
		"scanner_running":  s.bot.ScannerRunning(),
		"market_healthy":   s.bot.MarketHealthy(),
		"update_status":    updateStatus,
		"open_positions":   len(open),
		"last_execution":   s.bot.LastExecution(),
		"ws_clients":       s.hub.ClientCount(),
	})
}

// GET /api/tickers
func (s *Server) getTickers(c *gin.Context) {
	tickers, err := s.store.AllTickers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tickers})
}

// POST /api/tickers
func (s *Server) addTicker(c *gin.Context) {
	var req struct {
		Symbol string `json:"symbol" binding:"required"`
		Name   string `json:"name"`
		Sector string `json:"sector"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.AddTicker(req.Symbol, req.Name, req.Sector); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"symbol": req.Symbol})
}

// DELETE /api/tickers/:symbol
func (s *Server) removeTicker(c *gin.Context) {
	if err := s.store.RemoveTicker(c.Param("symbol")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": c.Param("symbol")})
}

// GET /api/scan/results?date=YYYY-MM-DD
func (s *Server) getScanResults(c *gin.Context) {
	var (
		results []models.ScanResult
		err     error
	)
	if date := c.Query("date"); date != "" {
		results, err = s.store.ScanResults(date)
	} else {
		results, err = s.store.LatestScanResults()
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": results})
}

// POST /api/scan/run
func (s *Server) runScan(c *gin.Context) {
	outcome, err := s.bot.RunScan(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": outcome})
}

// POST /api/scan/start
func (s *Server) startScanner(c *gin.Context) {
	if err := s.bot.StartScanner(context.Background()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": true})
}

// POST /api/scan/stop
func (s *Server) stopScanner(c *gin.Context) {
	s.bot.StopScanner()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

// POST /api/scan/:symbol/override
func (s *Server) setOverride(c *gin.Context) {
	var req struct {
		Override bool `json:"override"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.SetScanOverride(c.Param("symbol"), req.Override); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": c.Param("symbol"), "override": req.Override})
}

// POST /api/scan/:symbol/entry-method
func (s *Server) setEntryMethod(c *gin.Context) {
	var req struct {
		Method string `json:"method" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Method {
	case models.EntryMarketOpen, models.EntryPrevClose, models.EntryLimitPremium:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown entry method: " + req.Method})
		return
	}
	if err := s.store.SetScanEntryMethod(c.Param("symbol"), req.Method); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": c.Param("symbol"), "method": req.Method})
}

// GET /api/positions
func (s *Server) getPositions(c *gin.Context) {
	positions, err := s.store.OpenPositions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": positions})
}

// POST /api/positions/:symbol/close
//
// The position is flagged and sold on the next execution pass, not
// liquidated inline, so manual closes share the fill and accounting path
// with automatic exits.
func (s *Server) closePosition(c *gin.Context) {
	symbol := c.Param("symbol")
	if err := s.store.FlagPendingExit(symbol, models.ExitManualClose); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"symbol": symbol, "pending_exit": true})
}

// GET /api/trades?status=OPEN&limit=50
func (s *Server) getTrades(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	trades, err := s.store.Trades(c.Query("status"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trades})
}

// POST /api/trades/:id/reopen
func (s *Server) reopenTrade(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade id"})
		return
	}
	pos, err := s.store.ReopenTrade(uint(id))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrPositionExists) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": pos})
}

// GET /api/config
func (s *Server) getConfig(c *gin.Context) {
	settings, err := s.store.GetSettings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": settings})
}

// PUT /api/config
//
// The request body is bound over the current row, so a partial body only
// changes the fields it names. Scheduler loops re-read settings every
// iteration and pick the change up without a restart.
func (s *Server) updateConfig(c *gin.Context) {
	settings, err := s.store.GetSettings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := c.ShouldBindJSON(settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.UpdateSettings(settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": settings})
}

// POST /api/update/run
func (s *Server) runDataUpdate(c *gin.Context) {
	go func() {
		if _, err := s.bot.RunDataUpdate(context.Background()); err != nil {
			s.logger.Error("Manual data update failed", zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"started": true})
}

// POST /api/execute/run
//
// The auto_execute gate lives in the coordinator, so a manual run while it
// is disabled reports skipped instead of placing orders.
func (s *Server) runExecution(c *gin.Context) {
	summary, err := s.bot.RunOrderExecution(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if summary == nil {
		c.JSON(http.StatusOK, gin.H{"skipped": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}

// POST /api/execute/eod
func (s *Server) runEODExecution(c *gin.Context) {
	summary, err := s.bot.RunEODExecution(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if summary == nil {
		c.JSON(http.StatusOK, gin.H{"skipped": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}
